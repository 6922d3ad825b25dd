package queue

import (
	"context"
	"encoding/json"

	"github.com/flowledger/flowledger/internal/batching"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/security"
)

// DefaultDeadLetterKey is the Redis list the engine's failed sub-batches
// land on when no other key is configured.
const DefaultDeadLetterKey = "flowledger:deadletter"

// DeadLetterQueue is a Redis-backed batching.DeadLetterSink. Records are
// LPUSHed so index 0 is always the newest; the list is trimmed to a
// configured ceiling because dead letters are diagnostic samples, not a
// durable archive (the ledger's failure entries are).
type DeadLetterQueue struct {
	redis  *RedisClient
	key    string
	maxLen int64
	crypto *security.EncryptionService
	logger *logging.Logger
}

// NewDeadLetterQueue creates a dead letter queue on the given Redis list.
// maxLen <= 0 disables trimming.
func NewDeadLetterQueue(redis *RedisClient, key string, maxLen int64, logger *logging.Logger) *DeadLetterQueue {
	if key == "" {
		key = DefaultDeadLetterKey
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &DeadLetterQueue{
		redis:  redis,
		key:    key,
		maxLen: maxLen,
		logger: logger,
	}
}

// WithEncryption makes the queue seal item samples of confidential and
// restricted batches before they reach Redis. Without it, records that
// require sealing are stored with their samples stripped.
func (q *DeadLetterQueue) WithEncryption(crypto *security.EncryptionService) *DeadLetterQueue {
	q.crypto = crypto
	return q
}

// Push stores one dead letter record. Trimming failures are logged, not
// returned: the record itself made it in.
func (q *DeadLetterQueue) Push(ctx context.Context, record batching.DeadLetterRecord) error {
	if err := q.sealSample(&record); err != nil {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.NewInternalError("failed to encode dead letter record").WithCause(err)
	}

	if err := q.redis.LPush(ctx, q.key, payload); err != nil {
		return err
	}

	if q.maxLen > 0 {
		if err := q.redis.LTrim(ctx, q.key, 0, q.maxLen-1); err != nil {
			q.logger.WithComponent("dead_letter_queue").WithError(err).Warn("failed to trim dead letter list")
		}
	}

	q.logger.LogBatchEvent(ctx, "dead_letter_stored", record.BatchID, record.Strategy, logging.Fields{
		"failure_type": record.FailureType,
		"item_count":   record.ItemCount,
	})
	return nil
}

// Len returns the number of stored records.
func (q *DeadLetterQueue) Len(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.key)
}

// Peek returns up to n records, newest first, without removing them.
func (q *DeadLetterQueue) Peek(ctx context.Context, n int64) ([]batching.DeadLetterRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	values, err := q.redis.LRange(ctx, q.key, 0, n-1)
	if err != nil {
		return nil, err
	}

	records := make([]batching.DeadLetterRecord, 0, len(values))
	for _, value := range values {
		var record batching.DeadLetterRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, errors.NewInternalError("failed to decode dead letter record").WithCause(err)
		}
		if err := q.openSample(&record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// PopOldest removes and returns the oldest record so a caller can feed its
// item sample back through the engine. Returns nil when the queue is empty.
func (q *DeadLetterQueue) PopOldest(ctx context.Context) (*batching.DeadLetterRecord, error) {
	value, err := q.redis.RPop(ctx, q.key)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var record batching.DeadLetterRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, errors.NewInternalError("failed to decode dead letter record").WithCause(err)
	}
	if err := q.openSample(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// sealSample protects the item sample of records that require it. Whatever
// reaches Redis for a confidential batch is either sealed or stripped,
// never cleartext.
func (q *DeadLetterQueue) sealSample(record *batching.DeadLetterRecord) error {
	if !record.Sensitivity.RequiresSealing() || len(record.ItemSample) == 0 {
		return nil
	}

	if q.crypto == nil {
		q.logger.WithComponent("dead_letter_queue").WithField("batch_id", record.BatchID).
			Warn("no encryption configured, stripping sensitive item sample")
		record.ItemSample = nil
		return nil
	}

	token, err := q.crypto.SealJSON(record.ItemSample)
	if err != nil {
		return errors.NewInternalError("failed to seal dead letter sample").WithCause(err)
	}
	record.ItemSample = nil
	record.EncryptedSample = token
	return nil
}

// openSample restores a sealed item sample when the queue can decrypt it.
// Without a key the record is returned as stored, sample still sealed.
func (q *DeadLetterQueue) openSample(record *batching.DeadLetterRecord) error {
	if record.EncryptedSample == "" || q.crypto == nil {
		return nil
	}

	var sample []interface{}
	if err := q.crypto.OpenJSON(record.EncryptedSample, &sample); err != nil {
		return err
	}
	record.ItemSample = sample
	record.EncryptedSample = ""
	return nil
}
