package jobstate

import (
	"context"
	"time"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/pkg/logging"
)

type jobWatcher struct {
	stop chan struct{}
	done chan struct{}
}

// WatchJob starts a per-job health monitor on the configured interval.
// Watching an already-watched job is a no-op.
func (m *Manager) WatchJob(jobID string) {
	m.mu.Lock()
	if _, exists := m.watchers[jobID]; exists {
		m.mu.Unlock()
		return
	}
	w := &jobWatcher{stop: make(chan struct{}), done: make(chan struct{})}
	m.watchers[jobID] = w
	m.mu.Unlock()

	go m.watch(jobID, w)
}

// UnwatchJob stops the job's monitor and waits for the loop to exit.
func (m *Manager) UnwatchJob(jobID string) {
	m.mu.Lock()
	w, exists := m.watchers[jobID]
	if exists {
		delete(m.watchers, jobID)
	}
	m.mu.Unlock()
	if !exists {
		return
	}

	close(w.stop)
	<-w.done
}

// Close stops every job monitor.
func (m *Manager) Close() {
	m.mu.Lock()
	watchers := make(map[string]*jobWatcher, len(m.watchers))
	for id, w := range m.watchers {
		watchers[id] = w
		delete(m.watchers, id)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		close(w.stop)
		<-w.done
	}
}

func (m *Manager) watch(jobID string, w *jobWatcher) {
	defer close(w.done)

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			m.monitorTick(context.Background(), jobID, w.stop)
		}
	}
}

// monitorTick runs one health evaluation and, when both the health status
// and its risk level are critical, generates a recovery strategy and
// auto-executes it after a short delay. Strategies carrying HIGH risk are
// never auto-executed.
func (m *Manager) monitorTick(ctx context.Context, jobID string, stop <-chan struct{}) {
	health, err := m.CheckHealth(ctx, jobID)
	if err != nil {
		m.logger.WithComponent("jobstate_monitor").WithError(err).WithFields(logging.Fields{
			"job_id": jobID,
		}).Warn("health check failed")
		return
	}

	if health.Status != HealthCritical || health.RiskLevel != RiskCritical {
		return
	}

	strategy, err := m.GenerateRecoveryStrategy(ctx, jobID)
	if err != nil {
		m.logger.WithComponent("jobstate_monitor").WithError(err).WithFields(logging.Fields{
			"job_id": jobID,
		}).Warn("failed to generate recovery strategy")
		return
	}
	if strategy == nil {
		return
	}

	if strategy.RiskLevel == RiskHigh {
		m.auditAutoRecovery(ctx, jobID, strategy, "AUTO_RECOVERY_SKIPPED", audit.OutcomeWarning)
		m.logger.LogJobEvent(ctx, "auto_recovery_skipped", jobID, logging.Fields{
			"strategy":   strategy.Type,
			"risk_level": strategy.RiskLevel,
		})
		return
	}

	m.auditAutoRecovery(ctx, jobID, strategy, "AUTO_RECOVERY_TRIGGERED", audit.OutcomeWarning)

	select {
	case <-stop:
		return
	case <-time.After(m.config.AutoExecuteDelay):
	}

	result, err := m.ExecuteRecoveryStrategy(ctx, strategy)
	if err != nil {
		m.logger.WithComponent("jobstate_monitor").WithError(err).WithFields(logging.Fields{
			"job_id":   jobID,
			"strategy": strategy.Type,
		}).Error("auto recovery execution failed")
		return
	}
	m.logger.LogJobEvent(ctx, "auto_recovery_executed", jobID, logging.Fields{
		"strategy": strategy.Type,
		"success":  result.Success,
	})
}

func (m *Manager) auditAutoRecovery(ctx context.Context, jobID string, strategy *RecoveryStrategy, action string, outcome audit.Outcome) {
	if m.ledger == nil {
		return
	}
	_, err := m.ledger.Append(ctx, audit.Event{
		EventType:  audit.EventTypeJobHealth,
		EntityID:   jobID,
		EntityType: "JOB",
		Actor:      "jobstate_monitor",
		Action:     action,
		Outcome:    outcome,
		Details: map[string]interface{}{
			"strategy":   string(strategy.Type),
			"risk_level": string(strategy.RiskLevel),
		},
		Chain: ChainJobs,
	})
	if err != nil {
		m.logger.WithComponent("jobstate_monitor").WithError(err).WithFields(logging.Fields{
			"job_id": jobID,
		}).Error("failed to audit auto recovery decision")
	}
}
