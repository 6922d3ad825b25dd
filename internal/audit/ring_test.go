package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ringEntry(id string) *Entry {
	return &Entry{ID: id, EventType: "TEST"}
}

func TestRing_PushAndSnapshot(t *testing.T) {
	ring := NewRing(3)

	ring.Push(ringEntry("a"))
	ring.Push(ringEntry("b"))

	snapshot := ring.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, "a", snapshot[0].ID)
	assert.Equal(t, "b", snapshot[1].ID)
}

func TestRing_EvictsOldest(t *testing.T) {
	ring := NewRing(3)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ring.Push(ringEntry(id))
	}

	snapshot := ring.Snapshot()
	assert.Len(t, snapshot, 3)
	assert.Equal(t, "c", snapshot[0].ID)
	assert.Equal(t, "d", snapshot[1].ID)
	assert.Equal(t, "e", snapshot[2].ID)
	assert.Equal(t, 3, ring.Len())
	assert.Equal(t, 3, ring.Capacity())
}

func TestRing_CapacityFloor(t *testing.T) {
	ring := NewRing(0)
	assert.Equal(t, 1, ring.Capacity())

	ring.Push(ringEntry("a"))
	ring.Push(ringEntry("b"))
	snapshot := ring.Snapshot()
	assert.Len(t, snapshot, 1)
	assert.Equal(t, "b", snapshot[0].ID)
}

func TestRing_WrapStability(t *testing.T) {
	ring := NewRing(4)

	for i := 0; i < 25; i++ {
		ring.Push(ringEntry(fmt.Sprintf("e%d", i)))
	}

	snapshot := ring.Snapshot()
	assert.Len(t, snapshot, 4)
	for i, e := range snapshot {
		assert.Equal(t, fmt.Sprintf("e%d", 21+i), e.ID)
	}
}
