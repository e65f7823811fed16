package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyDeliversEvents(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	n := NewNotifier(SinkFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}), nil, 8)
	defer n.Close()

	n.Notify("repo-1", "item-1", "queued", map[string]any{"position": 1})
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "repo-1", received[0].RepositoryID)
	assert.Equal(t, "queued", received[0].Name)
}

func TestNotifyNeverBlocksOnFullBuffer(t *testing.T) {
	block := make(chan struct{})
	n := NewNotifier(SinkFunc(func(e Event) {
		<-block // consumer stalls until we release it
	}), nil, 1)
	defer func() {
		close(block)
		n.Close()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Notify("repo-1", "item", "event", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked despite a full buffer")
	}

	assert.Greater(t, n.Dropped(), int64(0))
}
