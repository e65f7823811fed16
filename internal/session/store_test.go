package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendBoundsHistoryToMaxMessages(t *testing.T) {
	s := &Session{ID: "sess-1"}
	for i := 0; i < maxMessages+5; i++ {
		s.Append(Message{Role: RoleUser, Content: "msg", Timestamp: time.Now()})
	}
	require.Len(t, s.Messages, maxMessages, "history must never exceed the configured bound")
}

func TestMemoryStoreCreateGetRoundTrips(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()

	session := &Session{ID: "sess-1", RepositoryID: "repo-1", WorkflowID: "wf-1"}
	session.Append(Message{Role: RoleUser, Content: "hello"})
	require.NoError(t, store.Create(session))

	got, err := store.Get("sess-1")
	require.NoError(t, err)
	require.Equal(t, "repo-1", got.RepositoryID)
	require.Len(t, got.Messages, 1)
}

func TestMemoryStoreGetRefreshesTTL(t *testing.T) {
	store := NewMemoryStore(80*time.Millisecond, time.Hour)
	defer store.Close()

	require.NoError(t, store.Create(&Session{ID: "sess-1"}))

	// Touch the session before it would otherwise expire, resetting the
	// clock; it should still be alive well past the original window.
	time.Sleep(50 * time.Millisecond)
	_, err := store.Get("sess-1")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = store.Get("sess-1")
	require.NoError(t, err, "a Get before expiry must refresh the TTL")
}

func TestMemoryStoreExpiresUntouchedSessions(t *testing.T) {
	store := NewMemoryStore(30*time.Millisecond, time.Hour)
	defer store.Close()

	require.NoError(t, store.Create(&Session{ID: "sess-1"}))
	time.Sleep(60 * time.Millisecond)

	_, err := store.Get("sess-1")
	require.Error(t, err, "an untouched session must expire after its TTL")
}

func TestMemoryStoreJanitorSweepsExpiredKeys(t *testing.T) {
	store := NewMemoryStore(20*time.Millisecond, 10*time.Millisecond)
	defer store.Close()

	require.NoError(t, store.Create(&Session{ID: "sess-1"}))
	time.Sleep(80 * time.Millisecond)

	keys, err := store.Keys()
	require.NoError(t, err)
	require.Empty(t, keys, "the janitor should have swept the expired session")

	// Keys already hides expired entries, so look at the map itself.
	ms := store.(*memoryStore)
	ms.mu.Lock()
	remaining := len(ms.entries)
	ms.mu.Unlock()
	require.Zero(t, remaining, "the janitor should have deleted the expired entry")
}

func TestMemoryStoreUpdateAppendsAndPersists(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()

	require.NoError(t, store.Create(&Session{ID: "sess-1"}))
	require.NoError(t, store.Update("sess-1", func(s *Session) {
		s.Append(Message{Role: RoleAssistant, Content: "reply"})
	}))

	got, err := store.Get("sess-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, RoleAssistant, got.Messages[0].Role)
}

func TestMemoryStoreGetMissingIsNotFound(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Hour)
	defer store.Close()

	_, err := store.Get("nope")
	require.Error(t, err)
}
