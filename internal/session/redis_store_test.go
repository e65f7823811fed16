package session

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisSessionStore(t *testing.T, ttl time.Duration) Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl)
}

func TestRedisStoreCreateGetRoundTrips(t *testing.T) {
	store := newTestRedisSessionStore(t, time.Minute)

	sess := &Session{ID: "sess-1", RepositoryID: "acme/widgets", WorkflowID: "wf-1"}
	sess.Append(Message{Role: RoleUser, Content: "hello"})
	require.NoError(t, store.Create(sess))

	got, err := store.Get("sess-1")
	require.NoError(t, err)
	require.Equal(t, "acme/widgets", got.RepositoryID)
	require.Len(t, got.Messages, 1)
}

func TestRedisStoreGetMissingIsNotFound(t *testing.T) {
	store := newTestRedisSessionStore(t, time.Minute)
	_, err := store.Get("nope")
	require.Error(t, err)
}

func TestRedisStoreUpdateAppendsAndPersists(t *testing.T) {
	store := newTestRedisSessionStore(t, time.Minute)
	require.NoError(t, store.Create(&Session{ID: "sess-1"}))

	require.NoError(t, store.Update("sess-1", func(s *Session) {
		s.Append(Message{Role: RoleAssistant, Content: "reply"})
	}))

	got, err := store.Get("sess-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, RoleAssistant, got.Messages[0].Role)
}

func TestRedisStoreDeleteRemovesFromIndex(t *testing.T) {
	store := newTestRedisSessionStore(t, time.Minute)
	require.NoError(t, store.Create(&Session{ID: "sess-1"}))
	require.NoError(t, store.Delete("sess-1"))

	keys, err := store.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)

	_, err = store.Get("sess-1")
	require.Error(t, err)
}

func TestRedisStoreKeysListsLiveSessions(t *testing.T) {
	store := newTestRedisSessionStore(t, time.Minute)
	require.NoError(t, store.Create(&Session{ID: "sess-1"}))
	require.NoError(t, store.Create(&Session{ID: "sess-2"}))

	keys, err := store.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"sess-1", "sess-2"}, keys)
}
