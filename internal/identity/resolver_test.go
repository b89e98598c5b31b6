package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeNameStore struct {
	mu    sync.Mutex
	names map[string]string
}

func newFakeNameStore() *fakeNameStore {
	return &fakeNameStore{names: make(map[string]string)}
}

func (f *fakeNameStore) GetParticipantName(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[key]
	if !ok {
		return "", errors.New("not found")
	}
	return name, nil
}

func (f *fakeNameStore) SaveParticipant(_ context.Context, key, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[key] = displayName
	return nil
}

func TestResolveClaimedKeyWins(t *testing.T) {
	r := NewResolver(NewMemoryCache(time.Hour), newFakeNameStore(), zap.NewNop())

	id, transportID, err := r.Resolve(context.Background(), ResolveRequest{
		ClaimedKey:  "claimed",
		CachedKey:   "cached",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Key != "claimed" {
		t.Fatalf("key = %s, want claimed", id.Key)
	}
	if id.Restored {
		t.Fatal("fresh resolution marked restored")
	}
	if transportID == "" {
		t.Fatal("no transport session id issued")
	}
}

func TestResolveFallsBackToCachedKey(t *testing.T) {
	r := NewResolver(NewMemoryCache(time.Hour), newFakeNameStore(), zap.NewNop())

	id, _, err := r.Resolve(context.Background(), ResolveRequest{CachedKey: "cached"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Key != "cached" {
		t.Fatalf("key = %s, want cached", id.Key)
	}
}

func TestResolveGeneratesKeyWhenNothingUsable(t *testing.T) {
	r := NewResolver(NewMemoryCache(time.Hour), newFakeNameStore(), zap.NewNop())

	first, _, err := r.Resolve(context.Background(), ResolveRequest{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, _, err := r.Resolve(context.Background(), ResolveRequest{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Key == "" || first.Key == second.Key {
		t.Fatalf("generated keys not unique: %q, %q", first.Key, second.Key)
	}
}

func TestResolveInvalidKeysAreIgnored(t *testing.T) {
	r := NewResolver(NewMemoryCache(time.Hour), newFakeNameStore(), zap.NewNop())

	id, _, err := r.Resolve(context.Background(), ResolveRequest{
		ClaimedKey: "has spaces!",
		CachedKey:  "",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Key == "has spaces!" {
		t.Fatal("invalid claimed key was accepted")
	}
}

func TestTransportSessionRoundTrip(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	r := NewResolver(cache, newFakeNameStore(), zap.NewNop())
	ctx := context.Background()

	_, transportID, err := r.Resolve(ctx, ResolveRequest{ClaimedKey: "alice"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Reconnect with only the transport session id.
	id, nextID, err := r.Resolve(ctx, ResolveRequest{TransportSessionID: transportID})
	if err != nil {
		t.Fatalf("reconnect resolve: %v", err)
	}
	if id.Key != "alice" {
		t.Fatalf("key = %s, want alice", id.Key)
	}
	if !id.Restored {
		t.Fatal("reconnect not marked restored")
	}
	if nextID == transportID {
		t.Fatal("transport session id was not rotated")
	}

	// The spent id must not resolve again.
	replay, _, err := r.Resolve(ctx, ResolveRequest{TransportSessionID: transportID})
	if err != nil {
		t.Fatalf("replay resolve: %v", err)
	}
	if replay.Key == "alice" || replay.Restored {
		t.Fatal("revoked transport session id still resolved")
	}
}

func TestTransportSessionBeatsClaimedKey(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	r := NewResolver(cache, newFakeNameStore(), zap.NewNop())
	ctx := context.Background()

	_, transportID, _ := r.Resolve(ctx, ResolveRequest{ClaimedKey: "alice"})

	id, _, err := r.Resolve(ctx, ResolveRequest{
		TransportSessionID: transportID,
		ClaimedKey:         "impostor",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Key != "alice" {
		t.Fatalf("key = %s, want alice", id.Key)
	}
}

func TestResolvePersistsAndRecoversDisplayName(t *testing.T) {
	names := newFakeNameStore()
	r := NewResolver(NewMemoryCache(time.Hour), names, zap.NewNop())
	ctx := context.Background()

	if _, _, err := r.Resolve(ctx, ResolveRequest{ClaimedKey: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Same key without a display name recovers the persisted one.
	id, _, err := r.Resolve(ctx, ResolveRequest{ClaimedKey: "alice"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.DisplayName != "Alice" {
		t.Fatalf("display name = %q, want Alice", id.DisplayName)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	sid, err := cache.Issue(context.Background(), "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	key, err := cache.Lookup(context.Background(), sid)
	if err != nil || key != "alice" {
		t.Fatalf("lookup = %q, %v", key, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Lookup(context.Background(), sid); !errors.Is(err, ErrUnknownTransportSession) {
		t.Fatalf("expired lookup = %v, want ErrUnknownTransportSession", err)
	}
}

func TestMemoryCacheRevoke(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	sid, _ := cache.Issue(context.Background(), "alice")

	if err := cache.Revoke(context.Background(), sid); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := cache.Lookup(context.Background(), sid); !errors.Is(err, ErrUnknownTransportSession) {
		t.Fatalf("revoked lookup = %v, want ErrUnknownTransportSession", err)
	}
}
