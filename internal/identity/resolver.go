package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mathduel/pkg/types"
)

// Identity is the canonical result of resolution: one participant key
// every other component operates on, never raw transport fields.
type Identity struct {
	Key         string
	DisplayName string
	Restored    bool // true when recovered from a transport session id
}

// NameStore looks up persisted display names. Implemented by the
// database manager; nil disables persistence.
type NameStore interface {
	GetParticipantName(ctx context.Context, key string) (string, error)
	SaveParticipant(ctx context.Context, key, displayName string) error
}

// ResolveRequest carries the several identifier shapes a transport may
// supply. Fields are tried in priority order; all may be empty.
type ResolveRequest struct {
	// TransportSessionID is the opaque id issued on a previous
	// connection, presented back by a reconnecting client.
	TransportSessionID string
	// ClaimedKey is the participant key the client asserts directly.
	ClaimedKey string
	// CachedKey is the key from the client's local cache.
	CachedKey string
	// DisplayName is the client-facing name for this connection.
	DisplayName string
}

// Resolver normalizes the possible identifier shapes into one
// canonical participant key. Reconnects are recognized through the
// transport-session cache: a valid presented id maps back to the key
// it was issued for, and is rotated on every use.
type Resolver struct {
	cache  Cache
	names  NameStore
	logger *zap.Logger
}

func NewResolver(cache Cache, names NameStore, logger *zap.Logger) *Resolver {
	return &Resolver{cache: cache, names: names, logger: logger}
}

// Resolve produces the canonical identity for a connection and issues
// a fresh transport session id for the next reconnect.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Identity, string, error) {
	id := r.resolveKey(ctx, req)

	if id.DisplayName == "" && r.names != nil {
		if name, err := r.names.GetParticipantName(ctx, id.Key); err == nil && name != "" {
			id.DisplayName = name
		}
	}
	if id.DisplayName != "" && r.names != nil {
		if err := r.names.SaveParticipant(ctx, id.Key, id.DisplayName); err != nil {
			r.logger.Warn("failed to persist participant name",
				zap.String("participant", id.Key), zap.Error(err))
		}
	}

	transportID, err := r.cache.Issue(ctx, id.Key)
	if err != nil {
		// A missing transport id only costs the client its fast
		// reconnect path; the resolved key is still usable.
		r.logger.Warn("failed to issue transport session id",
			zap.String("participant", id.Key), zap.Error(err))
		transportID = ""
	}
	return id, transportID, nil
}

func (r *Resolver) resolveKey(ctx context.Context, req ResolveRequest) Identity {
	if sid := strings.TrimSpace(req.TransportSessionID); sid != "" {
		if key, err := r.cache.Lookup(ctx, sid); err == nil && key != "" {
			// One-shot: a presented id is revoked and replaced.
			if err := r.cache.Revoke(ctx, sid); err != nil {
				r.logger.Warn("failed to revoke transport session id", zap.Error(err))
			}
			return Identity{Key: key, DisplayName: strings.TrimSpace(req.DisplayName), Restored: true}
		}
	}

	for _, candidate := range []string{req.ClaimedKey, req.CachedKey} {
		if key := strings.TrimSpace(candidate); key != "" && types.IsValidParticipantKey(key) {
			return Identity{Key: key, DisplayName: strings.TrimSpace(req.DisplayName)}
		}
	}

	return Identity{Key: uuid.New().String(), DisplayName: strings.TrimSpace(req.DisplayName)}
}
