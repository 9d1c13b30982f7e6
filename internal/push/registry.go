package push

import (
	"context"
	"strings"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/apperr"
	"github.com/Gokul-madhav/home-ring/internal/store"
	"go.uber.org/zap"
)

const (
	tokensCollection = "pushTokens"

	opRegister   = "push.register"
	opUnregister = "push.unregister"
	opTokens     = "push.tokens"
)

// Registration is one delivery endpoint token registered by an owner.
type Registration struct {
	OwnerID      string    `json:"ownerID"`
	Token        string    `json:"token"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// RegistryConfig describes the dependencies of a Registry.
type RegistryConfig struct {
	Store  store.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Registry stores the per-owner set of push tokens.
type Registry struct {
	store  store.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, apperr.Validation("push.registry.new", "missing_store", "store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Register adds token to the owner's set. Registering an existing token is a no-op.
func (r *Registry) Register(ctx context.Context, ownerID, token string) error {
	ownerID = strings.TrimSpace(ownerID)
	token = strings.TrimSpace(token)
	if ownerID == "" || token == "" {
		return apperr.Validation(opRegister, "missing_fields", "ownerID and token are required")
	}
	path := tokenPath(ownerID, token)
	found, err := r.store.Get(ctx, path, nil)
	if err != nil {
		r.logger.Error("push token lookup failed", zap.String("owner_id", ownerID), zap.Error(err))
		return apperr.Dependency(opRegister, "read_failed", err)
	}
	if found {
		return nil
	}
	registration := Registration{OwnerID: ownerID, Token: token, RegisteredAt: r.clock().UTC()}
	if err := r.store.Set(ctx, path, registration); err != nil {
		r.logger.Error("push token write failed", zap.String("owner_id", ownerID), zap.Error(err))
		return apperr.Dependency(opRegister, "write_failed", err)
	}
	r.logger.Info("push token registered", zap.String("owner_id", ownerID))
	return nil
}

// Unregister removes token from the owner's set. Unknown tokens are ignored.
func (r *Registry) Unregister(ctx context.Context, ownerID, token string) error {
	ownerID = strings.TrimSpace(ownerID)
	token = strings.TrimSpace(token)
	if ownerID == "" || token == "" {
		return apperr.Validation(opUnregister, "missing_fields", "ownerID and token are required")
	}
	if err := r.store.Remove(ctx, tokenPath(ownerID, token)); err != nil {
		r.logger.Error("push token removal failed", zap.String("owner_id", ownerID), zap.Error(err))
		return apperr.Dependency(opUnregister, "remove_failed", err)
	}
	return nil
}

// Tokens returns the owner's non-empty tokens.
func (r *Registry) Tokens(ctx context.Context, ownerID string) ([]string, error) {
	records, err := r.store.Children(ctx, store.Join(tokensCollection, ownerID))
	if err != nil {
		r.logger.Error("push token query failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, apperr.Dependency(opTokens, "query_failed", err)
	}
	tokens := make([]string, 0, len(records))
	for _, record := range records {
		var registration Registration
		if err := record.Decode(&registration); err != nil {
			continue
		}
		if strings.TrimSpace(registration.Token) == "" {
			continue
		}
		tokens = append(tokens, registration.Token)
	}
	return tokens, nil
}

func tokenPath(ownerID, token string) string {
	return store.Join(tokensCollection, ownerID, token)
}
