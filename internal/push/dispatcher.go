package push

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DispatcherConfig describes the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Sender   Sender
	Logger   *zap.Logger
}

// Dispatcher fans a call invite out to every token the owner registered.
// Delivery is best effort: failures are logged and never returned.
type Dispatcher struct {
	registry *Registry
	sender   Sender
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("push: registry is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("push: sender is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: cfg.Registry, sender: cfg.Sender, logger: logger}, nil
}

// Notify sends the invite to all of the owner's tokens.
func (d *Dispatcher) Notify(ctx context.Context, invite Invite) {
	tokens, err := d.registry.Tokens(ctx, invite.OwnerID)
	if err != nil {
		d.logger.Warn("push tokens unavailable", zap.String("owner_id", invite.OwnerID), zap.String("call_id", invite.CallID), zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		d.logger.Debug("no push tokens registered", zap.String("owner_id", invite.OwnerID), zap.String("call_id", invite.CallID))
		return
	}

	response, err := d.sender.SendMulticast(ctx, tokens, NewInviteMessage(invite))
	if err != nil {
		d.logger.Warn("push multicast failed", zap.String("owner_id", invite.OwnerID), zap.String("call_id", invite.CallID), zap.Error(err))
		return
	}
	for _, result := range response.Responses {
		if result.Err != nil {
			d.logger.Warn("push delivery failed", zap.String("owner_id", invite.OwnerID), zap.String("call_id", invite.CallID), zap.Error(result.Err))
		}
	}
	d.logger.Info("call invite dispatched",
		zap.String("owner_id", invite.OwnerID),
		zap.String("call_id", invite.CallID),
		zap.Int("success", response.SuccessCount),
		zap.Int("failure", response.FailureCount))
}
