package devices

import (
	"context"
	"strings"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/apperr"
	"github.com/Gokul-madhav/home-ring/internal/locks"
	"github.com/Gokul-madhav/home-ring/internal/store"
	"go.uber.org/zap"
)

const (
	opBind      = "devices.bind"
	opStatus    = "devices.status"
	opUnbind    = "devices.unbind"
	opReachable = "devices.reachable"
	opPresence  = "devices.presence"
)

// ServiceConfig describes the dependencies of the binding manager.
type ServiceConfig struct {
	Store  store.Store
	Locker locks.Locker
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service enforces one active device per user and one active user per device.
type Service struct {
	store  store.Store
	locker locks.Locker
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the binding manager. A nil Locker selects an in-process keyed mutex.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.Validation("devices.service.new", "missing_store", "store is required")
	}
	locker := cfg.Locker
	if locker == nil {
		locker = locks.NewKeyedMutex()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, locker: locker, clock: clock, logger: logger}, nil
}

// Bind creates or refreshes the session pair for userID and deviceID.
// It fails with a conflict when either side is bound to someone else.
func (s *Service) Bind(ctx context.Context, userID, deviceID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || deviceID == "" {
		return Session{}, apperr.Validation(opBind, "missing_fields", "userID and deviceID are required")
	}

	release, err := locks.LockAll(ctx, s.locker, userLockKey(userID), deviceLockKey(deviceID))
	if err != nil {
		s.logError(opBind, "lock_failed", err, zap.String("user_id", userID), zap.String("device_id", deviceID))
		return Session{}, apperr.Dependency(opBind, "lock_failed", err)
	}
	defer release()

	now := s.clock().UTC()
	var session Session
	err = s.store.Atomic(ctx, func(tx store.Store) error {
		var existingUser Session
		userFound, err := tx.Get(ctx, userSessionPath(userID), &existingUser)
		if err != nil {
			return apperr.Dependency(opBind, "user_session_read_failed", err)
		}
		if userFound && existingUser.DeviceID != deviceID {
			return apperr.Conflict(opBind, "user_bound_elsewhere", "User is already logged in on another device")
		}

		var existingDevice Session
		deviceFound, err := tx.Get(ctx, deviceSessionPath(deviceID), &existingDevice)
		if err != nil {
			return apperr.Dependency(opBind, "device_session_read_failed", err)
		}
		if deviceFound && existingDevice.UserID != userID {
			return apperr.Conflict(opBind, "device_bound_elsewhere", "Device is already logged in with another user")
		}

		loginTime := now
		if userFound && !existingUser.LoginTime.IsZero() {
			loginTime = existingUser.LoginTime
		}
		session = Session{UserID: userID, DeviceID: deviceID, LoginTime: loginTime, LastActivity: now}

		if err := tx.Set(ctx, userSessionPath(userID), session); err != nil {
			return apperr.Dependency(opBind, "user_session_write_failed", err)
		}
		if err := tx.Set(ctx, deviceSessionPath(deviceID), session); err != nil {
			return apperr.Dependency(opBind, "device_session_write_failed", err)
		}
		if err := tx.Set(ctx, presencePath(userID), Presence{Online: true, DeviceID: deviceID, LastSeen: now, UpdatedAt: now}); err != nil {
			return apperr.Dependency(opBind, "presence_write_failed", err)
		}
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindDependency) {
			s.logError(opBind, "write_failed", err, zap.String("user_id", userID), zap.String("device_id", deviceID))
		}
		return Session{}, err
	}

	s.logger.Info("device bound", zap.String("user_id", userID), zap.String("device_id", deviceID))
	return session, nil
}

// Status reports whether userID is logged in on deviceID.
func (s *Service) Status(ctx context.Context, userID, deviceID string) (Status, error) {
	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || deviceID == "" {
		return Status{}, apperr.Validation(opStatus, "missing_fields", "userID and deviceID are required")
	}

	var session Session
	found, err := s.store.Get(ctx, userSessionPath(userID), &session)
	if err != nil {
		s.logError(opStatus, "read_failed", err, zap.String("user_id", userID))
		return Status{}, apperr.Dependency(opStatus, "read_failed", err)
	}
	if !found {
		return Status{}, nil
	}
	if session.DeviceID != deviceID {
		return Status{LoggedInElsewhere: true}, nil
	}
	return Status{LoggedIn: true, LoginTime: session.LoginTime, LastActivity: session.LastActivity}, nil
}

// Unbind removes both session records and marks the user offline. Absent records are ignored.
// A named record bound to a different partner also takes that partner's back-reference with it.
func (s *Service) Unbind(ctx context.Context, userID, deviceID string) error {
	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" || deviceID == "" {
		return apperr.Validation(opUnbind, "missing_fields", "userID and deviceID are required")
	}

	release, err := locks.LockAll(ctx, s.locker, userLockKey(userID), deviceLockKey(deviceID))
	if err != nil {
		s.logError(opUnbind, "lock_failed", err, zap.String("user_id", userID), zap.String("device_id", deviceID))
		return apperr.Dependency(opUnbind, "lock_failed", err)
	}
	defer release()

	now := s.clock().UTC()
	err = s.store.Atomic(ctx, func(tx store.Store) error {
		var userSession, deviceSession Session
		userFound, err := tx.Get(ctx, userSessionPath(userID), &userSession)
		if err != nil {
			return err
		}
		deviceFound, err := tx.Get(ctx, deviceSessionPath(deviceID), &deviceSession)
		if err != nil {
			return err
		}

		// The named records may point at other partners; drop their back-references
		// so no session outlives its counterpart.
		if userFound && userSession.DeviceID != deviceID {
			if err := removeIfPointsAt(ctx, tx, deviceSessionPath(userSession.DeviceID), func(other Session) bool {
				return other.UserID == userID
			}); err != nil {
				return err
			}
		}
		if deviceFound && deviceSession.UserID != userID {
			removed := false
			if err := removeIfPointsAt(ctx, tx, userSessionPath(deviceSession.UserID), func(other Session) bool {
				removed = other.DeviceID == deviceID
				return removed
			}); err != nil {
				return err
			}
			if removed {
				if err := tx.Set(ctx, presencePath(deviceSession.UserID), Presence{Online: false, LastSeen: now, UpdatedAt: now}); err != nil {
					return err
				}
			}
		}

		if err := tx.Remove(ctx, userSessionPath(userID)); err != nil {
			return err
		}
		if err := tx.Remove(ctx, deviceSessionPath(deviceID)); err != nil {
			return err
		}
		return tx.Set(ctx, presencePath(userID), Presence{Online: false, LastSeen: now, UpdatedAt: now})
	})
	if err != nil {
		s.logError(opUnbind, "write_failed", err, zap.String("user_id", userID), zap.String("device_id", deviceID))
		return apperr.Dependency(opUnbind, "write_failed", err)
	}

	s.logger.Info("device unbound", zap.String("user_id", userID), zap.String("device_id", deviceID))
	return nil
}

func removeIfPointsAt(ctx context.Context, tx store.Store, path string, matches func(Session) bool) error {
	var session Session
	found, err := tx.Get(ctx, path, &session)
	if err != nil || !found || !matches(session) {
		return err
	}
	return tx.Remove(ctx, path)
}

// Reachable reports whether userID currently has a bound session.
func (s *Service) Reachable(ctx context.Context, userID string) (bool, error) {
	found, err := s.store.Get(ctx, userSessionPath(userID), nil)
	if err != nil {
		s.logError(opReachable, "read_failed", err, zap.String("user_id", userID))
		return false, apperr.Dependency(opReachable, "read_failed", err)
	}
	return found, nil
}

// Presence returns the presence record for userID; an unknown user is offline.
func (s *Service) Presence(ctx context.Context, userID string) (Presence, error) {
	var presence Presence
	if _, err := s.store.Get(ctx, presencePath(userID), &presence); err != nil {
		s.logError(opPresence, "read_failed", err, zap.String("user_id", userID))
		return Presence{}, apperr.Dependency(opPresence, "read_failed", err)
	}
	return presence, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("device binding error", attrs...)
}
