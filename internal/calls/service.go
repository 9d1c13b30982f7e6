package calls

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/apperr"
	"github.com/Gokul-madhav/home-ring/internal/credentials"
	"github.com/Gokul-madhav/home-ring/internal/doors"
	"github.com/Gokul-madhav/home-ring/internal/ids"
	"github.com/Gokul-madhav/home-ring/internal/locks"
	"github.com/Gokul-madhav/home-ring/internal/push"
	"github.com/Gokul-madhav/home-ring/internal/store"
	"go.uber.org/zap"
)

const (
	opServiceNew = "calls.service.new"
	opCreate     = "calls.create"
	opAccept     = "calls.accept"
	opEnd        = "calls.end"
	opStatus     = "calls.status"
	opToken      = "calls.token"
	opIncoming   = "calls.incoming"
	opLogs       = "calls.logs"
	opSweep      = "calls.sweep"
)

// PresenceChecker reports whether an owner currently has a bound device.
type PresenceChecker interface {
	Reachable(ctx context.Context, userID string) (bool, error)
}

// TokenSource lists the push tokens registered by an owner.
type TokenSource interface {
	Tokens(ctx context.Context, ownerID string) ([]string, error)
}

// Notifier announces a ringing call. It must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, invite push.Invite)
}

// CredentialIssuer mints join credentials for call channels.
type CredentialIssuer interface {
	Issue(ctx context.Context, channelName string) (credentials.Credential, error)
}

// EventPublisher receives call transitions for realtime delivery.
type EventPublisher interface {
	PublishCallEvent(event Event)
}

// ServiceConfig describes the dependencies of the call lifecycle manager.
type ServiceConfig struct {
	Store      store.Store
	Presence   PresenceChecker
	Tokens     TokenSource
	Notifier   Notifier
	Issuer     CredentialIssuer
	Events     EventPublisher
	Locker     locks.Locker
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service runs the call state machine and keeps the per-owner history in step.
type Service struct {
	store      store.Store
	presence   PresenceChecker
	tokens     TokenSource
	notifier   Notifier
	issuer     CredentialIssuer
	events     EventPublisher
	locker     locks.Locker
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the call lifecycle manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.Validation(opServiceNew, "missing_store", "store is required")
	}
	if cfg.Presence == nil {
		return nil, apperr.Validation(opServiceNew, "missing_presence", "presence checker is required")
	}
	if cfg.Tokens == nil {
		return nil, apperr.Validation(opServiceNew, "missing_tokens", "token source is required")
	}
	if cfg.Issuer == nil {
		return nil, apperr.Validation(opServiceNew, "missing_issuer", "credential issuer is required")
	}
	locker := cfg.Locker
	if locker == nil {
		locker = locks.NewKeyedMutex()
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewTimeOrderedProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		presence:   cfg.Presence,
		tokens:     cfg.Tokens,
		notifier:   cfg.Notifier,
		issuer:     cfg.Issuer,
		events:     cfg.Events,
		locker:     locker,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create rings the owner of doorID on behalf of a visitor.
func (s *Service) Create(ctx context.Context, doorID, visitorName string) (Call, error) {
	doorID = strings.TrimSpace(doorID)
	if doorID == "" {
		return Call{}, apperr.Validation(opCreate, "missing_door_id", "Missing doorID")
	}
	visitorName = strings.TrimSpace(visitorName)
	if visitorName == "" {
		visitorName = DefaultVisitorName
	}

	door, err := doors.Load(ctx, s.store, opCreate, doorID)
	if err != nil {
		s.logIfDependency(opCreate, err, zap.String("door_id", doorID))
		return Call{}, err
	}
	if !door.Callable() {
		return Call{}, apperr.Conflict(opCreate, "door_inactive", "Doorbell not active").WithStatus(http.StatusBadRequest)
	}
	ownerID := door.ClaimedBy

	reachable, err := s.presence.Reachable(ctx, ownerID)
	if err != nil {
		s.logError(opCreate, "presence_failed", err, zap.String("door_id", doorID), zap.String("owner_id", ownerID))
		return Call{}, apperr.Dependency(opCreate, "presence_failed", err)
	}
	if !reachable {
		return Call{}, apperr.Conflict(opCreate, "owner_offline", "Owner is offline")
	}
	tokens, err := s.tokens.Tokens(ctx, ownerID)
	if err != nil {
		s.logError(opCreate, "tokens_failed", err, zap.String("door_id", doorID), zap.String("owner_id", ownerID))
		return Call{}, apperr.Dependency(opCreate, "tokens_failed", err)
	}
	if len(tokens) == 0 {
		return Call{}, apperr.Conflict(opCreate, "no_registered_devices", "Owner has no registered devices")
	}

	callID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("door_id", doorID))
		return Call{}, apperr.Dependency(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	channel := channelName(doorID, now, callID)

	credential, err := s.issuer.Issue(ctx, channel)
	if err != nil {
		s.logError(opCreate, "credential_failed", err, zap.String("door_id", doorID), zap.String("call_id", callID))
		return Call{}, apperr.Dependency(opCreate, "credential_failed", err)
	}

	call := Call{
		ID:             callID,
		DoorID:         doorID,
		OwnerID:        ownerID,
		OwnerPhone:     door.OwnerPhone,
		ChannelName:    channel,
		VisitorName:    visitorName,
		Token:          credential.Token,
		AppID:          credential.AppID,
		TokenExpiresAt: timePointer(credential.ExpiresAt.UTC()),
		Status:         StatusRinging,
		CreatedAt:      now,
	}
	entry := CallLogEntry{
		CallID:      callID,
		VisitorName: visitorName,
		Status:      LogStatusRinging,
		DoorID:      doorID,
		ChannelName: channel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.Set(ctx, callPath(callID), call); err != nil {
			return err
		}
		if err := tx.Set(ctx, logPath(ownerID, callID), entry); err != nil {
			return err
		}
		return doors.Touch(ctx, tx, doorID, ownerID, now)
	})
	if err != nil {
		s.logError(opCreate, "write_failed", err, zap.String("door_id", doorID), zap.String("call_id", callID))
		return Call{}, apperr.Dependency(opCreate, "write_failed", err)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, push.Invite{
			OwnerID:     ownerID,
			CallID:      callID,
			DoorID:      doorID,
			ChannelName: channel,
			Token:       credential.Token,
			AppID:       credential.AppID,
			VisitorName: visitorName,
		})
	}
	s.publish(EventInvite, call)

	s.logger.Info("call created",
		zap.String("call_id", callID),
		zap.String("door_id", doorID),
		zap.String("owner_id", ownerID))
	return call, nil
}

// Accept moves a ringing call to accepted. Accepting an accepted call is a no-op;
// an ended call cannot be accepted.
func (s *Service) Accept(ctx context.Context, callID string) (Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Call{}, apperr.Validation(opAccept, "missing_call_id", "Missing callID")
	}
	release, err := s.locker.Lock(ctx, callLockKey(callID))
	if err != nil {
		s.logError(opAccept, "lock_failed", err, zap.String("call_id", callID))
		return Call{}, apperr.Dependency(opAccept, "lock_failed", err)
	}
	defer release()

	call, err := s.loadCall(ctx, s.store, opAccept, callID)
	if err != nil {
		s.logIfDependency(opAccept, err, zap.String("call_id", callID))
		return Call{}, err
	}
	switch call.Status {
	case StatusEnded:
		return Call{}, apperr.Conflict(opAccept, "call_ended", "Call already ended")
	case StatusAccepted:
		return call, nil
	}

	now := s.clock().UTC()
	err = s.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.Update(ctx, callPath(callID), map[string]any{
			"status":     StatusAccepted,
			"acceptedAt": now,
		}); err != nil {
			return err
		}
		return updateLog(ctx, tx, call, map[string]any{
			"status":     LogStatusApproved,
			"acceptedAt": now,
			"updatedAt":  now,
		})
	})
	if err != nil {
		s.logError(opAccept, "write_failed", err, zap.String("call_id", callID))
		return Call{}, apperr.Dependency(opAccept, "write_failed", err)
	}

	call.Status = StatusAccepted
	call.AcceptedAt = timePointer(now)
	s.publish(EventAccepted, call)
	s.logger.Info("call accepted", zap.String("call_id", callID), zap.String("owner_id", call.OwnerID))
	return call, nil
}

// End terminates a call. Ending an ended call is a no-op.
func (s *Service) End(ctx context.Context, callID string) (Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Call{}, apperr.Validation(opEnd, "missing_call_id", "Missing callID")
	}
	call, _, err := s.end(ctx, opEnd, callID, nil)
	if err != nil {
		return Call{}, err
	}
	return call, nil
}

// Status returns the live call record.
func (s *Service) Status(ctx context.Context, callID string) (Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Call{}, apperr.Validation(opStatus, "missing_call_id", "Missing callID")
	}
	call, err := s.loadCall(ctx, s.store, opStatus, callID)
	if err != nil {
		s.logIfDependency(opStatus, err, zap.String("call_id", callID))
		return Call{}, err
	}
	return call, nil
}

// Token returns the join credential issued when the call was created.
func (s *Service) Token(ctx context.Context, callID string) (JoinCredential, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return JoinCredential{}, apperr.Validation(opToken, "missing_call_id", "Missing callID")
	}
	call, err := s.loadCall(ctx, s.store, opToken, callID)
	if err != nil {
		s.logIfDependency(opToken, err, zap.String("call_id", callID))
		return JoinCredential{}, err
	}
	if call.Token == "" {
		return JoinCredential{}, apperr.NotFound(opToken, "credential_missing", "Call has no credential")
	}
	return JoinCredential{
		CallID:      call.ID,
		ChannelName: call.ChannelName,
		AppID:       call.AppID,
		Token:       call.Token,
		ExpiresAt:   call.TokenExpiresAt,
	}, nil
}

// Incoming lists the owner's ringing calls in creation order.
func (s *Service) Incoming(ctx context.Context, ownerID string) ([]Call, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.Validation(opIncoming, "missing_owner_id", "Missing ownerID")
	}
	records, err := s.store.QueryChildrenByField(ctx, callsCollection, ownerField, ownerID)
	if err != nil {
		s.logError(opIncoming, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, apperr.Dependency(opIncoming, "query_failed", err)
	}
	ringing := make([]Call, 0, len(records))
	for _, record := range records {
		call, ok := s.decodeCall(record)
		if !ok || call.Status != StatusRinging {
			continue
		}
		ringing = append(ringing, call)
	}
	return ringing, nil
}

// Logs returns the newest limit history entries and counts over the full history.
// A non-positive limit selects DefaultLogLimit.
func (s *Service) Logs(ctx context.Context, ownerID string, limit int) (LogPage, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return LogPage{}, apperr.Validation(opLogs, "missing_owner_id", "Missing ownerID")
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	records, err := s.store.Children(ctx, ownerLogsPath(ownerID))
	if err != nil {
		s.logError(opLogs, "query_failed", err, zap.String("owner_id", ownerID))
		return LogPage{}, apperr.Dependency(opLogs, "query_failed", err)
	}

	entries := make([]CallLogEntry, 0, len(records))
	counts := LogCounts{}
	for _, record := range records {
		var entry CallLogEntry
		if err := record.Decode(&entry); err != nil {
			s.logError(opLogs, "decode_failed", err, zap.String("path", record.Path))
			continue
		}
		if entry.CallID == "" {
			entry.CallID = record.Key
		}
		switch entry.Status {
		case LogStatusApproved:
			counts.Approved++
		case LogStatusDeclined:
			counts.Declined++
		}
		counts.Total++
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return LogPage{Logs: entries, Counts: counts}, nil
}

// SweepStale force-ends ringing or accepted calls created more than staleAfter ago.
// Per-call failures are logged and skipped; the number of calls ended is returned.
func (s *Service) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	records, err := s.store.Children(ctx, callsCollection)
	if err != nil {
		s.logError(opSweep, "query_failed", err)
		return 0, apperr.Dependency(opSweep, "query_failed", err)
	}
	cutoff := s.clock().UTC().Add(-staleAfter)
	swept := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		call, ok := s.decodeCall(record)
		if !ok || call.Status == StatusEnded || !call.CreatedAt.Before(cutoff) {
			continue
		}
		_, changed, err := s.end(ctx, opSweep, call.ID, func(current Call) bool {
			return current.CreatedAt.Before(cutoff)
		})
		if err != nil {
			continue
		}
		if changed {
			swept++
		}
	}
	if swept > 0 {
		s.logger.Info("stale calls ended", zap.Int("count", swept))
	}
	return swept, nil
}

// end performs the ended transition under the call lock. eligible, when set,
// is re-checked against the freshly loaded call before writing.
func (s *Service) end(ctx context.Context, operation, callID string, eligible func(Call) bool) (Call, bool, error) {
	release, err := s.locker.Lock(ctx, callLockKey(callID))
	if err != nil {
		s.logError(operation, "lock_failed", err, zap.String("call_id", callID))
		return Call{}, false, apperr.Dependency(operation, "lock_failed", err)
	}
	defer release()

	call, err := s.loadCall(ctx, s.store, operation, callID)
	if err != nil {
		s.logIfDependency(operation, err, zap.String("call_id", callID))
		return Call{}, false, err
	}
	if call.Status == StatusEnded {
		return call, false, nil
	}
	if eligible != nil && !eligible(call) {
		return call, false, nil
	}

	now := s.clock().UTC()
	logStatus := logStatusOnEnd(call.Status)
	err = s.store.Atomic(ctx, func(tx store.Store) error {
		if err := tx.Update(ctx, callPath(callID), map[string]any{
			"status":  StatusEnded,
			"endedAt": now,
		}); err != nil {
			return err
		}
		return updateLog(ctx, tx, call, map[string]any{
			"status":    logStatus,
			"endedAt":   now,
			"updatedAt": now,
		})
	})
	if err != nil {
		s.logError(operation, "write_failed", err, zap.String("call_id", callID))
		return Call{}, false, apperr.Dependency(operation, "write_failed", err)
	}

	previous := call.Status
	call.Status = StatusEnded
	call.EndedAt = timePointer(now)
	s.publish(EventEnded, call)
	s.logger.Info("call ended",
		zap.String("operation", operation),
		zap.String("call_id", callID),
		zap.String("previous_status", string(previous)),
		zap.String("log_status", string(logStatus)))
	return call, true, nil
}

// updateLog patches the owner's history entry when it exists.
func updateLog(ctx context.Context, tx store.Store, call Call, fields map[string]any) error {
	if call.OwnerID == "" {
		return nil
	}
	path := logPath(call.OwnerID, call.ID)
	found, err := tx.Get(ctx, path, nil)
	if err != nil || !found {
		return err
	}
	return tx.Update(ctx, path, fields)
}

func (s *Service) loadCall(ctx context.Context, st store.Store, operation, callID string) (Call, error) {
	var call Call
	found, err := st.Get(ctx, callPath(callID), &call)
	if err != nil {
		return Call{}, apperr.Dependency(operation, "call_read_failed", err)
	}
	if !found {
		return Call{}, apperr.NotFound(operation, "call_not_found", "Call not found")
	}
	if call.ID == "" {
		call.ID = callID
	}
	return call, nil
}

func (s *Service) decodeCall(record store.Record) (Call, bool) {
	var call Call
	if err := record.Decode(&call); err != nil {
		s.logger.Warn("undecodable call record", zap.String("path", record.Path), zap.Error(err))
		return Call{}, false
	}
	if call.ID == "" {
		call.ID = record.Key
	}
	return call, true
}

// channelName is doorbell_<doorID>_<unix millis>_<suffix>. The suffix is the
// tail of the call id, so calls ringing one door in the same millisecond still
// get distinct channels regardless of which process created them.
func channelName(doorID string, now time.Time, callID string) string {
	suffix := strings.ReplaceAll(callID, "-", "")
	if len(suffix) > channelSuffixLength {
		suffix = suffix[len(suffix)-channelSuffixLength:]
	}
	return fmt.Sprintf("doorbell_%s_%d_%s", doorID, now.UnixMilli(), suffix)
}

func (s *Service) publish(eventType EventType, call Call) {
	if s.events == nil || call.OwnerID == "" {
		return
	}
	s.events.PublishCallEvent(Event{
		Type:       eventType,
		OwnerID:    call.OwnerID,
		Call:       call,
		OccurredAt: s.clock().UTC(),
	})
}

func (s *Service) logIfDependency(operation string, err error, fields ...zap.Field) {
	if apperr.Is(err, apperr.KindDependency) {
		s.logError(operation, "dependency_failed", err, fields...)
	}
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
	s.logger.Error("call lifecycle error", attrs...)
}
