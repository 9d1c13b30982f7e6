package doors

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/apperr"
	"github.com/Gokul-madhav/home-ring/internal/ids"
	"github.com/Gokul-madhav/home-ring/internal/store"
	"go.uber.org/zap"
)

const (
	opServiceNew = "doors.service.new"
	opGenerate   = "doors.generate"
	opActivate   = "doors.activate"
	opList       = "doors.list"
	opDeactivate = "doors.deactivate"
	opDelete     = "doors.delete"
	opGet        = "doors.get"
	opReconcile  = "doors.reconcile"
)

// ServiceConfig describes the dependencies of the door service.
type ServiceConfig struct {
	Store        store.Store
	IDProvider   ids.Provider
	VisitBaseURL string
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service provisions doors and maintains the owner back-reference index.
type Service struct {
	store        store.Store
	idProvider   ids.Provider
	visitBaseURL string
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService constructs the door service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.Validation(opServiceNew, "missing_store", "store is required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewRandomProvider()
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
		store:        cfg.Store,
		idProvider:   idProvider,
		visitBaseURL: strings.TrimRight(cfg.VisitBaseURL, "/"),
		clock:        clock,
		logger:       logger,
	}, nil
}

// Generate provisions a new unclaimed door and returns it with the visitor URL to encode in its QR code.
func (s *Service) Generate(ctx context.Context) (Door, string, error) {
	doorID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opGenerate, "id_generation_failed", err)
		return Door{}, "", apperr.Dependency(opGenerate, "id_generation_failed", err)
	}
	door := Door{
		ID:        doorID,
		Claimed:   false,
		Status:    StatusUnclaimed,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.Set(ctx, doorPath(doorID), door); err != nil {
		s.logError(opGenerate, "write_failed", err, zap.String("door_id", doorID))
		return Door{}, "", apperr.Dependency(opGenerate, "write_failed", err)
	}
	s.logger.Info("door provisioned", zap.String("door_id", doorID))
	return door, s.VisitURL(doorID), nil
}

// VisitURL is the visitor-facing page for doorID.
func (s *Service) VisitURL(doorID string) string {
	if s.visitBaseURL == "" {
		return doorID
	}
	return s.visitBaseURL + "/" + doorID
}

// Activate claims an unclaimed door for ownerID.
func (s *Service) Activate(ctx context.Context, doorID, ownerID, phoneNumber string) (Door, error) {
	doorID = strings.TrimSpace(doorID)
	ownerID = strings.TrimSpace(ownerID)
	if doorID == "" || ownerID == "" {
		return Door{}, apperr.Validation(opActivate, "missing_fields", "Missing required fields")
	}

	now := s.clock().UTC()
	var activated Door
	err := s.store.Atomic(ctx, func(tx store.Store) error {
		door, err := loadDoor(ctx, tx, opActivate, doorID)
		if err != nil {
			return err
		}
		if door.Claimed {
			return apperr.Conflict(opActivate, "already_claimed", "Door already claimed").WithStatus(http.StatusBadRequest)
		}

		door.Claimed = true
		door.ClaimedBy = ownerID
		door.OwnerPhone = strings.TrimSpace(phoneNumber)
		door.Status = StatusActive
		door.ActivatedAt = timePointer(now)
		door.LastActivity = timePointer(now)
		if err := tx.Set(ctx, doorPath(doorID), door); err != nil {
			return apperr.Dependency(opActivate, "door_write_failed", err)
		}
		if err := tx.Update(ctx, ownerPath(ownerID), map[string]any{"ownerID": ownerID}); err != nil {
			return apperr.Dependency(opActivate, "owner_write_failed", err)
		}
		if err := tx.Set(ctx, doorbellPath(ownerID, doorID), doorbellFromDoor(door)); err != nil {
			return apperr.Dependency(opActivate, "index_write_failed", err)
		}
		activated = door
		return nil
	})
	if err != nil {
		s.logIfDependency(opActivate, err, zap.String("door_id", doorID), zap.String("owner_id", ownerID))
		return Door{}, err
	}

	s.logger.Info("door activated", zap.String("door_id", doorID), zap.String("owner_id", ownerID))
	return activated, nil
}

// ListForOwner returns the owner's doorbell index entries.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]Doorbell, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.Validation(opList, "missing_owner_id", "Missing ownerID")
	}
	records, err := s.store.Children(ctx, ownerDoorbellsPath(ownerID))
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, apperr.Dependency(opList, "query_failed", err)
	}
	doorbells := make([]Doorbell, 0, len(records))
	for _, record := range records {
		var doorbell Doorbell
		if err := record.Decode(&doorbell); err != nil {
			s.logError(opList, "decode_failed", err, zap.String("path", record.Path))
			continue
		}
		doorbells = append(doorbells, doorbell)
	}
	return doorbells, nil
}

// Deactivate marks a claimed door inactive. ownerID defaults to the door's claimant.
// An unclaimed door is rejected and stays unclaimed.
func (s *Service) Deactivate(ctx context.Context, doorID, ownerID string) error {
	doorID = strings.TrimSpace(doorID)
	if doorID == "" {
		return apperr.Validation(opDeactivate, "missing_door_id", "Missing doorID")
	}

	err := s.store.Atomic(ctx, func(tx store.Store) error {
		door, err := loadDoor(ctx, tx, opDeactivate, doorID)
		if err != nil {
			return err
		}
		if !door.Claimed {
			return apperr.Conflict(opDeactivate, "not_claimed", "Door not claimed").WithStatus(http.StatusBadRequest)
		}
		owner := strings.TrimSpace(ownerID)
		if owner == "" {
			owner = door.ClaimedBy
		}
		if err := tx.Update(ctx, doorPath(doorID), map[string]any{"status": StatusInactive}); err != nil {
			return apperr.Dependency(opDeactivate, "door_write_failed", err)
		}
		if owner == "" {
			return nil
		}
		indexed, err := tx.Get(ctx, doorbellPath(owner, doorID), nil)
		if err != nil {
			return apperr.Dependency(opDeactivate, "index_read_failed", err)
		}
		if !indexed {
			return nil
		}
		if err := tx.Update(ctx, doorbellPath(owner, doorID), map[string]any{"status": StatusInactive}); err != nil {
			return apperr.Dependency(opDeactivate, "index_write_failed", err)
		}
		return nil
	})
	if err != nil {
		s.logIfDependency(opDeactivate, err, zap.String("door_id", doorID))
		return err
	}

	s.logger.Info("door deactivated", zap.String("door_id", doorID))
	return nil
}

// Delete removes a door and the owner's back-reference. ownerID defaults to the door's claimant.
func (s *Service) Delete(ctx context.Context, doorID, ownerID string) error {
	doorID = strings.TrimSpace(doorID)
	if doorID == "" {
		return apperr.Validation(opDelete, "missing_door_id", "Missing doorID")
	}

	err := s.store.Atomic(ctx, func(tx store.Store) error {
		door, err := loadDoor(ctx, tx, opDelete, doorID)
		if err != nil {
			return err
		}
		if err := tx.Remove(ctx, doorPath(doorID)); err != nil {
			return apperr.Dependency(opDelete, "door_remove_failed", err)
		}
		owners := []string{strings.TrimSpace(ownerID), door.ClaimedBy}
		for _, owner := range owners {
			if owner == "" {
				continue
			}
			if err := tx.Remove(ctx, doorbellPath(owner, doorID)); err != nil {
				return apperr.Dependency(opDelete, "index_remove_failed", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logIfDependency(opDelete, err, zap.String("door_id", doorID))
		return err
	}

	s.logger.Info("door deleted", zap.String("door_id", doorID))
	return nil
}

// Get returns the door record.
func (s *Service) Get(ctx context.Context, doorID string) (Door, error) {
	doorID = strings.TrimSpace(doorID)
	if doorID == "" {
		return Door{}, apperr.Validation(opGet, "missing_door_id", "Missing doorID")
	}
	door, err := loadDoor(ctx, s.store, opGet, doorID)
	if err != nil {
		s.logIfDependency(opGet, err, zap.String("door_id", doorID))
		return Door{}, err
	}
	return door, nil
}

// Touch records activity on a door and on the owner's index entry using st,
// which may be a transaction handle.
func Touch(ctx context.Context, st store.Store, doorID, ownerID string, at time.Time) error {
	if err := st.Update(ctx, doorPath(doorID), map[string]any{"lastActivity": at.UTC()}); err != nil {
		return err
	}
	if ownerID == "" {
		return nil
	}
	return st.Update(ctx, doorbellPath(ownerID, doorID), map[string]any{"lastActivity": at.UTC()})
}

// Load reads a door through st, which may be a transaction handle.
func Load(ctx context.Context, st store.Store, operation, doorID string) (Door, error) {
	return loadDoor(ctx, st, operation, doorID)
}

// Reconcile repairs divergence between door records and owner index entries left
// behind by partially applied writes.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{}

	doorRecords, err := s.store.Children(ctx, doorsCollection)
	if err != nil {
		s.logError(opReconcile, "doors_query_failed", err)
		return report, apperr.Dependency(opReconcile, "doors_query_failed", err)
	}
	doorsByID := make(map[string]Door, len(doorRecords))
	for _, record := range doorRecords {
		var door Door
		if err := record.Decode(&door); err != nil {
			s.logError(opReconcile, "door_decode_failed", err, zap.String("path", record.Path))
			continue
		}
		if door.ID == "" {
			door.ID = record.Key
		}
		doorsByID[door.ID] = door
	}

	for _, door := range doorsByID {
		if !door.Claimed || door.ClaimedBy == "" {
			continue
		}
		var doorbell Doorbell
		found, err := s.store.Get(ctx, doorbellPath(door.ClaimedBy, door.ID), &doorbell)
		if err != nil {
			return report, apperr.Dependency(opReconcile, "index_read_failed", err)
		}
		switch {
		case !found:
			if err := s.store.Update(ctx, ownerPath(door.ClaimedBy), map[string]any{"ownerID": door.ClaimedBy}); err != nil {
				return report, apperr.Dependency(opReconcile, "owner_write_failed", err)
			}
			if err := s.store.Set(ctx, doorbellPath(door.ClaimedBy, door.ID), doorbellFromDoor(door)); err != nil {
				return report, apperr.Dependency(opReconcile, "index_write_failed", err)
			}
			report.IndexCreated++
		case doorbell.Status != door.Status:
			if err := s.store.Update(ctx, doorbellPath(door.ClaimedBy, door.ID), map[string]any{"status": door.Status}); err != nil {
				return report, apperr.Dependency(opReconcile, "index_write_failed", err)
			}
			report.IndexRepaired++
		}
	}

	owners, err := s.store.Children(ctx, usersCollection)
	if err != nil {
		s.logError(opReconcile, "owners_query_failed", err)
		return report, apperr.Dependency(opReconcile, "owners_query_failed", err)
	}
	for _, owner := range owners {
		entries, err := s.store.Children(ctx, ownerDoorbellsPath(owner.Key))
		if err != nil {
			return report, apperr.Dependency(opReconcile, "index_query_failed", err)
		}
		for _, entry := range entries {
			door, ok := doorsByID[entry.Key]
			if ok && door.Claimed && door.ClaimedBy == owner.Key {
				continue
			}
			if err := s.store.Remove(ctx, entry.Path); err != nil {
				return report, apperr.Dependency(opReconcile, "index_remove_failed", err)
			}
			report.IndexRemoved++
		}
	}

	s.logger.Info("door index reconciled",
		zap.Int("created", report.IndexCreated),
		zap.Int("repaired", report.IndexRepaired),
		zap.Int("removed", report.IndexRemoved))
	return report, nil
}

func loadDoor(ctx context.Context, st store.Store, operation, doorID string) (Door, error) {
	var door Door
	found, err := st.Get(ctx, doorPath(doorID), &door)
	if err != nil {
		return Door{}, apperr.Dependency(operation, "door_read_failed", err)
	}
	if !found {
		return Door{}, apperr.NotFound(operation, "door_not_found", "Door ID not found")
	}
	if door.ID == "" {
		door.ID = doorID
	}
	return door, nil
}

func doorbellFromDoor(door Door) Doorbell {
	return Doorbell{
		DoorID:       door.ID,
		Status:       door.Status,
		ActivatedAt:  door.ActivatedAt,
		LastActivity: door.LastActivity,
	}
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
	s.logger.Error("door service error", attrs...)
}
