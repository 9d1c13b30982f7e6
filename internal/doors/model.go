package doors

import (
	"time"

	"github.com/Gokul-madhav/home-ring/internal/store"
)

// Status is the lifecycle state of a door.
type Status string

const (
	StatusUnclaimed Status = "unclaimed"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
)

const (
	doorsCollection     = "doors"
	usersCollection     = "users"
	doorbellsCollection = "doorbells"
)

// Door is a provisioned doorbell unit.
type Door struct {
	ID           string     `json:"doorID"`
	Claimed      bool       `json:"claimed"`
	ClaimedBy    string     `json:"claimedBy,omitempty"`
	OwnerPhone   string     `json:"ownerPhone,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// Callable reports whether a visitor may ring this door.
func (d Door) Callable() bool {
	return d.Claimed && d.Status == StatusActive && d.ClaimedBy != ""
}

// Doorbell is the owner-scoped index entry for a claimed door.
type Doorbell struct {
	DoorID       string     `json:"doorID"`
	Status       Status     `json:"status"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// ReconcileReport counts the repairs made by Reconcile.
type ReconcileReport struct {
	IndexCreated  int
	IndexRepaired int
	IndexRemoved  int
}

func doorPath(doorID string) string {
	return store.Join(doorsCollection, doorID)
}

func ownerPath(ownerID string) string {
	return store.Join(usersCollection, ownerID)
}

func ownerDoorbellsPath(ownerID string) string {
	return store.Join(usersCollection, ownerID, doorbellsCollection)
}

func doorbellPath(ownerID, doorID string) string {
	return store.Join(usersCollection, ownerID, doorbellsCollection, doorID)
}

func timePointer(value time.Time) *time.Time {
	v := value
	return &v
}
