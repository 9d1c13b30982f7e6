package calls

import (
	"time"

	"github.com/Gokul-madhav/home-ring/internal/store"
)

// Status is the live state of a call. Transitions only move forward:
// ringing -> accepted -> ended, or ringing -> ended.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAccepted Status = "accepted"
	StatusEnded    Status = "ended"
)

// LogStatus is the owner-facing projection of a call's outcome.
type LogStatus string

const (
	LogStatusRinging  LogStatus = "ringing"
	LogStatusApproved LogStatus = "approved"
	LogStatusDeclined LogStatus = "declined"
)

const (
	DefaultVisitorName = "Visitor"
	DefaultLogLimit    = 50

	channelSuffixLength = 8

	callsCollection    = "calls"
	callLogsCollection = "callLogs"
	ownerField         = "ownerID"
)

// Call is one ring-to-end interaction at a door.
type Call struct {
	ID             string     `json:"callID"`
	DoorID         string     `json:"doorID"`
	OwnerID        string     `json:"ownerID"`
	OwnerPhone     string     `json:"ownerPhone,omitempty"`
	ChannelName    string     `json:"channelName"`
	VisitorName    string     `json:"visitorName"`
	Token          string     `json:"token,omitempty"`
	AppID          string     `json:"appID,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// CallLogEntry is the per-owner history record of a call.
type CallLogEntry struct {
	CallID      string     `json:"callID"`
	VisitorName string     `json:"visitorName"`
	Status      LogStatus  `json:"status"`
	DoorID      string     `json:"doorID"`
	ChannelName string     `json:"channelName"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// LogCounts aggregates the whole history of an owner, independent of paging.
type LogCounts struct {
	Approved int `json:"approved"`
	Declined int `json:"declined"`
	Total    int `json:"total"`
}

// LogPage is one page of an owner's history plus the aggregate counts.
type LogPage struct {
	Logs   []CallLogEntry `json:"logs"`
	Counts LogCounts      `json:"counts"`
}

// JoinCredential is what a participant needs to join the call's media channel.
type JoinCredential struct {
	CallID      string     `json:"callID"`
	ChannelName string     `json:"channelName"`
	AppID       string     `json:"appID"`
	Token       string     `json:"token"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// EventType tags a call event published to realtime subscribers.
type EventType string

const (
	EventInvite   EventType = "call_invite"
	EventAccepted EventType = "call_accepted"
	EventEnded    EventType = "call_ended"
)

// Event reports a call transition to the owner's realtime subscribers.
type Event struct {
	Type       EventType `json:"type"`
	OwnerID    string    `json:"ownerID"`
	Call       Call      `json:"call"`
	OccurredAt time.Time `json:"occurredAt"`
}

// logStatusOnEnd derives the history status from the state a call ended from.
func logStatusOnEnd(previous Status) LogStatus {
	if previous == StatusAccepted {
		return LogStatusApproved
	}
	return LogStatusDeclined
}

func callPath(callID string) string {
	return store.Join(callsCollection, callID)
}

func ownerLogsPath(ownerID string) string {
	return store.Join(callLogsCollection, ownerID)
}

func logPath(ownerID, callID string) string {
	return store.Join(callLogsCollection, ownerID, callID)
}

func callLockKey(callID string) string {
	return "call:" + callID
}

func timePointer(value time.Time) *time.Time {
	return &value
}
