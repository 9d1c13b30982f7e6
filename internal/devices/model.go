package devices

import (
	"time"

	"github.com/Gokul-madhav/home-ring/internal/store"
)

const (
	userSessionsCollection   = "userSessions"
	deviceSessionsCollection = "deviceSessions"
	presenceCollection       = "presence"
)

// Session binds one user to one device. The same shape is stored under the
// user's key and under the device's key.
type Session struct {
	UserID       string    `json:"userID"`
	DeviceID     string    `json:"deviceID"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
}

// Presence mirrors session existence for a user.
type Presence struct {
	Online    bool      `json:"online"`
	DeviceID  string    `json:"deviceID,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status is the answer to "is this user logged in on this device".
type Status struct {
	LoggedIn bool
	// LoggedInElsewhere is set when the user has a session bound to another device.
	LoggedInElsewhere bool
	LoginTime         time.Time
	LastActivity      time.Time
}

func userSessionPath(userID string) string {
	return store.Join(userSessionsCollection, userID)
}

func deviceSessionPath(deviceID string) string {
	return store.Join(deviceSessionsCollection, deviceID)
}

func presencePath(userID string) string {
	return store.Join(presenceCollection, userID)
}

func userLockKey(userID string) string {
	return "user:" + userID
}

func deviceLockKey(deviceID string) string {
	return "device:" + deviceID
}
