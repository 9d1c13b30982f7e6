package push

import "context"

// Invite type tag carried in every call notification.
const TypeCallInvite = "call_invite"

// Invite describes a ringing call to announce to an owner.
type Invite struct {
	OwnerID     string
	CallID      string
	DoorID      string
	ChannelName string
	Token       string
	AppID       string
	VisitorName string
}

// AndroidConfig carries the Android delivery options.
type AndroidConfig struct {
	Priority string `json:"priority"`
}

// APNSConfig carries the Apple delivery options.
type APNSConfig struct {
	Headers          map[string]string `json:"headers"`
	ContentAvailable bool              `json:"contentAvailable"`
}

// Message is the platform-neutral multicast payload.
type Message struct {
	Data    map[string]string `json:"data"`
	Android AndroidConfig     `json:"android"`
	APNS    APNSConfig        `json:"apns"`
}

// SendResult is the per-token delivery outcome.
type SendResult struct {
	Token string
	Err   error
}

// BatchResponse summarises one multicast.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []SendResult
}

// Sender delivers one message to many tokens.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, message Message) (BatchResponse, error)
}

// NewInviteMessage builds the high-priority call invite payload.
func NewInviteMessage(invite Invite) Message {
	return Message{
		Data: map[string]string{
			"type":        TypeCallInvite,
			"callID":      invite.CallID,
			"doorID":      invite.DoorID,
			"channelName": invite.ChannelName,
			"token":       invite.Token,
			"appID":       invite.AppID,
			"visitorName": invite.VisitorName,
		},
		Android: AndroidConfig{Priority: "high"},
		APNS: APNSConfig{
			Headers:          map[string]string{"apns-priority": "10", "apns-push-type": "alert"},
			ContentAvailable: true,
		},
	}
}
