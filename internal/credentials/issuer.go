package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is the fixed validity window of a join credential.
const DefaultTTL = time.Hour

// AnyParticipant is the wildcard uid: any participant may claim any in-call identity.
const AnyParticipant uint32 = 0

// Role is the media-provider role carried by a credential.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

var (
	ErrMissingSigner  = errors.New("credentials: signer is required")
	ErrMissingAppID   = errors.New("credentials: app id is required")
	ErrMissingSecret  = errors.New("credentials: app secret is required")
	ErrMissingChannel = errors.New("credentials: channel name is required")
)

// SignRequest is everything a signing capability needs to mint one credential.
type SignRequest struct {
	ChannelName string
	Role        Role
	UID         uint32
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Signer mints an opaque credential with the app id and secret it was built with.
type Signer interface {
	Sign(ctx context.Context, request SignRequest) (string, error)
}

// Credential is a time-boxed channel-scoped join token.
type Credential struct {
	Token       string
	AppID       string
	ChannelName string
	UID         uint32
	Role        Role
	ExpiresAt   time.Time
}

// IssuerConfig configures the credential issuer.
type IssuerConfig struct {
	Signer Signer
	AppID  string
	Clock  func() time.Time
}

// Issuer produces publisher credentials for call channels.
type Issuer struct {
	signer Signer
	appID  string
	clock  func() time.Time
}

// NewIssuer validates the configuration; an error here is a fatal misconfiguration.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Signer == nil {
		return nil, ErrMissingSigner
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, ErrMissingAppID
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{signer: cfg.Signer, appID: cfg.AppID, clock: clock}, nil
}

// AppID returns the media provider application id clients need to join.
func (i *Issuer) AppID() string {
	return i.appID
}

// Issue mints a publisher credential for channelName with the wildcard uid.
func (i *Issuer) Issue(ctx context.Context, channelName string) (Credential, error) {
	if strings.TrimSpace(channelName) == "" {
		return Credential{}, ErrMissingChannel
	}
	now := i.clock().UTC()
	request := SignRequest{
		ChannelName: channelName,
		Role:        RolePublisher,
		UID:         AnyParticipant,
		IssuedAt:    now,
		ExpiresAt:   now.Add(DefaultTTL),
	}
	token, err := i.signer.Sign(ctx, request)
	if err != nil {
		return Credential{}, fmt.Errorf("credentials: sign %s: %w", channelName, err)
	}
	return Credential{
		Token:       token,
		AppID:       i.appID,
		ChannelName: channelName,
		UID:         request.UID,
		Role:        request.Role,
		ExpiresAt:   request.ExpiresAt,
	}, nil
}
