package credentials

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tencentyun/tls-sig-api-v2-golang/tencentyun"
)

// TRTC privilege bits: create, enter, send/receive audio, send/receive video.
const (
	trtcPrivilegeAll       uint32 = 255
	trtcPrivilegeSubscribe uint32 = 2 | 8 | 32
)

// TRTCSigner mints Tencent TRTC private map keys bound to a string room id.
type TRTCSigner struct {
	sdkAppID  int
	secretKey string
}

// NewTRTCSigner constructs a TRTCSigner. appID must be the numeric SDKAppID.
func NewTRTCSigner(appID, appSecret string) (*TRTCSigner, error) {
	if appID == "" {
		return nil, ErrMissingAppID
	}
	if appSecret == "" {
		return nil, ErrMissingSecret
	}
	sdkAppID, err := strconv.Atoi(appID)
	if err != nil || sdkAppID <= 0 {
		return nil, fmt.Errorf("credentials: trtc app id must be a positive integer, got %q", appID)
	}
	return &TRTCSigner{sdkAppID: sdkAppID, secretKey: appSecret}, nil
}

// Sign returns a private map key restricting the holder to the request channel.
func (s *TRTCSigner) Sign(_ context.Context, request SignRequest) (string, error) {
	if request.ChannelName == "" {
		return "", ErrMissingChannel
	}
	expireSeconds := int(request.ExpiresAt.Sub(request.IssuedAt).Seconds())
	if expireSeconds <= 0 {
		return "", fmt.Errorf("credentials: non-positive expiry for %s", request.ChannelName)
	}
	privileges := trtcPrivilegeAll
	if request.Role == RoleSubscriber {
		privileges = trtcPrivilegeSubscribe
	}
	return tencentyun.GenPrivateMapKeyWithStringRoomID(
		s.sdkAppID,
		s.secretKey,
		strconv.FormatUint(uint64(request.UID), 10),
		expireSeconds,
		request.ChannelName,
		privileges,
	)
}
