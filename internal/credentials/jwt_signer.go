package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtAudience = "homering-rtc"

// ErrInvalidChannelToken indicates a credential that failed verification.
var ErrInvalidChannelToken = errors.New("credentials: invalid channel token")

// ChannelClaims is the payload of an HS256 channel credential.
type ChannelClaims struct {
	ChannelName string `json:"channel"`
	Role        Role   `json:"role"`
	UID         uint32 `json:"uid"`
	jwt.RegisteredClaims
}

// JWTSigner signs channel credentials as HS256 JWTs keyed by the app secret.
type JWTSigner struct {
	appID  string
	secret []byte
	clock  func() time.Time
}

// NewJWTSigner constructs a JWTSigner.
func NewJWTSigner(appID, appSecret string) (*JWTSigner, error) {
	if appID == "" {
		return nil, ErrMissingAppID
	}
	if appSecret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTSigner{appID: appID, secret: []byte(appSecret), clock: time.Now}, nil
}

// Sign produces a signed JWT for the request.
func (s *JWTSigner) Sign(_ context.Context, request SignRequest) (string, error) {
	if request.ChannelName == "" {
		return "", ErrMissingChannel
	}
	claims := ChannelClaims{
		ChannelName: request.ChannelName,
		Role:        request.Role,
		UID:         request.UID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.appID,
			Subject:   strconv.FormatUint(uint64(request.UID), 10),
			Audience:  []string{jwtAudience},
			IssuedAt:  jwt.NewNumericDate(request.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(request.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a credential minted by this signer and returns its claims.
func (s *JWTSigner) Verify(tokenString string) (ChannelClaims, error) {
	claims := &ChannelClaims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithAudience(jwtAudience),
		jwt.WithIssuer(s.appID),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return ChannelClaims{}, fmt.Errorf("%w: %v", ErrInvalidChannelToken, err)
	}
	if parsed == nil || !parsed.Valid || claims.ChannelName == "" {
		return ChannelClaims{}, ErrInvalidChannelToken
	}
	return *claims, nil
}
