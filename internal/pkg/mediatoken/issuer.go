package mediatoken

import (
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-demo/liveroom/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a media credential stays valid
const DefaultTTL = 3600 * time.Second

var (
	ErrMissingAppID       = errors.New("media app id is not configured")
	ErrMissingCertificate = errors.New("media app certificate is not configured")
	ErrInvalidToken       = errors.New("invalid media token")
)

// Claims are carried by a media-session token
type Claims struct {
	Channel    string           `json:"channel"`
	UID        uint32           `json:"uid"`
	Capability model.Capability `json:"cap"`
	jwt.RegisteredClaims
}

// Issuer mints time-boxed media credentials. It holds no per-call state.
type Issuer struct {
	appID       string
	certificate []byte
	ttl         time.Duration
	now         func() time.Time
}

// NewIssuer fails when the signing material is missing, which callers treat as fatal at startup
func NewIssuer(appID, certificate string, ttl time.Duration) (*Issuer, error) {
	if appID == "" {
		return nil, ErrMissingAppID
	}
	if certificate == "" {
		return nil, ErrMissingCertificate
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Issuer{
		appID:       appID,
		certificate: []byte(certificate),
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// TTL returns the credential lifetime
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a credential for participantID on channelName
func (i *Issuer) Issue(channelName, participantID string, capability model.Capability) (*model.MediaCredential, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl).Truncate(time.Second)
	uid := UID(participantID)

	claims := &Claims{
		Channel:    channelName,
		UID:        uid,
		Capability: capability,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.certificate)
	if err != nil {
		return nil, err
	}

	return &model.MediaCredential{
		ChannelName: channelName,
		UID:         uid,
		Capability:  capability,
		Token:       signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify parses a token minted by this issuer
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.certificate, nil
	}, jwt.WithIssuer(i.appID), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UID maps a participant id to a stable numeric media uid.
// Ids ending in 8 hex digits (uuids, object ids) use those digits; anything else is hashed.
func UID(participantID string) uint32 {
	if len(participantID) >= 8 {
		if v, err := strconv.ParseUint(participantID[len(participantID)-8:], 16, 32); err == nil {
			return uint32(v)
		}
	}
	return uint32(xxhash.Sum64String(participantID))
}
