package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenMalformed   = errors.New("malformed token")
)

// Claims is the only payload ever signed into self-issued tokens. Role is
// deliberately absent: it is read fresh from the directory on every request.
// Access tokens additionally embed the current refresh token so that an
// expired access token can still carry the material needed for rotation.
type Claims struct {
	UserID       string `json:"id"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	RefreshToken string `json:"refreshToken,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the self-issued token pair. The two secrets are
// injected at construction; rotating either one invalidates every outstanding
// token of that kind.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func New(accessSecret, refreshSecret []byte, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (c *Codec) SignAccess(claims Claims) (string, error) {
	return sign(claims, c.accessSecret, c.accessTTL)
}

// SignRefresh never embeds another token inside a refresh token.
func (c *Codec) SignRefresh(claims Claims) (string, error) {
	claims.RefreshToken = ""
	return sign(claims, c.refreshSecret, c.refreshTTL)
}

func (c *Codec) VerifyAccess(raw string) (*Claims, error) {
	return verify(raw, c.accessSecret)
}

func (c *Codec) VerifyRefresh(raw string) (*Claims, error) {
	return verify(raw, c.refreshSecret)
}

// DecodeUnsafe parses a token without checking its signature or expiry. It is
// used only to read auxiliary fields out of an already-rejected access token,
// never to authorize anything. Returns nil when the token cannot be parsed.
func (c *Codec) DecodeUnsafe(raw string) *Claims {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil
	}
	return &claims
}

func sign(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		// jti makes every mint unique; timestamps alone only have second
		// granularity, and rotation depends on the new token differing from
		// the one it replaces.
		ID:        uuid.NewString(),
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func verify(raw string, secret []byte) (*Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, err
		}
	}
	if !tkn.Valid {
		return nil, ErrInvalidSignature
	}
	return &claims, nil
}
