package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/dcurp/api/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrCodecExpired   = errors.New("token expired")
	ErrCodecMalformed = errors.New("token malformed")
)

// TokenClaims is the signed payload: {"id","type","iat","exp","jti"}.
type TokenClaims struct {
	UserID string           `json:"id"`
	Type   models.TokenType `json:"type"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the iat claim, or the zero time when it is missing.
func (c *TokenClaims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// TokenCodec signs and verifies HS256 tokens with one process-wide secret.
// It performs no I/O.
type TokenCodec interface {
	Sign(userID uuid.UUID, tokenType models.TokenType, ttl time.Duration) (string, error)
	Verify(token string) (*TokenClaims, error)
	// VerifyIgnoringExpiry checks signature and claims but accepts a token
	// whose exp has passed. Used where possession is enough, such as logout.
	VerifyIgnoringExpiry(token string) (*TokenClaims, error)
}

type tokenCodec struct {
	secret []byte
	now    func() time.Time
}

func NewTokenCodec(secret []byte, now func() time.Time) TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &tokenCodec{secret: secret, now: now}
}

func (c *tokenCodec) Sign(userID uuid.UUID, tokenType models.TokenType, ttl time.Duration) (string, error) {
	if len(c.secret) == 0 {
		return "", errors.New("token codec has no signing secret")
	}
	if !tokenType.Valid() {
		return "", fmt.Errorf("unknown token type %q", tokenType)
	}

	now := c.now()
	claims := TokenClaims{
		UserID: userID.String(),
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *tokenCodec) Verify(token string) (*TokenClaims, error) {
	return c.parse(token,
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
}

func (c *tokenCodec) VerifyIgnoringExpiry(token string) (*TokenClaims, error) {
	claims, err := c.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrCodecMalformed)
	}
	return claims, nil
}

func (c *tokenCodec) parse(token string, opts ...jwt.ParserOption) (*TokenClaims, error) {
	claims := &TokenClaims{}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrCodecExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCodecMalformed, err)
	}
	if !parsed.Valid || claims.UserID == "" || !claims.Type.Valid() || claims.IssuedAt == nil {
		return nil, ErrCodecMalformed
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("%w: bad subject id", ErrCodecMalformed)
	}
	return claims, nil
}
