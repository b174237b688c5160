package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

const (
	Issuer          = "cryptolock"
	AudienceAccess  = "session:access"
	AudienceRefresh = "session:refresh"
)

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	clock   clock.Clock
}

// NewJWTTokenizer creates a new JWT tokenizer. A nil clock means wall time.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, clk clock.Clock) ports.Tokenizer {
	if clk == nil {
		clk = clock.New()
	}
	return &JWTTokenizer{signKey: signKey, clock: clk}
}

// SessionToAccessToken converts a Session to an access JWT token
func (j *JWTTokenizer) SessionToAccessToken(session *core.Session) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   session.AccountID,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		RefreshID: session.RefreshID,
		Address:   session.Address,
		Network:   session.Network,
	}

	return j.sign(claims)
}

// SessionToRefreshToken converts a Session to a refresh JWT token
func (j *JWTTokenizer) SessionToRefreshToken(session *core.Session) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   session.AccountID,
			ID:        session.RefreshID, // the refresh ID doubles as the JWT ID
			ExpiresAt: jwt.NewNumericDate(session.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
		Address: session.Address,
		Network: session.Network,
	}

	return j.sign(claims)
}

// AccessTokenToSession parses an access token and returns the associated session
func (j *JWTTokenizer) AccessTokenToSession(tokenStr string) (*core.Session, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, AudienceAccess); err != nil {
		return nil, err
	}

	return &core.Session{
		ID:           claims.ID,
		AccountID:    claims.Subject,
		Address:      claims.Address,
		Network:      claims.Network,
		IssuedAt:     claims.IssuedAt.Time,
		AccessExpiry: claims.ExpiresAt.Time,
		RefreshID:    claims.RefreshID,
	}, nil
}

// RefreshTokenToSession parses a refresh token and returns the associated
// session. AccessExpiry is left zero.
func (j *JWTTokenizer) RefreshTokenToSession(tokenStr string) (*core.Session, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, AudienceRefresh); err != nil {
		return nil, err
	}

	return &core.Session{
		AccountID:     claims.Subject,
		Address:       claims.Address,
		Network:       claims.Network,
		IssuedAt:      claims.IssuedAt.Time,
		RefreshExpiry: claims.ExpiresAt.Time,
		RefreshID:     claims.ID,
	}, nil
}

func (j *JWTTokenizer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	},
		jwt.WithAudience(audience),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return core.ErrInvalidToken
	}

	return nil
}
