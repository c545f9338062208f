package security

import (
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// clockSkewLeeway absorbs clock drift between the issuing and resolving hosts.
const clockSkewLeeway = 30 * time.Second

// Claims is the payload embedded in every signed bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role types.Role      `json:"role"`
	Kind types.TokenKind `json:"typ"`
}

// TokenIssuer signs and validates bearer tokens with a single symmetric
// secret. Secret rotation is out of scope.
type TokenIssuer struct {
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// NewTokenIssuer builds a TokenIssuer from the signing secret and token lifetimes.
func NewTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (i *TokenIssuer) issue(userID string, role types.Role, kind types.TokenKind, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
		Kind: kind,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.Fatal, "sign token", err)
	}
	return signed, expiresAt, nil
}

// IssueAccessToken mints a short-lived access token for the given user.
func (i *TokenIssuer) IssueAccessToken(userID string, role types.Role) (string, time.Time, error) {
	return i.issue(userID, role, types.TokenAccess, i.accessTTL)
}

// IssueRefreshToken mints a long-lived refresh token for the given user.
func (i *TokenIssuer) IssueRefreshToken(userID string, role types.Role) (string, time.Time, error) {
	return i.issue(userID, role, types.TokenRefresh, i.refreshTTL)
}

// AccessTTL returns the configured access-token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// Parse validates a bearer token's signature and expiry and returns its claims.
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.Unauthorized, "unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithLeeway(clockSkewLeeway))

	if err != nil || !token.Valid {
		return nil, apperr.New(apperr.Unauthorized, "invalid or expired token")
	}
	return claims, nil
}

// ParseKind validates a token and requires it to be of the given kind.
func (i *TokenIssuer) ParseKind(tokenString string, kind types.TokenKind) (*Claims, error) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, apperr.New(apperr.Unauthorized, "wrong token type")
	}
	return claims, nil
}
