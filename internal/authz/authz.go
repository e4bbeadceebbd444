// Package authz grants node capabilities from signed HS256 tokens.
//
// A token names the caller in "sub" and lists node ids the caller may
// write ("wrt") or view ("view"). A write grant implies view.
package authz

import (
	"errors"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/nodewiki/internal/model"
)

const leeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrBadSubject   = errors.New("bad subject")
)

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Write []string `json:"wrt,omitempty"`
	View  []string `json:"view,omitempty"`
}

// Grants lists node ids per capability.
type Grants struct {
	Write []string
	View  []string
}

// Issuer mints tokens signed with a shared key.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an issuer; ttl <= 0 means one hour.
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue signs a token for userID carrying g.
func (i *Issuer) Issue(userID uuid.UUID, g Grants) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Write: g.Write,
		View:  g.View,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	return signed, exp, err
}

// Authorizer answers capability checks by verifying model.Auth.Token.
type Authorizer struct {
	key []byte
}

// New returns an Authorizer verifying tokens with key.
func New(key []byte) *Authorizer {
	return &Authorizer{key: key}
}

// Parse verifies tok and returns its claims.
func (a *Authorizer) Parse(tok string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.key, nil
	}, jwt.WithLeeway(leeway))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// Authenticate turns a raw token into a caller identity.
func (a *Authorizer) Authenticate(tok string) (model.Auth, error) {
	claims, err := a.Parse(tok)
	if err != nil {
		return model.Auth{}, err
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return model.Auth{}, ErrBadSubject
	}
	return model.Auth{UserID: id, Token: tok}, nil
}

func (a *Authorizer) claims(auth model.Auth) *Claims {
	if auth.Token == "" {
		return nil
	}
	c, err := a.Parse(auth.Token)
	if err != nil {
		return nil
	}
	if auth.UserID != uuid.Nil && c.Subject != auth.UserID.String() {
		return nil
	}
	return c
}

// HasWritePermission reports whether the token grants write on node.
func (a *Authorizer) HasWritePermission(node model.Node, auth model.Auth) bool {
	c := a.claims(auth)
	return c != nil && slices.Contains(c.Write, node.ID)
}

// CanView reports whether node is public or the token grants view or write on it.
func (a *Authorizer) CanView(node model.Node, auth model.Auth) bool {
	if node.IsPublic {
		return true
	}
	c := a.claims(auth)
	if c == nil {
		return false
	}
	return slices.Contains(c.View, node.ID) || slices.Contains(c.Write, node.ID)
}
