package authz

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/nodewiki/internal/model"
)

var testKey = []byte("test-signing-key-0123456789")

func issue(t *testing.T, g Grants) (uuid.UUID, string) {
	t.Helper()
	uid := uuid.Must(uuid.NewV4())
	tok, exp, err := NewIssuer(testKey, time.Hour).Issue(uid, g)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))
	return uid, tok
}

func TestAuthorizer_Grants(t *testing.T) {
	a := New(testKey)
	uid, tok := issue(t, Grants{Write: []string{"w1"}, View: []string{"v1"}})
	auth := model.Auth{UserID: uid, Token: tok}

	require.True(t, a.HasWritePermission(model.Node{ID: "w1"}, auth))
	require.False(t, a.HasWritePermission(model.Node{ID: "v1"}, auth))
	require.True(t, a.CanView(model.Node{ID: "w1"}, auth))
	require.True(t, a.CanView(model.Node{ID: "v1"}, auth))
	require.False(t, a.CanView(model.Node{ID: "x"}, auth))
	require.True(t, a.CanView(model.Node{ID: "x", IsPublic: true}, model.Auth{}))
	require.False(t, a.HasWritePermission(model.Node{ID: "w1"}, model.Auth{}))
}

func TestAuthorizer_SubjectMismatch(t *testing.T) {
	a := New(testKey)
	_, tok := issue(t, Grants{Write: []string{"w1"}})
	other := model.Auth{UserID: uuid.Must(uuid.NewV4()), Token: tok}
	require.False(t, a.HasWritePermission(model.Node{ID: "w1"}, other))
}

func TestAuthorizer_Authenticate(t *testing.T) {
	a := New(testKey)
	uid, tok := issue(t, Grants{})
	auth, err := a.Authenticate(tok)
	require.NoError(t, err)
	require.Equal(t, uid, auth.UserID)
	require.Equal(t, tok, auth.Token)

	_, err = New([]byte("other-key")).Authenticate(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthorizer_RejectsBadTokens(t *testing.T) {
	a := New(testKey)
	now := time.Now().UTC()

	sign := func(m jwt.SigningMethod, c Claims) string {
		s, err := jwt.NewWithClaims(m, c).SignedString(testKey)
		require.NoError(t, err)
		return s
	}

	expired := sign(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   uuid.Must(uuid.NewV4()).String(),
		IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	}, Write: []string{"n"}})
	_, err := a.Authenticate(expired)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.False(t, a.HasWritePermission(model.Node{ID: "n"}, model.Auth{Token: expired}))

	hs384 := sign(jwt.SigningMethodHS384, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   uuid.Must(uuid.NewV4()).String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}})
	_, err = a.Authenticate(hs384)
	require.ErrorIs(t, err, ErrInvalidToken)

	badSub := sign(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}})
	_, err = a.Authenticate(badSub)
	require.ErrorIs(t, err, ErrBadSubject)

	// within leeway
	recent := sign(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   uuid.Must(uuid.NewV4()).String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
	}})
	_, err = a.Authenticate(recent)
	require.NoError(t, err)
}
