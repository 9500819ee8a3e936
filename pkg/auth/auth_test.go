package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestAuthenticator_IssueAndParse(t *testing.T) {
	a := NewAuthenticator(Config{Secret: "s3cret", Issuer: "propertyescrow", TTL: time.Hour})

	token, err := a.Issue(alice)
	require.NoError(t, err)

	addr, err := a.Parse(token)
	require.NoError(t, err)
	require.Equal(t, alice, addr)
}

func TestAuthenticator_RejectsExpired(t *testing.T) {
	a := NewAuthenticator(Config{Secret: "s3cret", TTL: time.Minute})
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := a.Issue(alice)
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.Parse(token)

	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_RejectsWrongSecretAndIssuer(t *testing.T) {
	issuer := NewAuthenticator(Config{Secret: "one", Issuer: "a"})
	token, err := issuer.Issue(alice)
	require.NoError(t, err)

	_, err = NewAuthenticator(Config{Secret: "two", Issuer: "a"}).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator(Config{Secret: "one", Issuer: "b"}).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_RejectsNonAddressSubject(t *testing.T) {
	a := NewAuthenticator(Config{Secret: "s3cret"})
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = a.Parse(token)

	require.ErrorIs(t, err, ErrInvalidSubject)
}

func TestAuthenticator_NoSecret(t *testing.T) {
	a := NewAuthenticator(Config{})

	_, err := a.Issue(alice)

	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthenticator(Config{Secret: "s3cret"})
	r := gin.New()
	r.GET("/whoami", a.Middleware(), func(c *gin.Context) {
		addr, ok := Caller(c)
		require.True(t, ok)
		c.String(http.StatusOK, addr.Hex())
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := a.Issue(alice)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, alice.Hex(), w.Body.String())
}
