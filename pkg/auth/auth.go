package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"propertyescrow/pkg/response"
)

const callerKey = "auth.caller"

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidSubject = errors.New("token subject is not an address")
	errNoSecret       = errors.New("auth secret not configured")
)

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Authenticator issues and verifies HS256 bearer tokens whose subject is the
// caller's address. Verified callers are trusted as-is by the escrow engine.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(cfg Config) *Authenticator {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for addr.
func (a *Authenticator) Issue(addr common.Address) (string, error) {
	if len(a.secret) == 0 {
		return "", errNoSecret
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   addr.Hex(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies token and returns the address it was issued for.
func (a *Authenticator) Parse(token string) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return common.Address{}, ErrInvalidToken
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, ErrInvalidSubject
	}
	return common.HexToAddress(claims.Subject), nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address on the gin context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			response.AbortWithAPIResponse(c, http.StatusUnauthorized, ErrMissingToken.Error())
			return
		}
		addr, err := a.Parse(token)
		if err != nil {
			response.AbortWithAPIResponse(c, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		SetCaller(c, addr)
		c.Next()
	}
}

// Caller returns the authenticated address for the request.
func Caller(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

func SetCaller(c *gin.Context, addr common.Address) {
	c.Set(callerKey, addr)
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
