package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
)

// Context keys set by JWT.
const (
	KeyUserID = "user_id"
	KeyRole   = "role"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AccountLookup resolves the account behind a token. *account.Service
// satisfies it.
type AccountLookup interface {
	Get(ctx context.Context, id string) (*account.Account, error)
}

// IssueToken signs an HS256 token for the account valid for ttl.
func IssueToken(secret []byte, userID string, role account.Role, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// JWT authenticates the Bearer token and stores user_id and role in the
// echo context. The role is read from the account so role changes and
// disabled accounts take effect without waiting for the token to expire.
func JWT(secret []byte, accounts AccountLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, ok := bearerToken(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing or malformed Authorization header"})
			}
			claims, err := ParseToken(secret, tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			return authenticate(c, next, claims, accounts)
		}
	}
}

// bearerToken reads the Authorization header. Websocket upgrades may pass
// the token as ?token= since browsers cannot set headers on them.
func bearerToken(c echo.Context) (string, bool) {
	const prefix = "Bearer "
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, prefix) && len(header) > len(prefix) {
		return header[len(prefix):], true
	}
	if header == "" && strings.EqualFold(c.Request().Header.Get("Upgrade"), "websocket") {
		if t := c.QueryParam("token"); t != "" {
			return t, true
		}
	}
	return "", false
}

func authenticate(c echo.Context, next echo.HandlerFunc, claims *Claims, accounts AccountLookup) error {
	role := claims.Role
	if accounts != nil {
		acct, err := accounts.Get(c.Request().Context(), claims.UserID)
		if errors.Is(err, account.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account not found"})
		}
		if err != nil {
			return err
		}
		if !acct.IsActive {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "account suspended"})
		}
		role = string(acct.Role)
	}
	c.Set(KeyUserID, claims.UserID)
	c.Set(KeyRole, role)
	return next(c)
}

// UserID returns the authenticated account id, or "" outside JWT.
func UserID(c echo.Context) string {
	id, _ := c.Get(KeyUserID).(string)
	return id
}

// Role returns the authenticated account's role.
func Role(c echo.Context) account.Role {
	r, _ := c.Get(KeyRole).(string)
	return account.Role(r)
}
