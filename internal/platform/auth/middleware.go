// Package auth extracts the calling actor from an already-issued bearer
// token. Issuing tokens and managing sessions happen elsewhere.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
)

type contextKey string

const (
	ActorKey contextKey = "actor_ref"
	RolesKey contextKey = "actor_roles"
)

// Roles understood by the API. RoleAdmin passes every role check.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RolePatient = "patient"
)

// DevActor is the actor injected by DevAuthMiddleware for anonymous requests.
const DevActor = "dev-user"

// Claims carry the actor reference in "sub".
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
}

func unauthorized(msg string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, middleware.ErrorBody{Code: "UNAUTHORIZED", Message: msg})
}

func (cfg JWTConfig) parse(header string) (*Claims, error) {
	scheme, tokenStr, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
		return nil, unauthorized("invalid authorization format")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, unauthorized("invalid token")
	}
	return claims, nil
}

func withActor(c echo.Context, actor string, roles []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, ActorKey, actor)
	ctx = context.WithValue(ctx, RolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware requires a valid HS256 bearer token.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return unauthorized("missing authorization header")
			}
			claims, err := cfg.parse(header)
			if err != nil {
				return err
			}
			withActor(c, claims.Subject, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware lets anonymous requests through as an admin DevActor.
// A presented token is still validated when a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" || len(cfg.SigningKey) == 0 {
				withActor(c, DevActor, []string{RoleAdmin})
				return next(c)
			}
			claims, err := cfg.parse(header)
			if err != nil {
				return err
			}
			withActor(c, claims.Subject, claims.Roles)
			return next(c)
		}
	}
}

func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ActorKey).(string)
	return actor
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(RolesKey).([]string)
	return roles
}

// HasRole reports whether the actor holds role, or is an admin.
func HasRole(ctx context.Context, role string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == role || has == RoleAdmin {
			return true
		}
	}
	return false
}
