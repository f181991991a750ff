package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	DoctorIDKey contextKey = "doctor_id"
	claimsKey   contextKey = "claims"
)

// JWTConfig wires the bearer-token middleware.
type JWTConfig struct {
	Tokens      *Tokens
	Revocations RevocationStore
	Skipper     func(c echo.Context) bool
	Logger      zerolog.Logger
}

// JWTMiddleware authenticates the doctor behind the bearer token and puts
// their id on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			raw, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			claims, err := cfg.Tokens.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			if cfg.Revocations != nil {
				revoked, err := cfg.Revocations.IsRevoked(c.Request().Context(), claims.ID)
				if err != nil {
					// Fail closed.
					cfg.Logger.Error().Err(err).Msg("revocation lookup failed")
					return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
				}
			}

			doctorID := uuid.MustParse(claims.DoctorID)
			c.Set(string(DoctorIDKey), claims.DoctorID)
			c.SetRequest(c.Request().WithContext(WithClaims(c.Request().Context(), doctorID, claims)))
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims returns ctx carrying the authenticated doctor.
func WithClaims(ctx context.Context, doctorID uuid.UUID, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, DoctorIDKey, doctorID)
	return context.WithValue(ctx, claimsKey, claims)
}

// WithDoctorID is WithClaims without a token, for tests and internal callers.
func WithDoctorID(ctx context.Context, doctorID uuid.UUID) context.Context {
	return context.WithValue(ctx, DoctorIDKey, doctorID)
}

// DoctorIDFromContext returns the authenticated doctor, or uuid.Nil.
func DoctorIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(DoctorIDKey).(uuid.UUID)
	return id
}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}
