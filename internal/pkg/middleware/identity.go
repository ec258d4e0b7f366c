package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/app/repository"
	"github.com/pharmalink/pharmalink/internal/pkg/usercontext"
)

// Claims are the identity token claims issued by the portal's identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IdentityConfig configures token verification.
type IdentityConfig struct {
	// Secret is the shared HS256 signing key.
	Secret   []byte
	Issuer   string
	Audience string
	Accounts repository.AccountRepository
}

var knownRoles = map[string]bool{
	models.RolePatient:  true,
	models.RoleDoctor:   true,
	models.RolePharmacy: true,
	models.RoleFactory:  true,
	models.RoleAdmin:    true,
}

// ParseIdentityToken verifies a bearer token and returns its claims.
func ParseIdentityToken(tokenStr string, cfg IdentityConfig) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	claims.Role = strings.ToLower(strings.TrimSpace(claims.Role))
	if claims.Role == "" {
		claims.Role = models.RolePatient
	}
	if !knownRoles[claims.Role] {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// IdentityMiddleware verifies the bearer token, if any, and attaches the caller's
// account to the request. Requests without a token continue anonymously;
// RequireAuth decides whether that is acceptable.
func IdentityMiddleware(cfg IdentityConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := extractBearerToken(c)
		if tokenStr == "" {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		claims, err := ParseIdentityToken(tokenStr, cfg)
		if err != nil {
			log.Debugf("[Auth] Rejected token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid token"})
		}

		acc, err := cfg.Accounts.EnsureFromIdentity(c.UserContext(), claims.Subject, claims.Email, claims.Role)
		if err != nil {
			log.Errorf("[Auth] Failed to resolve account for %s: %v", claims.Subject, err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Account lookup failed"})
		}

		usercontext.Set(c, usercontext.UserContext{
			AccountID:  acc.ID,
			ExternalID: acc.ExternalID,
			Email:      acc.Email,
			Role:       acc.Role,
			Plan:       acc.Plan,
			IsLoggedIn: true,
			IsAdmin:    acc.IsAdmin(),
		})
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
