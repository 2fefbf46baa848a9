package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/session-market/backend/internal/auth"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/rbac"
	"go.uber.org/zap"
)

const (
	CtxIdentity = "identity"
	CtxRole     = "role"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxIdentity, claims.Identity)
		c.Locals(CtxRole, claims.Role)

		return c.Next()
	}
}

func GetIdentity(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxIdentity).(string)
	return id
}

func GetRole(c *fiber.Ctx) string {
	role, _ := c.Locals(CtxRole).(string)
	return role
}

// OperatorMiddleware restricts dispute resolution and other manual
// interventions to configured operator identities.
func OperatorMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetRole(c) != auth.RoleOperator && !cfg.IsOperator(GetIdentity(c)) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "operator access required"})
		}
		return c.Next()
	}
}

// RequirePermission gates a route on the role permission table.
func RequirePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rbac.HasPermission(GetRole(c), permission) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient permissions"})
		}
		return c.Next()
	}
}
