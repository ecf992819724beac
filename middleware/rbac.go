package middleware

import (
	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RBAC enforces the casbin policy for (user, path, method). It must run after Identity.
func RBAC(enforcer *casbin.Enforcer, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accepted, err := enforcer.Enforce(UserID(c), c.Path(), c.Method())
		if err != nil {
			log.Error().Err(err).Str("path", c.Path()).Msg("policy evaluation failed")
			return fail(c, fiber.StatusInternalServerError, "Internal server error")
		}

		if !accepted {
			return fail(c, fiber.StatusForbidden, "Unauthorized")
		}

		return c.Next()
	}
}
