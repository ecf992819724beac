package middleware

import (
	"gig-messenger/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUserID is the fiber local holding the authenticated user id.
const LocalUserID = "userId"

func claims(c *fiber.Ctx) (jwt.MapClaims, bool) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return nil, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	return claims, ok
}

// OTP rejects tokens issued before the second factor was validated.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := claims(c)
		if !ok {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
		}

		if otp, _ := claims["otp"].(bool); otp {
			return fail(c, fiber.StatusBadRequest, "2FA required")
		}

		return c.Next()
	}
}

// Identity stores the token's user id under LocalUserID.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := claims(c)
		if !ok {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
		}
		metadata, err := utils.ClaimsMetadata(claims)
		if err != nil {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired JWT")
		}

		c.Locals(LocalUserID, metadata.Id)
		return c.Next()
	}
}

// UserID returns the id stored by Identity.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
