package controller

import (
	"gig-messenger/middleware"

	"github.com/gofiber/fiber/v2"
)

// Entities lists the artist profiles and event postings the caller can message as.
func (h *Messenger) Entities(c *fiber.Ctx) error {
	entities, err := h.svc.MyEntities(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, entities)
}
