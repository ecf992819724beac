package router

import (
	"gig-messenger/controller"
	"gig-messenger/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RestOptions struct {
	// Enforcer guards the admin routes. Nil leaves them unmounted.
	Enforcer *casbin.Enforcer
	// RequestLog enables the fiber access log.
	RequestLog bool
	Log        zerolog.Logger
}

func Rest(app *fiber.App, h *controller.Messenger, opts RestOptions) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/v1")
	if opts.RequestLog {
		api.Use(logger.New())
	}

	auth := []fiber.Handler{middleware.JWT(), middleware.OTP(), middleware.Identity()}

	// Messenger
	messenger := api.Group("/messenger", auth...)
	messenger.Get("/entities", h.Entities)
	messenger.Get("/unread", h.Unread)
	messenger.Get("/conversations", h.Conversations)
	messenger.Get("/conversations/:id/messages", h.Messages)
	messenger.Get("/conversations/:id/unread", h.ConversationUnread)
	messenger.Post("/conversations/:id/read", h.MarkRead)
	messenger.Post("/conversations/:id/delivered", h.MarkDelivered)
	messenger.Delete("/conversations/:id", h.DeleteConversation)
	messenger.Post("/messages", h.Send)
	messenger.Post("/messages/:id/reactions", h.React)
	messenger.Delete("/messages/:id", h.DeleteMessage)

	// Admin
	if opts.Enforcer != nil {
		admin := api.Group("/admin", append(auth, middleware.RBAC(opts.Enforcer, opts.Log))...)
		admin.Get("/conversations/:id/messages", h.AuditMessages)
	}
}
