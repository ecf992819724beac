package controller

import (
	"context"
	"errors"

	"gig-messenger/messenger"
	"gig-messenger/middleware"
	"gig-messenger/model"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Service is the messaging core as seen by the REST layer.
type Service interface {
	MyEntities(ctx context.Context, userID string) ([]model.EntitySummary, error)
	Conversations(ctx context.Context, userID string, entity model.EntityRef) ([]messenger.ConversationSummary, error)
	UnreadTotal(ctx context.Context, userID string, entity model.EntityRef) (int64, error)
	ConversationUnread(ctx context.Context, userID string, conversationID uint, viewer model.EntityRef) (int64, error)
	GetMessages(ctx context.Context, userID string, conversationID uint, page, limit int, anchor uint) (messenger.Page, error)
	Audit(ctx context.Context, conversationID uint, page, limit int) (messenger.Page, error)
	Send(ctx context.Context, userID string, in messenger.SendInput) (messenger.SendResult, error)
	MarkRead(ctx context.Context, userID string, conversationID uint, reader model.EntityRef) (int64, error)
	MarkDelivered(ctx context.Context, userID string, conversationID uint, reader model.EntityRef) (int64, error)
	ToggleReaction(ctx context.Context, userID string, messageID uint, emoji string, reactor model.EntityRef) (model.Message, error)
	SoftDelete(ctx context.Context, userID string, messageID uint) error
	DeleteConversation(ctx context.Context, userID string, id uint) error
}

type Messenger struct {
	svc Service
	log zerolog.Logger
}

func NewMessenger(svc Service, log zerolog.Logger) *Messenger {
	return &Messenger{svc: svc, log: log}
}

type ReaderInput struct {
	ReaderEntity model.EntityRef `json:"readerEntity"`
}

type ReactionInput struct {
	Emoji  string          `json:"emoji"`
	Entity model.EntityRef `json:"entity"`
}

func success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func failure(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

// respond maps a service error onto a status code. Internal details stay in the log.
func (h *Messenger) respond(c *fiber.Ctx, err error) error {
	var e *messenger.Error
	if !errors.As(err, &e) {
		e = messenger.Internal("unexpected failure", err)
	}

	switch e.Kind {
	case messenger.KindAuthorization:
		return failure(c, fiber.StatusForbidden, e.Message)
	case messenger.KindValidation:
		return failure(c, fiber.StatusBadRequest, e.Message)
	case messenger.KindNotFound:
		return failure(c, fiber.StatusNotFound, e.Message)
	case messenger.KindRateLimited:
		return failure(c, fiber.StatusTooManyRequests, e.Message)
	}

	h.log.Error().
		Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return failure(c, fiber.StatusInternalServerError, "Internal server error")
}

func paramID(c *fiber.Ctx) (uint, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func queryEntity(c *fiber.Ctx) (model.EntityRef, error) {
	return model.ParseEntityRef(c.Query("entityId"), c.Query("entityType"))
}

func (h *Messenger) Conversations(c *fiber.Ctx) error {
	entity, err := queryEntity(c)
	if err != nil {
		return failure(c, fiber.StatusBadRequest, err.Error())
	}

	conversations, err := h.svc.Conversations(c.UserContext(), middleware.UserID(c), entity)
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, conversations)
}

func (h *Messenger) Unread(c *fiber.Ctx) error {
	entity, err := queryEntity(c)
	if err != nil {
		return failure(c, fiber.StatusBadRequest, err.Error())
	}

	total, err := h.svc.UnreadTotal(c.UserContext(), middleware.UserID(c), entity)
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, fiber.Map{"unread": total})
}

// ConversationUnread counts what the entity in the query has not read in one conversation.
func (h *Messenger) ConversationUnread(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid conversation id")
	}
	viewer, err := queryEntity(c)
	if err != nil {
		return failure(c, fiber.StatusBadRequest, err.Error())
	}

	unread, err := h.svc.ConversationUnread(c.UserContext(), middleware.UserID(c), id, viewer)
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, fiber.Map{"unread": unread})
}

func (h *Messenger) Messages(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid conversation id")
	}
	anchor := c.QueryInt("anchor", 0)
	if anchor < 0 {
		anchor = 0
	}

	page, err := h.svc.GetMessages(
		c.UserContext(),
		middleware.UserID(c),
		id,
		c.QueryInt("page", 1),
		c.QueryInt("limit", messenger.DefaultPageSize),
		uint(anchor),
	)
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, page)
}

func (h *Messenger) MarkRead(c *fiber.Ctx) error {
	return h.advance(c, h.svc.MarkRead)
}

func (h *Messenger) MarkDelivered(c *fiber.Ctx) error {
	return h.advance(c, h.svc.MarkDelivered)
}

func (h *Messenger) advance(c *fiber.Ctx, mark func(context.Context, string, uint, model.EntityRef) (int64, error)) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid conversation id")
	}
	input := new(ReaderInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Invalid input data")
	}

	updated, err := mark(c.UserContext(), middleware.UserID(c), id, input.ReaderEntity)
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, fiber.Map{"updated": updated})
}

func (h *Messenger) DeleteConversation(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	if err := h.svc.DeleteConversation(c.UserContext(), middleware.UserID(c), id); err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, nil)
}

func (h *Messenger) Send(c *fiber.Ctx) error {
	input := new(messenger.SendInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Invalid input data")
	}

	result, err := h.svc.Send(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return h.respond(c, err)
	}

	status := fiber.StatusCreated
	if result.Duplicate {
		status = fiber.StatusOK
	}
	return success(c, status, result)
}

func (h *Messenger) React(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid message id")
	}
	input := new(ReactionInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, fiber.StatusBadRequest, "Invalid input data")
	}

	message, err := h.svc.ToggleReaction(c.UserContext(), middleware.UserID(c), id, input.Emoji, input.Entity)
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, message)
}

func (h *Messenger) DeleteMessage(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid message id")
	}

	if err := h.svc.SoftDelete(c.UserContext(), middleware.UserID(c), id); err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, nil)
}

// AuditMessages serves the full history of a conversation, soft-deleted messages included.
func (h *Messenger) AuditMessages(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return failure(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	page, err := h.svc.Audit(c.UserContext(), id, c.QueryInt("page", 1), c.QueryInt("limit", messenger.DefaultPageSize))
	if err != nil {
		return h.respond(c, err)
	}
	return success(c, fiber.StatusOK, page)
}
