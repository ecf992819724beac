package router

import (
	"context"
	"encoding/json"
	"errors"

	"gig-messenger/messenger"
	"gig-messenger/model"
	"gig-messenger/utils"

	"github.com/rs/zerolog"
	"github.com/zishang520/socket.io/v2/socket"
)

// Client events.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventMarkRead          = "mark-read"
	EventMarkDelivered     = "mark-delivered"
	EventError             = "error"
)

// RealtimeService is the part of the messaging core sockets can drive.
type RealtimeService interface {
	Conversation(ctx context.Context, userID string, id uint) (model.Conversation, model.EntityRef, error)
	MarkRead(ctx context.Context, userID string, conversationID uint, reader model.EntityRef) (int64, error)
	MarkDelivered(ctx context.Context, userID string, conversationID uint, reader model.EntityRef) (int64, error)
}

type ConversationInput struct {
	ConversationID uint `json:"conversationId"`
}

type MarkInput struct {
	ConversationID uint            `json:"conversationId"`
	ReaderEntity   model.EntityRef `json:"readerEntity"`
}

type MarkResult struct {
	ConversationID uint  `json:"conversationId"`
	Updated        int64 `json:"updated"`
}

type SocketError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

var errBadPayload = messenger.Invalid("malformed payload")

// SocketHandler holds the event logic, independent of the socket it runs on.
type SocketHandler struct {
	svc RealtimeService
	log zerolog.Logger
}

func NewSocketHandler(svc RealtimeService, log zerolog.Logger) *SocketHandler {
	return &SocketHandler{svc: svc, log: log}
}

// Join authorizes userID for the conversation and returns the room to join.
func (h *SocketHandler) Join(ctx context.Context, userID string, in ConversationInput) (socket.Room, error) {
	conversation, _, err := h.svc.Conversation(ctx, userID, in.ConversationID)
	if err != nil {
		return "", err
	}
	return socket.Room(messenger.ConversationChannel(conversation.ID)), nil
}

func (h *SocketHandler) Mark(ctx context.Context, userID, event string, in MarkInput) (MarkResult, error) {
	mark := h.svc.MarkRead
	if event == EventMarkDelivered {
		mark = h.svc.MarkDelivered
	}

	updated, err := mark(ctx, userID, in.ConversationID, in.ReaderEntity)
	if err != nil {
		return MarkResult{}, err
	}
	return MarkResult{ConversationID: in.ConversationID, Updated: updated}, nil
}

// decode re-marshals the first socket argument into v.
func decode(args []any, v any) error {
	if len(args) == 0 {
		return errBadPayload
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

func errorMessage(err error) string {
	var e *messenger.Error
	if errors.As(err, &e) && e.Kind != messenger.KindInternal {
		return e.Message
	}
	return "Internal server error"
}

func Socket(server *socket.Server, h *SocketHandler) {
	server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		metadata, ok := client.Data().(*utils.TokenMetadata)
		if !ok {
			client.Disconnect(true)
			return
		}
		userID := metadata.Id

		reject := func(event string, err error) {
			if messenger.KindOf(err) == messenger.KindInternal {
				h.log.Error().Err(err).Str("event", event).Str("user", userID).Msg("socket event failed")
			}
			client.Emit(EventError, SocketError{Event: event, Message: errorMessage(err)})
		}

		client.On(EventJoinConversation, func(args ...any) {
			var in ConversationInput
			if err := decode(args, &in); err != nil {
				reject(EventJoinConversation, err)
				return
			}
			room, err := h.Join(context.Background(), userID, in)
			if err != nil {
				reject(EventJoinConversation, err)
				return
			}
			client.Join(room)
			client.Emit(EventJoinConversation, in)
		})

		client.On(EventLeaveConversation, func(args ...any) {
			var in ConversationInput
			if err := decode(args, &in); err != nil {
				reject(EventLeaveConversation, err)
				return
			}
			client.Leave(socket.Room(messenger.ConversationChannel(in.ConversationID)))
		})

		for _, event := range []string{EventMarkRead, EventMarkDelivered} {
			event := event
			client.On(event, func(args ...any) {
				var in MarkInput
				if err := decode(args, &in); err != nil {
					reject(event, err)
					return
				}
				result, err := h.Mark(context.Background(), userID, event, in)
				if err != nil {
					reject(event, err)
					return
				}
				client.Emit(event, result)
			})
		}
	})
}
