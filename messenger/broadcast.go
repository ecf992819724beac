package messenger

import (
	"context"
	"fmt"

	"gig-messenger/metrics"
	"gig-messenger/model"
)

// Realtime event names. They are a wire contract with existing clients.
const (
	EventNewMessage        = "new-message"
	EventReactionUpdate    = "reaction-update"
	EventMessagesRead      = "messages-read"
	EventMessagesDelivered = "messages-delivered"
	EventMessageDeleted    = "message-deleted"
	EventNewNotification   = "new-notification"
)

func ConversationChannel(id uint) string {
	return fmt.Sprintf("conversation:%d", id)
}

func NotificationsChannel(userID string) string {
	return "notifications:" + userID
}

type NewMessagePayload struct {
	Message        model.Message `json:"message"`
	ConversationID uint          `json:"conversationId"`
}

// ReactionUpdatePayload carries the full ledger; clients replace their copy.
type ReactionUpdatePayload struct {
	MessageID uint            `json:"messageId"`
	Reactions model.Reactions `json:"reactions"`
}

type MessagesReadPayload struct {
	ConversationID uint  `json:"conversationId"`
	ReaderEntityID uint  `json:"readerEntityId"`
	Count          int64 `json:"count"`
}

type MessageDeletedPayload struct {
	MessageID      uint `json:"messageId"`
	ConversationID uint `json:"conversationId"`
}

type NewNotificationPayload struct {
	Notification   model.Notification `json:"notification"`
	Type           string             `json:"type"`
	ConversationID uint               `json:"conversationId"`
}

// publish is fire-and-forget relative to the write that triggered it: failures are
// logged and counted, never returned.
func (s *Service) publish(ctx context.Context, channel, event string, payload any) {
	if s.broadcaster == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()

	if err := s.broadcaster.Publish(ctx, channel, event, payload); err != nil {
		metrics.BroadcastFailures.WithLabelValues(event).Inc()
		s.log.Warn().
			Err(err).
			Str("channel", channel).
			Str("event", event).
			Msg("broadcast failed")
	}
}
