// Package notification keeps the durable notification record and hands it to the
// push workers.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"gig-messenger/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	PushQueue     = "push"
	ActionCreated = "notification_created"
)

// Publisher puts an action on a broker queue.
type Publisher interface {
	Emit(ctx context.Context, queue, action string, data []byte) error
}

type Sink struct {
	db        *gorm.DB
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewSink(db *gorm.DB, publisher Publisher, log zerolog.Logger) *Sink {
	return &Sink{db: db, publisher: publisher, log: log, now: time.Now}
}

// CreateNotification stores the notification and queues it for push delivery.
// The record is kept even when the push cannot be queued.
func (s *Sink) CreateNotification(ctx context.Context, in model.NotificationInput) (model.Notification, error) {
	notification := model.Notification{
		RecipientUserID: in.RecipientUserID,
		Type:            in.Type,
		Title:           in.Title,
		Message:         in.Message,
		CreatedAt:       s.now().UTC(),
	}
	if in.RelatedConversationID != 0 {
		id := in.RelatedConversationID
		notification.RelatedConversationID = &id
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return model.Notification{}, err
	}

	if s.publisher == nil {
		return notification, nil
	}

	data, err := json.Marshal(notification)
	if err == nil {
		err = s.publisher.Emit(ctx, PushQueue, ActionCreated, data)
	}
	if err != nil {
		s.log.Warn().
			Err(err).
			Uint("notification", notification.ID).
			Str("queue", PushQueue).
			Msg("push enqueue failed")
	}
	return notification, nil
}
