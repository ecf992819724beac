package messenger

import (
	"context"
	"strings"
	"unicode/utf8"

	"gig-messenger/metrics"
	"gig-messenger/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const MaxContentLength = 2000

type SendInput struct {
	SenderEntity    model.EntityRef `json:"senderEntity"`
	ReceiverEntity  model.EntityRef `json:"receiverEntity"`
	Content         string          `json:"content"`
	AttachmentURL   string          `json:"attachmentUrl"`
	AttachmentType  string          `json:"attachmentType"`
	ClientMessageID string          `json:"clientMessageId"`
}

type SendResult struct {
	Message        model.Message `json:"message"`
	ConversationID uint          `json:"conversationId"`
	// Duplicate is set when the clientMessageId was already stored.
	Duplicate bool `json:"-"`
}

// validate runs the content checks in order: empty first, then length.
func (in SendInput) validate() (content, attachment string, err error) {
	if !in.SenderEntity.Type.Valid() || !in.ReceiverEntity.Type.Valid() {
		return "", "", ErrInvalidEntityType
	}

	content = strings.TrimSpace(in.Content)
	attachment = strings.TrimSpace(in.AttachmentURL)
	if content == "" && attachment == "" {
		return "", "", ErrEmptyMessage
	}
	// the limit applies to what the sender typed, surrounding whitespace included
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return "", "", ErrMessageTooLong
	}
	if in.SenderEntity == in.ReceiverEntity {
		return "", "", ErrSelfConversation
	}
	if in.ClientMessageID != "" {
		if _, err := uuid.Parse(in.ClientMessageID); err != nil {
			return "", "", ErrInvalidClientID
		}
	}
	return content, attachment, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Send persists a message from in.SenderEntity to in.ReceiverEntity on behalf of userID.
// The conversation is created on first contact. Broadcast and notification happen after
// the write and never fail it.
func (s *Service) Send(ctx context.Context, userID string, in SendInput) (SendResult, error) {
	if err := s.Resolve(ctx, userID, in.SenderEntity); err != nil {
		return SendResult{}, err
	}
	content, attachment, err := in.validate()
	if err != nil {
		return SendResult{}, err
	}

	receiverOwner, err := s.ownerOf(ctx, in.ReceiverEntity)
	if err != nil {
		return SendResult{}, err
	}

	if err := s.allowSend(ctx, in.SenderEntity); err != nil {
		return SendResult{}, err
	}

	message := model.Message{
		SenderEntity:    in.SenderEntity,
		Content:         optional(content),
		AttachmentURL:   optional(attachment),
		AttachmentType:  optional(in.AttachmentType),
		Status:          model.StatusSent,
		Reactions:       model.Reactions{},
		ClientMessageID: optional(in.ClientMessageID),
	}
	if message.AttachmentURL == nil {
		message.AttachmentType = nil
	}

	db, cancel := s.store(ctx)
	defer cancel()

	var conversation model.Conversation
	duplicate := false
	err = db.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		var err error
		conversation, err = findOrCreateConversation(tx, in.SenderEntity, in.ReceiverEntity, now)
		if err != nil {
			return err
		}

		message.ConversationID = conversation.ID
		message.CreatedAt = now
		message.UpdatedAt = now

		if message.ClientMessageID != nil {
			stored, found, err := findByClientID(tx, conversation.ID, in.SenderEntity, *message.ClientMessageID)
			if err != nil {
				return err
			}
			if found {
				message, duplicate = stored, true
				return nil
			}
		}

		insert := tx
		if message.ClientMessageID != nil {
			insert = tx.Clauses(clause.OnConflict{DoNothing: true})
		}
		result := insert.Create(&message)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 && message.ClientMessageID != nil {
			// lost a race against a retry carrying the same clientMessageId
			stored, found, err := findByClientID(tx, conversation.ID, in.SenderEntity, *message.ClientMessageID)
			if err != nil {
				return err
			}
			if !found {
				// the id is taken by the other side of the conversation
				return ErrInvalidClientID
			}
			message, duplicate = stored, true
			return nil
		}

		conversation.LastMessageAt = now
		return tx.Model(&model.Conversation{}).
			Where("id = ?", conversation.ID).
			Update("last_message_at", now).Error
	})
	if err != nil {
		return SendResult{}, storeError(err, nil)
	}

	result := SendResult{Message: message, ConversationID: conversation.ID, Duplicate: duplicate}
	if duplicate {
		return result, nil
	}

	metrics.MessagesSent.Inc()
	s.publish(ctx, ConversationChannel(conversation.ID), EventNewMessage, NewMessagePayload{
		Message:        message,
		ConversationID: conversation.ID,
	})

	if receiverOwner != userID {
		s.notifyNewMessage(ctx, receiverOwner, in.SenderEntity, conversation.ID)
	}

	return result, nil
}

func findByClientID(tx *gorm.DB, conversationID uint, sender model.EntityRef, clientID string) (model.Message, bool, error) {
	var messages []model.Message
	err := tx.
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientID).
		Where("sender_entity_type = ? AND sender_entity_id = ?", sender.Type, sender.ID).
		Limit(1).
		Find(&messages).Error
	if err != nil || len(messages) == 0 {
		return model.Message{}, false, err
	}
	return messages[0], true, nil
}

func (s *Service) allowSend(ctx context.Context, sender model.EntityRef) error {
	if s.limiter == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	ok, err := s.limiter.Allow(ctx, "send:"+sender.String())
	if err != nil {
		// the limiter guards abuse, it must not take sending down with it
		s.log.Warn().Err(err).Str("entity", sender.String()).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return ErrSendRateExceeded
	}
	return nil
}

// notifyNewMessage records a notification for the receiver's owner and pushes it on
// their notification channel. It runs detached from the request.
func (s *Service) notifyNewMessage(ctx context.Context, recipientUserID string, sender model.EntityRef, conversationID uint) {
	if s.notifier == nil {
		return
	}

	parent := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(parent, s.opts.NotifyTimeout)
		defer cancel()

		body := "You have a new message"
		if summary, err := s.oracle.Describe(ctx, sender); err == nil && summary.Name != "" {
			body = summary.Name + " sent you a message"
		}

		in := model.NotificationInput{
			RecipientUserID:       recipientUserID,
			Type:                  model.NotificationTypeNewMessage,
			Title:                 "New message",
			Message:               body,
			RelatedConversationID: conversationID,
		}
		notification, err := s.notifier.CreateNotification(ctx, in)
		if err != nil {
			metrics.NotificationFailures.Inc()
			s.log.Warn().Err(err).Stringer("notification", in).Msg("notification failed")
			return
		}

		s.publish(ctx, NotificationsChannel(recipientUserID), EventNewNotification, NewNotificationPayload{
			Notification:   notification,
			Type:           model.NotificationTypeNewMessage,
			ConversationID: conversationID,
		})
	}()
}

func loadMessage(tx *gorm.DB, id uint) (model.Message, error) {
	var message model.Message
	if err := tx.Where("is_deleted = ?", false).First(&message, id).Error; err != nil {
		return model.Message{}, storeError(err, ErrMessageGone)
	}
	return message, nil
}

// SoftDelete hides a message from every read path. Only the owner of the sender entity
// may delete; the row stays for audit.
func (s *Service) SoftDelete(ctx context.Context, userID string, messageID uint) error {
	db, cancel := s.store(ctx)
	defer cancel()

	message, err := loadMessage(db, messageID)
	if err != nil {
		return err
	}
	if err := s.Resolve(ctx, userID, message.SenderEntity); err != nil {
		return err
	}

	err = db.Model(&model.Message{}).
		Where("id = ?", message.ID).
		Updates(map[string]any{"is_deleted": true, "updated_at": s.now()}).Error
	if err != nil {
		return storeError(err, nil)
	}

	s.publish(ctx, ConversationChannel(message.ConversationID), EventMessageDeleted, MessageDeletedPayload{
		MessageID:      message.ID,
		ConversationID: message.ConversationID,
	})
	return nil
}
