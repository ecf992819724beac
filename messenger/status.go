package messenger

import (
	"context"
	"time"

	"gig-messenger/model"

	"gorm.io/gorm"
)

// unreadScope narrows messages to those viewer has not read: not sent by viewer,
// not deleted, not yet read.
func unreadScope(viewer model.EntityRef) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.
			Where("is_deleted = ?", false).
			Where("status <> ?", model.StatusRead).
			Where("NOT (sender_entity_type = ? AND sender_entity_id = ?)", viewer.Type, viewer.ID)
	}
}

// MarkRead moves every unread message in the conversation that reader did not send to
// read and returns how many changed. Calling it again is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID string, conversationID uint, reader model.EntityRef) (int64, error) {
	return s.advance(ctx, userID, conversationID, reader, model.StatusRead, EventMessagesRead)
}

// MarkDelivered moves messages still in sent to delivered. Messages already read are
// left alone.
func (s *Service) MarkDelivered(ctx context.Context, userID string, conversationID uint, reader model.EntityRef) (int64, error) {
	return s.advance(ctx, userID, conversationID, reader, model.StatusDelivered, EventMessagesDelivered)
}

func (s *Service) advance(ctx context.Context, userID string, conversationID uint, reader model.EntityRef, to model.Status, event string) (int64, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	conversation, err := loadConversation(db, conversationID)
	if err != nil {
		return 0, err
	}
	if err := s.resolveReader(ctx, userID, conversation, reader); err != nil {
		return 0, err
	}

	// only statuses strictly before the target qualify, so nothing ever moves back
	var from []model.Status
	for _, st := range []model.Status{model.StatusSent, model.StatusDelivered} {
		if st.Before(to) {
			from = append(from, st)
		}
	}

	result := db.Model(&model.Message{}).
		Scopes(unreadScope(reader)).
		Where("conversation_id = ?", conversation.ID).
		Where("status IN ?", from).
		Updates(map[string]any{"status": to, "updated_at": s.now()})
	if result.Error != nil {
		return 0, storeError(result.Error, nil)
	}

	if result.RowsAffected > 0 {
		s.publish(ctx, ConversationChannel(conversation.ID), event, MessagesReadPayload{
			ConversationID: conversation.ID,
			ReaderEntityID: reader.ID,
			Count:          result.RowsAffected,
		})
	}
	return result.RowsAffected, nil
}

// ConversationUnread is the unread count of one conversation as seen by viewer.
// userID must control viewer and viewer must take part in the conversation.
func (s *Service) ConversationUnread(ctx context.Context, userID string, conversationID uint, viewer model.EntityRef) (int64, error) {
	db, cancel := s.store(ctx)
	conversation, err := loadConversation(db, conversationID)
	cancel()
	if err != nil {
		return 0, err
	}
	if err := s.resolveReader(ctx, userID, conversation, viewer); err != nil {
		return 0, err
	}
	return s.unreadCount(ctx, viewer, conversation.ID)
}

// unreadCount is the number of messages in the conversation that viewer has not read.
func (s *Service) unreadCount(ctx context.Context, viewer model.EntityRef, conversationID uint) (int64, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	var count int64
	err := db.Model(&model.Message{}).
		Scopes(unreadScope(viewer)).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, storeError(err, nil)
}

func participantScope(e model.EntityRef) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("(entity_a_type = ? AND entity_a_id = ?) OR (entity_b_type = ? AND entity_b_id = ?)",
			e.Type, e.ID, e.Type, e.ID)
	}
}

// UnreadTotal sums the unread counts of every conversation the entity takes part in.
func (s *Service) UnreadTotal(ctx context.Context, userID string, entity model.EntityRef) (int64, error) {
	if err := s.Resolve(ctx, userID, entity); err != nil {
		return 0, err
	}

	db, cancel := s.store(ctx)
	defer cancel()

	conversations := db.Model(&model.Conversation{}).Select("id").Scopes(participantScope(entity))

	var count int64
	err := db.Model(&model.Message{}).
		Scopes(unreadScope(entity)).
		Where("conversation_id IN (?)", conversations).
		Count(&count).Error
	return count, storeError(err, nil)
}

type ConversationSummary struct {
	ID            uint                `json:"id"`
	OtherEntity   model.EntitySummary `json:"otherEntity"`
	LastMessage   *model.Message      `json:"lastMessage"`
	UnreadCount   int64               `json:"unreadCount"`
	LastMessageAt time.Time           `json:"lastMessageAt"`
}

// Conversations lists the conversations of an acting entity, most recent first, with
// the last visible message and the entity's unread count for each.
func (s *Service) Conversations(ctx context.Context, userID string, entity model.EntityRef) ([]ConversationSummary, error) {
	if err := s.Resolve(ctx, userID, entity); err != nil {
		return nil, err
	}

	db, cancel := s.store(ctx)
	defer cancel()

	var conversations []model.Conversation
	err := db.Scopes(participantScope(entity)).
		Order("last_message_at desc").
		Order("id desc").
		Find(&conversations).Error
	if err != nil {
		return nil, storeError(err, nil)
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	if len(conversations) == 0 {
		return summaries, nil
	}

	ids := make([]uint, len(conversations))
	for i, c := range conversations {
		ids[i] = c.ID
	}

	latest := db.Model(&model.Message{}).
		Select("MAX(id)").
		Where("conversation_id IN ? AND is_deleted = ?", ids, false).
		Group("conversation_id")
	var lastMessages []model.Message
	if err := db.Where("id IN (?)", latest).Find(&lastMessages).Error; err != nil {
		return nil, storeError(err, nil)
	}
	lastByConversation := make(map[uint]model.Message, len(lastMessages))
	for _, m := range lastMessages {
		lastByConversation[m.ConversationID] = m
	}

	var counts []struct {
		ConversationID uint
		Unread         int64
	}
	err = db.Model(&model.Message{}).
		Select("conversation_id, COUNT(*) AS unread").
		Scopes(unreadScope(entity)).
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&counts).Error
	if err != nil {
		return nil, storeError(err, nil)
	}
	unreadByConversation := make(map[uint]int64, len(counts))
	for _, c := range counts {
		unreadByConversation[c.ConversationID] = c.Unread
	}

	for _, c := range conversations {
		other := c.Other(entity)
		summary := ConversationSummary{
			ID:            c.ID,
			OtherEntity:   s.describe(ctx, other),
			UnreadCount:   unreadByConversation[c.ID],
			LastMessageAt: c.LastMessageAt,
		}
		if m, ok := lastByConversation[c.ID]; ok {
			summary.LastMessage = &m
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// describe returns the display card of ref, or a bare card when the entity is gone.
func (s *Service) describe(ctx context.Context, ref model.EntityRef) model.EntitySummary {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	summary, err := s.oracle.Describe(ctx, ref)
	if err != nil {
		s.log.Debug().Err(err).Str("entity", ref.String()).Msg("entity summary unavailable")
		return model.EntitySummary{ID: ref.ID, Type: ref.Type}
	}
	return summary
}
