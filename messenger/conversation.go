package messenger

import (
	"context"
	"time"

	"gig-messenger/metrics"
	"gig-messenger/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// canonicalPair orders two entity references by (type, id).
func canonicalPair(x, y model.EntityRef) (model.EntityRef, model.EntityRef) {
	if y.Less(x) {
		return y, x
	}
	return x, y
}

// FindOrCreate returns the single conversation between x and y, creating it on first use.
// Argument order is irrelevant.
func (s *Service) FindOrCreate(ctx context.Context, x, y model.EntityRef) (model.Conversation, error) {
	if !x.Type.Valid() || !y.Type.Valid() {
		return model.Conversation{}, ErrInvalidEntityType
	}
	if x == y {
		return model.Conversation{}, ErrSelfConversation
	}

	db, cancel := s.store(ctx)
	defer cancel()

	conversation, err := findOrCreateConversation(db, x, y, s.now())
	return conversation, storeError(err, nil)
}

func findOrCreateConversation(tx *gorm.DB, x, y model.EntityRef, now time.Time) (model.Conversation, error) {
	conversation, found, err := findConversation(tx, x, y)
	if err != nil || found {
		return conversation, err
	}
	return insertConversation(tx, x, y, now)
}

// findConversation looks the pair up in both orderings.
func findConversation(tx *gorm.DB, x, y model.EntityRef) (model.Conversation, bool, error) {
	var conversations []model.Conversation
	err := tx.
		Where("(entity_a_type = ? AND entity_a_id = ? AND entity_b_type = ? AND entity_b_id = ?) OR "+
			"(entity_a_type = ? AND entity_a_id = ? AND entity_b_type = ? AND entity_b_id = ?)",
			x.Type, x.ID, y.Type, y.ID, y.Type, y.ID, x.Type, x.ID).
		Order("id asc").
		Limit(1).
		Find(&conversations).Error
	if err != nil || len(conversations) == 0 {
		return model.Conversation{}, false, err
	}
	return conversations[0], true, nil
}

// insertConversation stores the canonical pair. When a concurrent insert won the
// unique index, the winner is re-read once and returned.
func insertConversation(tx *gorm.DB, x, y model.EntityRef, now time.Time) (model.Conversation, error) {
	a, b := canonicalPair(x, y)
	conversation := model.Conversation{
		EntityAType:   a.Type,
		EntityAID:     a.ID,
		EntityBType:   b.Type,
		EntityBID:     b.ID,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conversation)
	if result.Error != nil {
		return model.Conversation{}, result.Error
	}
	if result.RowsAffected == 1 {
		metrics.ConversationsCreated.Inc()
		return conversation, nil
	}

	winner, found, err := findConversation(tx, a, b)
	if err != nil {
		return model.Conversation{}, err
	}
	if !found {
		return model.Conversation{}, gorm.ErrRecordNotFound
	}
	return winner, nil
}

func loadConversation(tx *gorm.DB, id uint) (model.Conversation, error) {
	var conversation model.Conversation
	if err := tx.First(&conversation, id).Error; err != nil {
		return model.Conversation{}, storeError(err, ErrConversationGone)
	}
	return conversation, nil
}

// Conversation loads a conversation the user takes part in and returns the side they act as.
func (s *Service) Conversation(ctx context.Context, userID string, id uint) (model.Conversation, model.EntityRef, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	conversation, err := loadConversation(db, id)
	if err != nil {
		return model.Conversation{}, model.EntityRef{}, err
	}
	side, err := s.resolveParticipant(ctx, userID, conversation)
	if err != nil {
		return model.Conversation{}, model.EntityRef{}, err
	}
	return conversation, side, nil
}

// DeleteConversation removes the conversation and every message in it. It cannot be undone.
func (s *Service) DeleteConversation(ctx context.Context, userID string, id uint) error {
	conversation, _, err := s.Conversation(ctx, userID, id)
	if err != nil {
		return err
	}

	db, cancel := s.store(ctx)
	defer cancel()

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversation.ID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Conversation{}, conversation.ID).Error
	})
	if err != nil {
		return storeError(err, nil)
	}

	s.log.Info().
		Uint("conversation", conversation.ID).
		Str("user", userID).
		Msg("conversation deleted")
	return nil
}
