package messenger

import (
	"context"
	"errors"
	"strings"
	"time"

	"gig-messenger/metrics"
	"gig-messenger/model"

	"gorm.io/gorm"
)

const (
	maxEmojiBytes       = 32
	maxReactionAttempts = 8
)

var errReactionConflict = errors.New("reaction ledger changed concurrently")

// ToggleReaction adds (emoji, reactor) to the message's reaction ledger, or removes it
// when already present, and returns the message with the stored ledger.
//
// The ledger is written with a compare-and-swap on reactions_version. A toggle that
// loses the race re-reads and re-applies, so concurrent toggles by different reactors
// all survive.
func (s *Service) ToggleReaction(ctx context.Context, userID string, messageID uint, emoji string, reactor model.EntityRef) (model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes {
		return model.Message{}, ErrInvalidEmoji
	}
	if err := s.Resolve(ctx, userID, reactor); err != nil {
		return model.Message{}, err
	}

	db, cancel := s.store(ctx)
	defer cancel()

	message, err := loadMessage(db, messageID)
	if err != nil {
		return model.Message{}, err
	}
	conversation, err := loadConversation(db, message.ConversationID)
	if err != nil {
		return model.Message{}, err
	}
	if !conversation.Has(reactor) {
		return model.Message{}, ErrNotParticipant
	}

	for attempt := 0; attempt < maxReactionAttempts; attempt++ {
		if attempt > 0 {
			metrics.ReactionConflicts.Inc()
			if message, err = loadMessage(db, messageID); err != nil {
				return model.Message{}, err
			}
		}

		err = swapReactions(db, &message, emoji, reactor, s.now())
		if errors.Is(err, errReactionConflict) {
			continue
		}
		if err != nil {
			return model.Message{}, storeError(err, nil)
		}

		s.publish(ctx, ConversationChannel(message.ConversationID), EventReactionUpdate, ReactionUpdatePayload{
			MessageID: message.ID,
			Reactions: message.Reactions,
		})
		return message, nil
	}

	return model.Message{}, Internal("reaction update failed", errReactionConflict)
}

// swapReactions writes the toggled ledger only if nobody else wrote since message was read.
func swapReactions(tx *gorm.DB, message *model.Message, emoji string, reactor model.EntityRef, now time.Time) error {
	next, _ := message.Reactions.Toggle(emoji, reactor)
	update := model.Message{
		Reactions:        next,
		ReactionsVersion: message.ReactionsVersion + 1,
		UpdatedAt:        now,
	}

	result := tx.Model(&model.Message{}).
		Where("id = ? AND reactions_version = ?", message.ID, message.ReactionsVersion).
		Select("Reactions", "ReactionsVersion", "UpdatedAt").
		Updates(&update)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errReactionConflict
	}

	message.Reactions = update.Reactions
	message.ReactionsVersion = update.ReactionsVersion
	message.UpdatedAt = now
	return nil
}
