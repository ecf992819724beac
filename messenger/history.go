package messenger

import (
	"context"
	"database/sql"

	"gig-messenger/model"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type Page struct {
	Messages []model.Message `json:"messages"`
	Total    int64           `json:"total"`
	HasMore  bool            `json:"hasMore"`
	Page     int             `json:"page"`
	// Anchor is the newest message id the window was computed against. Passing it
	// back on the next call keeps pages stable while messages arrive or are deleted.
	// A page may hold fewer than limit messages when some in its window were deleted.
	Anchor uint `json:"anchor"`
}

// GetMessages returns one window of a conversation's history in ascending order.
// Page 1 is the most recent window and higher pages reach further back.
// userID must control one side of the conversation.
func (s *Service) GetMessages(ctx context.Context, userID string, conversationID uint, page, limit int, anchor uint) (Page, error) {
	conversation, _, err := s.Conversation(ctx, userID, conversationID)
	if err != nil {
		return Page{}, err
	}
	return s.window(ctx, conversation.ID, page, limit, anchor, false)
}

// Audit returns history including soft-deleted messages. Callers are expected to be
// authorized administrators.
func (s *Service) Audit(ctx context.Context, conversationID uint, page, limit int) (Page, error) {
	db, cancel := s.store(ctx)
	conversation, err := loadConversation(db, conversationID)
	cancel()
	if err != nil {
		return Page{}, err
	}
	return s.window(ctx, conversation.ID, page, limit, 0, true)
}

func (s *Service) window(ctx context.Context, conversationID uint, page, limit int, anchor uint, withDeleted bool) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	// The window is positioned over every row up to the anchor, deleted or not, so a
	// soft delete between two page loads does not shift older pages.
	pinned := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("conversation_id = ?", conversationID)
	}

	db, cancel := s.store(ctx)
	defer cancel()

	result := Page{Page: page, Messages: []model.Message{}}
	var positions int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if anchor == 0 {
			var newest sql.NullInt64
			if err := tx.Model(&model.Message{}).Scopes(pinned).Select("MAX(id)").Row().Scan(&newest); err != nil {
				return err
			}
			if !newest.Valid {
				return nil
			}
			anchor = uint(newest.Int64)
		}
		result.Anchor = anchor

		if err := tx.Model(&model.Message{}).
			Scopes(pinned).
			Where("id <= ?", anchor).
			Count(&positions).Error; err != nil {
			return err
		}

		result.Total = positions
		if !withDeleted {
			if err := tx.Model(&model.Message{}).
				Scopes(pinned).
				Where("id <= ? AND is_deleted = ?", anchor, false).
				Count(&result.Total).Error; err != nil {
				return err
			}
		}

		var rows []model.Message
		err := tx.Scopes(pinned).
			Where("id <= ?", anchor).
			Order("created_at desc").
			Order("id desc").
			Offset((page - 1) * limit).
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		for _, m := range rows {
			if withDeleted || !m.IsDeleted {
				result.Messages = append(result.Messages, m)
			}
		}
		return nil
	})
	if err != nil {
		return Page{}, storeError(err, nil)
	}

	// fetched newest first, served oldest first
	for i, j := 0, len(result.Messages)-1; i < j; i, j = i+1, j-1 {
		result.Messages[i], result.Messages[j] = result.Messages[j], result.Messages[i]
	}
	result.HasMore = int64(page*limit) < positions
	return result, nil
}
