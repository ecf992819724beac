package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Status is the delivery state of a message. It only ever moves forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Before reports whether s precedes o in the sent < delivered < read order.
func (s Status) Before(o Status) bool {
	return s.rank() < o.rank()
}

// Advance returns the later of s and next, so a status never regresses.
func (s Status) Advance(next Status) Status {
	if s.Before(next) {
		return next
	}
	return s
}

type Conversation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EntityAType   EntityType `gorm:"type:varchar(32);not null;uniqueIndex:idx_conversation_pair,priority:1" json:"-"`
	EntityAID     uint       `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2" json:"-"`
	EntityBType   EntityType `gorm:"type:varchar(32);not null;uniqueIndex:idx_conversation_pair,priority:3" json:"-"`
	EntityBID     uint       `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:4" json:"-"`
	LastMessageAt time.Time  `gorm:"index" json:"lastMessageAt"`
	CreatedAt     time.Time  `json:"createdAt"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (c Conversation) EntityA() EntityRef {
	return EntityRef{ID: c.EntityAID, Type: c.EntityAType}
}

func (c Conversation) EntityB() EntityRef {
	return EntityRef{ID: c.EntityBID, Type: c.EntityBType}
}

// Has reports whether e is one of the two sides of the conversation.
func (c Conversation) Has(e EntityRef) bool {
	return c.EntityA() == e || c.EntityB() == e
}

// Other returns the side of the conversation that is not e.
func (c Conversation) Other(e EntityRef) EntityRef {
	if c.EntityA() == e {
		return c.EntityB()
	}
	return c.EntityA()
}

type Message struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ConversationID   uint      `gorm:"not null;index:idx_message_history,priority:1;uniqueIndex:idx_message_client,priority:1" json:"conversationId"`
	SenderEntity     EntityRef `gorm:"embedded;embeddedPrefix:sender_entity_" json:"senderEntity"`
	Content          *string   `gorm:"type:text" json:"content,omitempty"`
	AttachmentURL    *string   `gorm:"type:text" json:"attachmentUrl,omitempty"`
	AttachmentType   *string   `gorm:"type:varchar(64)" json:"attachmentType,omitempty"`
	Status           Status    `gorm:"type:varchar(16);not null;default:sent" json:"status"`
	Reactions        Reactions `gorm:"type:jsonb;serializer:json" json:"reactions"`
	ReactionsVersion int       `gorm:"not null;default:0" json:"-"`
	IsDeleted        bool      `gorm:"not null;default:false" json:"isDeleted"`
	ClientMessageID  *string   `gorm:"type:varchar(36);uniqueIndex:idx_message_client,priority:2" json:"clientMessageId,omitempty"`
	CreatedAt        time.Time `gorm:"index:idx_message_history,priority:2" json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.Reactions == nil {
		m.Reactions = Reactions{}
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	return nil
}

func (m *Message) AfterFind(tx *gorm.DB) error {
	if m.Reactions == nil {
		m.Reactions = Reactions{}
	}
	return nil
}

// Reaction is a single (emoji, reactor) entry of a message's reaction ledger.
type Reaction struct {
	Emoji  string    `json:"emoji"`
	Entity EntityRef `json:"entity"`
}

// Reactions holds at most one entry per distinct (emoji, entity) pair.
type Reactions []Reaction

// Toggle returns a copy of r with the (emoji, entity) entry removed if present,
// appended otherwise. The second result reports whether the entry was added.
func (r Reactions) Toggle(emoji string, entity EntityRef) (Reactions, bool) {
	next := make(Reactions, 0, len(r)+1)
	removed := false
	for _, reaction := range r {
		if reaction.Emoji == emoji && reaction.Entity == entity {
			removed = true
			continue
		}
		next = append(next, reaction)
	}
	if removed {
		return next, false
	}
	return append(next, Reaction{Emoji: emoji, Entity: entity}), true
}

// Has reports whether the ledger holds an entry for (emoji, entity).
func (r Reactions) Has(emoji string, entity EntityRef) bool {
	for _, reaction := range r {
		if reaction.Emoji == emoji && reaction.Entity == entity {
			return true
		}
	}
	return false
}

type Notification struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	RecipientUserID       string    `gorm:"type:varchar(64);not null;index" json:"recipientUserId"`
	Type                  string    `gorm:"type:varchar(32);not null" json:"type"`
	Title                 string    `gorm:"not null" json:"title"`
	Message               string    `gorm:"type:text;not null" json:"message"`
	RelatedConversationID *uint     `gorm:"index" json:"relatedConversationId,omitempty"`
	IsRead                bool      `gorm:"not null;default:false" json:"isRead"`
	CreatedAt             time.Time `json:"createdAt"`
}

// NotificationInput is what the messaging core hands to the notification sink.
type NotificationInput struct {
	RecipientUserID       string
	Type                  string
	Title                 string
	Message               string
	RelatedConversationID uint
}

const NotificationTypeNewMessage = "new_message"

func (n NotificationInput) String() string {
	return fmt.Sprintf("%s -> %s (conversation %d)", n.Type, n.RecipientUserID, n.RelatedConversationID)
}
