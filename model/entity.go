package model

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// EntityType names the kind of acting identity a user controls in messaging.
type EntityType string

const (
	EntityArtistProfile EntityType = "artist_profile"
	EntityEventPosting  EntityType = "event_posting"
)

func (t EntityType) Valid() bool {
	return t == EntityArtistProfile || t == EntityEventPosting
}

// EntityRef points at an artist profile or an event posting.
type EntityRef struct {
	ID   uint       `gorm:"not null" json:"id"`
	Type EntityType `gorm:"type:varchar(32);not null" json:"type"`
}

// Less orders references by (type, id). Conversations store their pair in this order.
func (e EntityRef) Less(o EntityRef) bool {
	if e.Type != o.Type {
		return e.Type < o.Type
	}
	return e.ID < o.ID
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s:%d", e.Type, e.ID)
}

// ParseEntityRef parses the id and type query parameters used by the REST API.
func ParseEntityRef(id, typ string) (EntityRef, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil || n == 0 {
		return EntityRef{}, fmt.Errorf("invalid entity id %q", id)
	}
	ref := EntityRef{ID: uint(n), Type: EntityType(strings.TrimSpace(typ))}
	if !ref.Type.Valid() {
		return EntityRef{}, fmt.Errorf("invalid entity type %q", typ)
	}
	return ref, nil
}

// ArtistProfile is the read model of the artist profile store; its CRUD lives elsewhere.
type ArtistProfile struct {
	gorm.Model
	UserID    string `gorm:"type:varchar(64);not null;index" json:"userId"`
	StageName string `gorm:"not null" json:"stageName"`
	Image     string `json:"image"`
}

// EventPosting is the read model of the event posting store.
type EventPosting struct {
	gorm.Model
	OrganizerID string `gorm:"type:varchar(64);not null;index" json:"organizerId"`
	Title       string `gorm:"not null" json:"title"`
	Image       string `json:"image"`
}

// EntitySummary is the display card of an entity.
type EntitySummary struct {
	ID    uint       `json:"id"`
	Name  string     `json:"name"`
	Type  EntityType `json:"type"`
	Image string     `json:"image"`
}

func (s EntitySummary) Ref() EntityRef {
	return EntityRef{ID: s.ID, Type: s.Type}
}
