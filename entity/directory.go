// Package entity answers ownership questions against the artist profile and event
// posting tables.
package entity

import (
	"context"
	"errors"
	"fmt"

	"gig-messenger/messenger"
	"gig-messenger/model"

	"gorm.io/gorm"
)

type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) OwnerOf(ctx context.Context, ref model.EntityRef) (string, error) {
	db := d.db.WithContext(ctx)

	switch ref.Type {
	case model.EntityArtistProfile:
		var profile model.ArtistProfile
		if err := db.Select("id", "user_id").First(&profile, ref.ID).Error; err != nil {
			return "", notFound(err)
		}
		return profile.UserID, nil
	case model.EntityEventPosting:
		var posting model.EventPosting
		if err := db.Select("id", "organizer_id").First(&posting, ref.ID).Error; err != nil {
			return "", notFound(err)
		}
		return posting.OrganizerID, nil
	}
	return "", fmt.Errorf("unknown entity type %q", ref.Type)
}

func (d *Directory) Describe(ctx context.Context, ref model.EntityRef) (model.EntitySummary, error) {
	db := d.db.WithContext(ctx)

	switch ref.Type {
	case model.EntityArtistProfile:
		var profile model.ArtistProfile
		if err := db.First(&profile, ref.ID).Error; err != nil {
			return model.EntitySummary{}, notFound(err)
		}
		return artistSummary(profile), nil
	case model.EntityEventPosting:
		var posting model.EventPosting
		if err := db.First(&posting, ref.ID).Error; err != nil {
			return model.EntitySummary{}, notFound(err)
		}
		return postingSummary(posting), nil
	}
	return model.EntitySummary{}, fmt.Errorf("unknown entity type %q", ref.Type)
}

// ListOwned returns the user's artist profiles followed by their event postings.
func (d *Directory) ListOwned(ctx context.Context, userID string) ([]model.EntitySummary, error) {
	db := d.db.WithContext(ctx)

	var profiles []model.ArtistProfile
	if err := db.Where("user_id = ?", userID).Order("id asc").Find(&profiles).Error; err != nil {
		return nil, err
	}
	var postings []model.EventPosting
	if err := db.Where("organizer_id = ?", userID).Order("id asc").Find(&postings).Error; err != nil {
		return nil, err
	}

	entities := make([]model.EntitySummary, 0, len(profiles)+len(postings))
	for _, p := range profiles {
		entities = append(entities, artistSummary(p))
	}
	for _, p := range postings {
		entities = append(entities, postingSummary(p))
	}
	return entities, nil
}

func artistSummary(p model.ArtistProfile) model.EntitySummary {
	return model.EntitySummary{ID: p.ID, Name: p.StageName, Type: model.EntityArtistProfile, Image: p.Image}
}

func postingSummary(p model.EventPosting) model.EntitySummary {
	return model.EntitySummary{ID: p.ID, Name: p.Title, Type: model.EntityEventPosting, Image: p.Image}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return messenger.ErrEntityNotFound
	}
	return err
}
