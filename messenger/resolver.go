package messenger

import (
	"context"
	"errors"

	"gig-messenger/model"
)

// Resolve confirms that userID controls ref. It returns nil when authorized.
func (s *Service) Resolve(ctx context.Context, userID string, ref model.EntityRef) error {
	if !ref.Type.Valid() || ref.ID == 0 {
		return ErrInvalidEntityType
	}

	owner, err := s.ownerOf(ctx, ref)
	if err != nil {
		return err
	}
	if userID == "" || owner != userID {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) ownerOf(ctx context.Context, ref model.EntityRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	owner, err := s.oracle.OwnerOf(ctx, ref)
	if errors.Is(err, ErrEntityNotFound) {
		return "", ErrEntityMissing
	}
	if err != nil {
		return "", storeError(err, nil)
	}
	return owner, nil
}

// resolveParticipant returns the side of c that userID controls. Side A wins when
// the user controls both.
func (s *Service) resolveParticipant(ctx context.Context, userID string, c model.Conversation) (model.EntityRef, error) {
	for _, side := range []model.EntityRef{c.EntityA(), c.EntityB()} {
		err := s.Resolve(ctx, userID, side)
		if err == nil {
			return side, nil
		}
		// a vanished entity on one side must not hide ownership of the other
		if KindOf(err) != KindAuthorization && KindOf(err) != KindNotFound {
			return model.EntityRef{}, err
		}
	}
	return model.EntityRef{}, ErrNotOwner
}

// resolveReader checks that userID controls reader and that reader takes part in c.
func (s *Service) resolveReader(ctx context.Context, userID string, c model.Conversation, reader model.EntityRef) error {
	if err := s.Resolve(ctx, userID, reader); err != nil {
		return err
	}
	if !c.Has(reader) {
		return ErrNotParticipant
	}
	return nil
}
