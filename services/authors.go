package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"lab-registry/models"
)

// ErrPublicationNotFound is returned when an author edit names a publication
// that does not exist.
var ErrPublicationNotFound = errors.New("publication not found")

// AuthorshipService edits the ordered author list of a publication. Ranks are
// renumbered to a contiguous 0..n-1 sequence after every edit, never left
// sparse.
type AuthorshipService struct {
	Store  Store
	Logger *zap.Logger
}

// NewAuthorshipService creates a new instance of the AuthorshipService.
func NewAuthorshipService(store Store, logger *zap.Logger) *AuthorshipService {
	return &AuthorshipService{Store: store, Logger: logger}
}

// AddAuthor inserts a person into the publication's author list at the given
// position (clamped to the list bounds) and renumbers.
func (s *AuthorshipService) AddAuthor(ctx context.Context, publicationID, personID uint, position int) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		pub, err := tx.PublicationByID(ctx, publicationID)
		if err != nil {
			return err
		}
		if pub == nil {
			return fmt.Errorf("%w: %d", ErrPublicationNotFound, publicationID)
		}
		person, err := tx.PersonByID(ctx, personID)
		if err != nil {
			return err
		}
		if person == nil {
			return fmt.Errorf("%w: %d", ErrPersonNotFound, personID)
		}

		authorships, err := tx.AuthorshipsForPublication(ctx, publicationID)
		if err != nil {
			return err
		}
		for i := range authorships {
			if authorships[i].PersonID == personID {
				return fmt.Errorf("person %d is already an author of publication %d", personID, publicationID)
			}
		}
		sort.Slice(authorships, func(a, b int) bool {
			return authorships[a].AuthorRank < authorships[b].AuthorRank
		})

		if position < 0 {
			position = 0
		}
		if position > len(authorships) {
			position = len(authorships)
		}
		// Shift everything at or after the insertion point one rank up.
		for i := len(authorships) - 1; i >= position; i-- {
			authorships[i].AuthorRank = i + 1
			if err := tx.SaveAuthorship(ctx, &authorships[i]); err != nil {
				return err
			}
		}
		return tx.SaveAuthorship(ctx, &models.Authorship{
			PublicationID: publicationID,
			PersonID:      personID,
			AuthorRank:    position,
		})
	})
}

// RemoveAuthor removes a person from the publication's author list and
// renumbers the remaining ranks.
func (s *AuthorshipService) RemoveAuthor(ctx context.Context, publicationID, personID uint) error {
	return s.Store.Transaction(ctx, func(tx Store) error {
		authorships, err := tx.AuthorshipsForPublication(ctx, publicationID)
		if err != nil {
			return err
		}
		var removed *models.Authorship
		for i := range authorships {
			if authorships[i].PersonID == personID {
				removed = &authorships[i]
				break
			}
		}
		if removed == nil {
			return fmt.Errorf("person %d is not an author of publication %d", personID, publicationID)
		}
		if err := tx.DeleteAuthorship(ctx, removed); err != nil {
			return err
		}
		return renumberAuthorships(ctx, tx, publicationID)
	})
}
