package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ErrPersonNotFound is returned when a merge names a person that does not
// exist.
var ErrPersonNotFound = errors.New("person not found")

// MergeService merges duplicate person records after human review: every
// authorship and membership of the source persons is reassigned to the target,
// then the sources are deleted. The whole merge runs inside one transaction;
// a partial merge is a data-integrity violation, so any failure rolls back
// everything.
type MergeService struct {
	Store  Store
	Logger *zap.Logger
}

// NewMergeService creates a new instance of the MergeService.
func NewMergeService(store Store, logger *zap.Logger) *MergeService {
	return &MergeService{Store: store, Logger: logger}
}

// MergePersons merges the source persons into the target person.
func (s *MergeService) MergePersons(ctx context.Context, targetID uint, sourceIDs []uint) error {
	if len(sourceIDs) == 0 {
		return errors.New("no source persons given")
	}
	for _, id := range sourceIDs {
		if id == targetID {
			return errors.New("merge target listed among sources")
		}
	}

	err := s.Store.Transaction(ctx, func(tx Store) error {
		target, err := tx.PersonByID(ctx, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("%w: target %d", ErrPersonNotFound, targetID)
		}

		// Publications whose author list loses an entry; ranks are renumbered
		// once per publication at the end.
		renumber := make(map[uint]bool)

		for _, sourceID := range sourceIDs {
			source, err := tx.PersonByID(ctx, sourceID)
			if err != nil {
				return err
			}
			if source == nil {
				return fmt.Errorf("%w: source %d", ErrPersonNotFound, sourceID)
			}

			authorships, err := tx.AuthorshipsForPerson(ctx, sourceID)
			if err != nil {
				return err
			}
			for i := range authorships {
				a := &authorships[i]
				existing, err := tx.AuthorshipsForPublication(ctx, a.PublicationID)
				if err != nil {
					return err
				}
				targetAlreadyAuthor := false
				for j := range existing {
					if existing[j].PersonID == targetID {
						targetAlreadyAuthor = true
						break
					}
				}
				if targetAlreadyAuthor {
					// Target and source both authored this publication; drop
					// the source's link instead of creating a duplicate.
					if err := tx.DeleteAuthorship(ctx, a); err != nil {
						return err
					}
					renumber[a.PublicationID] = true
					continue
				}
				a.PersonID = targetID
				if err := tx.SaveAuthorship(ctx, a); err != nil {
					return err
				}
			}

			memberships, err := tx.MembershipsForPerson(ctx, sourceID)
			if err != nil {
				return err
			}
			for i := range memberships {
				m := &memberships[i]
				m.PersonID = targetID
				if err := tx.SaveMembership(ctx, m); err != nil {
					return err
				}
			}

			if err := tx.DeletePerson(ctx, source); err != nil {
				return err
			}
		}

		for publicationID := range renumber {
			if err := renumberAuthorships(ctx, tx, publicationID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Person merge rolled back",
			zap.Uint("target_id", targetID), zap.Uints("source_ids", sourceIDs), zap.Error(err))
		return err
	}

	s.Logger.Info("Person merge completed",
		zap.Uint("target_id", targetID), zap.Int("merged", len(sourceIDs)))
	return nil
}

// renumberAuthorships rewrites a publication's author ranks as a contiguous
// 0..n-1 sequence, preserving the current order.
func renumberAuthorships(ctx context.Context, st Store, publicationID uint) error {
	authorships, err := st.AuthorshipsForPublication(ctx, publicationID)
	if err != nil {
		return err
	}
	sort.Slice(authorships, func(a, b int) bool {
		return authorships[a].AuthorRank < authorships[b].AuthorRank
	})
	for i := range authorships {
		if authorships[i].AuthorRank == i {
			continue
		}
		authorships[i].AuthorRank = i
		if err := st.SaveAuthorship(ctx, &authorships[i]); err != nil {
			return err
		}
	}
	return nil
}
