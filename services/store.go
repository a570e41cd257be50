package services

import (
	"context"
	"errors"
	"time"

	"lab-registry/models"
)

// ErrAmbiguousKey is returned when a natural-key lookup matches more than one
// row. Natural keys are unique by construction, so this is a configuration
// problem and never resolved by silently picking one match.
var ErrAmbiguousKey = errors.New("natural key matches more than one row")

// Store is the persistence collaborator consumed by the import/export and
// merge services. Lookups by natural key return (nil, nil) when no row
// matches and ErrAmbiguousKey when more than one does.
type Store interface {
	OrganizationByKey(ctx context.Context, acronym, name string) (*models.Organization, error)
	PersonByName(ctx context.Context, firstName, lastName string) (*models.Person, error)
	JournalByName(ctx context.Context, name string) (*models.Journal, error)
	MembershipByKey(ctx context.Context, personID, organizationID uint, status models.MemberStatus, start, end *time.Time) (*models.Membership, error)
	PublicationByKey(ctx context.Context, title string, year int) (*models.Publication, error)

	PersonByID(ctx context.Context, id uint) (*models.Person, error)
	PublicationByID(ctx context.Context, id uint) (*models.Publication, error)

	Organizations(ctx context.Context) ([]models.Organization, error)
	Persons(ctx context.Context) ([]models.Person, error)
	Memberships(ctx context.Context) ([]models.Membership, error)
	// Journals returns journals with their quality-indicator history loaded.
	Journals(ctx context.Context) ([]models.Journal, error)
	// Publications returns publications with their authorships loaded.
	Publications(ctx context.Context) ([]models.Publication, error)

	SaveOrganization(ctx context.Context, org *models.Organization) error
	SavePerson(ctx context.Context, p *models.Person) error
	SaveMembership(ctx context.Context, m *models.Membership) error
	SaveJournal(ctx context.Context, j *models.Journal) error
	SaveIndicators(ctx context.Context, q *models.JournalQualityIndicators) error
	SavePublication(ctx context.Context, pub *models.Publication) error
	SaveAuthorship(ctx context.Context, a *models.Authorship) error

	AuthorshipsForPerson(ctx context.Context, personID uint) ([]models.Authorship, error)
	AuthorshipsForPublication(ctx context.Context, publicationID uint) ([]models.Authorship, error)
	MembershipsForPerson(ctx context.Context, personID uint) ([]models.Membership, error)

	DeleteAuthorship(ctx context.Context, a *models.Authorship) error
	DeletePerson(ctx context.Context, p *models.Person) error

	// Transaction runs fn against a transactional view of the store; any error
	// rolls every write back.
	Transaction(ctx context.Context, fn func(Store) error) error
}
