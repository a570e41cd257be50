package storage

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"lab-registry/models"
	"lab-registry/services"
)

// Repository is the gorm-backed implementation of services.Store.
type Repository struct {
	DB *gorm.DB
}

// NewRepository creates a repository on top of an open gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{DB: db}
}

var _ services.Store = (*Repository)(nil)

// findOne fetches at most two rows for a natural-key query: zero rows is a
// clean miss, two is an ambiguity the resolvers must treat as fatal.
func findOne[E any](query *gorm.DB) (*E, error) {
	var rows []E
	if err := query.Limit(2).Find(&rows).Error; err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, services.ErrAmbiguousKey
	}
}

func (r *Repository) OrganizationByKey(ctx context.Context, acronym, name string) (*models.Organization, error) {
	query := r.DB.WithContext(ctx).Model(&models.Organization{}).Preload("SuperOrganization")
	switch {
	case acronym != "" && name != "":
		query = query.Where("acronym = ? OR name = ?", acronym, name)
	case acronym != "":
		query = query.Where("acronym = ?", acronym)
	default:
		query = query.Where("name = ?", name)
	}
	return findOne[models.Organization](query)
}

func (r *Repository) PersonByName(ctx context.Context, firstName, lastName string) (*models.Person, error) {
	query := r.DB.WithContext(ctx).Model(&models.Person{}).
		Where("LOWER(TRIM(first_name)) = ? AND LOWER(TRIM(last_name)) = ?",
			strings.ToLower(strings.TrimSpace(firstName)),
			strings.ToLower(strings.TrimSpace(lastName)))
	return findOne[models.Person](query)
}

func (r *Repository) JournalByName(ctx context.Context, name string) (*models.Journal, error) {
	query := r.DB.WithContext(ctx).Model(&models.Journal{}).
		Preload("QualityIndicators").
		Where("name = ?", name)
	return findOne[models.Journal](query)
}

func (r *Repository) MembershipByKey(ctx context.Context, personID, organizationID uint, status models.MemberStatus, start, end *time.Time) (*models.Membership, error) {
	query := r.DB.WithContext(ctx).Model(&models.Membership{}).
		Where("person_id = ? AND organization_id = ? AND status = ?", personID, organizationID, status)
	if start != nil {
		query = query.Where("start_date = ?", *start)
	} else {
		query = query.Where("start_date IS NULL")
	}
	if end != nil {
		query = query.Where("end_date = ?", *end)
	} else {
		query = query.Where("end_date IS NULL")
	}
	return findOne[models.Membership](query)
}

func (r *Repository) PublicationByKey(ctx context.Context, title string, year int) (*models.Publication, error) {
	query := r.DB.WithContext(ctx).Model(&models.Publication{}).
		Preload("Authorships").
		Where("title = ? AND year = ?", title, year)
	return findOne[models.Publication](query)
}

func (r *Repository) PersonByID(ctx context.Context, id uint) (*models.Person, error) {
	return findOne[models.Person](r.DB.WithContext(ctx).Model(&models.Person{}).Where("id = ?", id))
}

func (r *Repository) PublicationByID(ctx context.Context, id uint) (*models.Publication, error) {
	return findOne[models.Publication](r.DB.WithContext(ctx).Model(&models.Publication{}).
		Preload("Authorships").Where("id = ?", id))
}

func (r *Repository) Organizations(ctx context.Context) ([]models.Organization, error) {
	var orgs []models.Organization
	err := r.DB.WithContext(ctx).Order("id").Find(&orgs).Error
	return orgs, err
}

func (r *Repository) Persons(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	err := r.DB.WithContext(ctx).Order("id").Find(&persons).Error
	return persons, err
}

func (r *Repository) Memberships(ctx context.Context) ([]models.Membership, error) {
	var memberships []models.Membership
	err := r.DB.WithContext(ctx).Order("id").Find(&memberships).Error
	return memberships, err
}

func (r *Repository) Journals(ctx context.Context) ([]models.Journal, error) {
	var journals []models.Journal
	err := r.DB.WithContext(ctx).Preload("QualityIndicators").Order("id").Find(&journals).Error
	return journals, err
}

func (r *Repository) Publications(ctx context.Context) ([]models.Publication, error) {
	var publications []models.Publication
	err := r.DB.WithContext(ctx).Preload("Authorships").Order("id").Find(&publications).Error
	return publications, err
}

func (r *Repository) SaveOrganization(ctx context.Context, org *models.Organization) error {
	return r.DB.WithContext(ctx).Save(org).Error
}

func (r *Repository) SavePerson(ctx context.Context, p *models.Person) error {
	return r.DB.WithContext(ctx).Save(p).Error
}

func (r *Repository) SaveMembership(ctx context.Context, m *models.Membership) error {
	return r.DB.WithContext(ctx).Save(m).Error
}

func (r *Repository) SaveJournal(ctx context.Context, j *models.Journal) error {
	return r.DB.WithContext(ctx).Omit("QualityIndicators").Save(j).Error
}

func (r *Repository) SaveIndicators(ctx context.Context, q *models.JournalQualityIndicators) error {
	return r.DB.WithContext(ctx).Save(q).Error
}

func (r *Repository) SavePublication(ctx context.Context, pub *models.Publication) error {
	return r.DB.WithContext(ctx).Omit("Authorships").Save(pub).Error
}

func (r *Repository) SaveAuthorship(ctx context.Context, a *models.Authorship) error {
	return r.DB.WithContext(ctx).Save(a).Error
}

func (r *Repository) AuthorshipsForPerson(ctx context.Context, personID uint) ([]models.Authorship, error) {
	var authorships []models.Authorship
	err := r.DB.WithContext(ctx).Where("person_id = ?", personID).Order("publication_id, author_rank").Find(&authorships).Error
	return authorships, err
}

func (r *Repository) AuthorshipsForPublication(ctx context.Context, publicationID uint) ([]models.Authorship, error) {
	var authorships []models.Authorship
	err := r.DB.WithContext(ctx).Where("publication_id = ?", publicationID).Order("author_rank").Find(&authorships).Error
	return authorships, err
}

func (r *Repository) MembershipsForPerson(ctx context.Context, personID uint) ([]models.Membership, error) {
	var memberships []models.Membership
	err := r.DB.WithContext(ctx).Where("person_id = ?", personID).Order("id").Find(&memberships).Error
	return memberships, err
}

func (r *Repository) DeleteAuthorship(ctx context.Context, a *models.Authorship) error {
	return r.DB.WithContext(ctx).Delete(a).Error
}

func (r *Repository) DeletePerson(ctx context.Context, p *models.Person) error {
	return r.DB.WithContext(ctx).Delete(p).Error
}

// Transaction runs fn against a transactional repository; any error rolls the
// whole transaction back.
func (r *Repository) Transaction(ctx context.Context, fn func(services.Store) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{DB: tx})
	})
}
