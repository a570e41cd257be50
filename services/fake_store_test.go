package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"lab-registry/models"
)

var errFakeStore = errors.New("fake store failure")

// fakeStore is an in-memory Store for service tests. Saves assign ids and keep
// copies, so tests never depend on pointer identity. Setting failOn to a method
// name makes that method fail, which is how the rollback tests force errors
// mid-transaction.
type fakeStore struct {
	nextID uint

	organizations []models.Organization
	persons       []models.Person
	memberships   []models.Membership
	journals      []models.Journal
	indicators    []models.JournalQualityIndicators
	publications  []models.Publication
	authorships   []models.Authorship

	failOn string
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) fails(method string) bool {
	return f.failOn == method
}

func (f *fakeStore) allocID(current uint) uint {
	if current != 0 {
		return current
	}
	f.nextID++
	return f.nextID
}

func (f *fakeStore) clone() *fakeStore {
	c := *f
	c.organizations = append([]models.Organization(nil), f.organizations...)
	c.persons = append([]models.Person(nil), f.persons...)
	c.memberships = append([]models.Membership(nil), f.memberships...)
	c.journals = append([]models.Journal(nil), f.journals...)
	c.indicators = append([]models.JournalQualityIndicators(nil), f.indicators...)
	c.publications = append([]models.Publication(nil), f.publications...)
	c.authorships = append([]models.Authorship(nil), f.authorships...)
	return &c
}

func (f *fakeStore) Transaction(ctx context.Context, fn func(Store) error) error {
	snapshot := f.clone()
	if err := fn(f); err != nil {
		*f = *snapshot
		return err
	}
	return nil
}

func (f *fakeStore) OrganizationByKey(ctx context.Context, acronym, name string) (*models.Organization, error) {
	var matches []models.Organization
	for _, o := range f.organizations {
		if (acronym != "" && o.Acronym == acronym) || (name != "" && o.Name == name) {
			matches = append(matches, o)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		org := matches[0]
		if org.SuperOrganizationID != nil {
			for _, parent := range f.organizations {
				if parent.ID == *org.SuperOrganizationID {
					p := parent
					org.SuperOrganization = &p
					break
				}
			}
		}
		return &org, nil
	default:
		return nil, ErrAmbiguousKey
	}
}

func (f *fakeStore) PersonByName(ctx context.Context, firstName, lastName string) (*models.Person, error) {
	first := strings.ToLower(strings.TrimSpace(firstName))
	last := strings.ToLower(strings.TrimSpace(lastName))
	var matches []models.Person
	for _, p := range f.persons {
		if strings.ToLower(strings.TrimSpace(p.FirstName)) == first &&
			strings.ToLower(strings.TrimSpace(p.LastName)) == last {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		p := matches[0]
		return &p, nil
	default:
		return nil, ErrAmbiguousKey
	}
}

func (f *fakeStore) JournalByName(ctx context.Context, name string) (*models.Journal, error) {
	for _, j := range f.journals {
		if j.Name == name {
			found := j
			found.QualityIndicators = f.indicatorsOf(j.ID)
			return &found, nil
		}
	}
	return nil, nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (f *fakeStore) MembershipByKey(ctx context.Context, personID, organizationID uint, status models.MemberStatus, start, end *time.Time) (*models.Membership, error) {
	for _, m := range f.memberships {
		if m.PersonID == personID && m.OrganizationID == organizationID && m.Status == status &&
			sameDate(m.StartDate, start) && sameDate(m.EndDate, end) {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) PublicationByKey(ctx context.Context, title string, year int) (*models.Publication, error) {
	for _, p := range f.publications {
		if p.Title == title && p.Year == year {
			found := p
			found.Authorships = f.authorshipsOf(p.ID)
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) PersonByID(ctx context.Context, id uint) (*models.Person, error) {
	for _, p := range f.persons {
		if p.ID == id {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) PublicationByID(ctx context.Context, id uint) (*models.Publication, error) {
	for _, p := range f.publications {
		if p.ID == id {
			found := p
			found.Authorships = f.authorshipsOf(p.ID)
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Organizations(ctx context.Context) ([]models.Organization, error) {
	return append([]models.Organization(nil), f.organizations...), nil
}

func (f *fakeStore) Persons(ctx context.Context) ([]models.Person, error) {
	return append([]models.Person(nil), f.persons...), nil
}

func (f *fakeStore) Memberships(ctx context.Context) ([]models.Membership, error) {
	return append([]models.Membership(nil), f.memberships...), nil
}

func (f *fakeStore) Journals(ctx context.Context) ([]models.Journal, error) {
	journals := append([]models.Journal(nil), f.journals...)
	for i := range journals {
		journals[i].QualityIndicators = f.indicatorsOf(journals[i].ID)
	}
	return journals, nil
}

func (f *fakeStore) Publications(ctx context.Context) ([]models.Publication, error) {
	publications := append([]models.Publication(nil), f.publications...)
	for i := range publications {
		publications[i].Authorships = f.authorshipsOf(publications[i].ID)
	}
	return publications, nil
}

func (f *fakeStore) indicatorsOf(journalID uint) []models.JournalQualityIndicators {
	var out []models.JournalQualityIndicators
	for _, q := range f.indicators {
		if q.JournalID == journalID {
			out = append(out, q)
		}
	}
	return out
}

func (f *fakeStore) authorshipsOf(publicationID uint) []models.Authorship {
	var out []models.Authorship
	for _, a := range f.authorships {
		if a.PublicationID == publicationID {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeStore) SaveOrganization(ctx context.Context, org *models.Organization) error {
	if f.fails("SaveOrganization") {
		return errFakeStore
	}
	org.ID = f.allocID(org.ID)
	for i := range f.organizations {
		if f.organizations[i].ID == org.ID {
			f.organizations[i] = *org
			return nil
		}
	}
	f.organizations = append(f.organizations, *org)
	return nil
}

func (f *fakeStore) SavePerson(ctx context.Context, p *models.Person) error {
	if f.fails("SavePerson") {
		return errFakeStore
	}
	p.ID = f.allocID(p.ID)
	for i := range f.persons {
		if f.persons[i].ID == p.ID {
			f.persons[i] = *p
			return nil
		}
	}
	f.persons = append(f.persons, *p)
	return nil
}

func (f *fakeStore) SaveMembership(ctx context.Context, m *models.Membership) error {
	if f.fails("SaveMembership") {
		return errFakeStore
	}
	m.ID = f.allocID(m.ID)
	for i := range f.memberships {
		if f.memberships[i].ID == m.ID {
			f.memberships[i] = *m
			return nil
		}
	}
	f.memberships = append(f.memberships, *m)
	return nil
}

func (f *fakeStore) SaveJournal(ctx context.Context, j *models.Journal) error {
	if f.fails("SaveJournal") {
		return errFakeStore
	}
	j.ID = f.allocID(j.ID)
	stored := *j
	stored.QualityIndicators = nil
	for i := range f.journals {
		if f.journals[i].ID == j.ID {
			f.journals[i] = stored
			return nil
		}
	}
	f.journals = append(f.journals, stored)
	return nil
}

func (f *fakeStore) SaveIndicators(ctx context.Context, q *models.JournalQualityIndicators) error {
	if f.fails("SaveIndicators") {
		return errFakeStore
	}
	q.ID = f.allocID(q.ID)
	for i := range f.indicators {
		if f.indicators[i].ID == q.ID {
			f.indicators[i] = *q
			return nil
		}
	}
	f.indicators = append(f.indicators, *q)
	return nil
}

func (f *fakeStore) SavePublication(ctx context.Context, pub *models.Publication) error {
	if f.fails("SavePublication") {
		return errFakeStore
	}
	pub.ID = f.allocID(pub.ID)
	stored := *pub
	stored.Authorships = nil
	for i := range f.publications {
		if f.publications[i].ID == pub.ID {
			f.publications[i] = stored
			return nil
		}
	}
	f.publications = append(f.publications, stored)
	return nil
}

func (f *fakeStore) SaveAuthorship(ctx context.Context, a *models.Authorship) error {
	if f.fails("SaveAuthorship") {
		return errFakeStore
	}
	a.ID = f.allocID(a.ID)
	for i := range f.authorships {
		if f.authorships[i].ID == a.ID {
			f.authorships[i] = *a
			return nil
		}
	}
	f.authorships = append(f.authorships, *a)
	return nil
}

func (f *fakeStore) AuthorshipsForPerson(ctx context.Context, personID uint) ([]models.Authorship, error) {
	var out []models.Authorship
	for _, a := range f.authorships {
		if a.PersonID == personID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) AuthorshipsForPublication(ctx context.Context, publicationID uint) ([]models.Authorship, error) {
	return f.authorshipsOf(publicationID), nil
}

func (f *fakeStore) MembershipsForPerson(ctx context.Context, personID uint) ([]models.Membership, error) {
	var out []models.Membership
	for _, m := range f.memberships {
		if m.PersonID == personID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteAuthorship(ctx context.Context, a *models.Authorship) error {
	if f.fails("DeleteAuthorship") {
		return errFakeStore
	}
	for i := range f.authorships {
		if f.authorships[i].ID == a.ID {
			f.authorships = append(f.authorships[:i], f.authorships[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) DeletePerson(ctx context.Context, p *models.Person) error {
	if f.fails("DeletePerson") {
		return errFakeStore
	}
	for i := range f.persons {
		if f.persons[i].ID == p.ID {
			f.persons = append(f.persons[:i], f.persons[i+1:]...)
			return nil
		}
	}
	return nil
}
