package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lab-registry/models"
)

// ErrUnresolvedReference marks a cross-reference whose synthetic id is not
// present in the identifier map at resolution time.
var ErrUnresolvedReference = errors.New("unresolved snapshot reference")

// ErrCyclicOrganization marks a super-organization link that would make an
// organization its own ancestor. Cycles are rejected, never persisted.
var ErrCyclicOrganization = errors.New("cyclic super-organization chain")

// KindReport counts the outcome of one entity kind during an import run.
type KindReport struct {
	New     int `json:"new"`
	Matched int `json:"matched"`
	Skipped int `json:"skipped"`
}

// PendingAttachment records an attachment path found on an imported
// publication; the archive unpackager relocates the staged file once the
// publication has its persisted id.
type PendingAttachment struct {
	Publication *models.Publication
	Field       string
	ArchivePath string
}

// ImportReport is the per-kind summary of one import run.
type ImportReport struct {
	Organizations KindReport `json:"organizations"`
	Persons       KindReport `json:"persons"`
	Memberships   KindReport `json:"memberships"`
	Journals      KindReport `json:"journals"`
	Publications  KindReport `json:"publications"`

	// Attachments referenced by imported publications, to be relocated by the
	// archive unpackager. Not part of the JSON summary.
	Attachments []PendingAttachment `json:"-"`
}

// TotalNew sums the newly created rows across every entity kind.
func (r *ImportReport) TotalNew() int {
	return r.Organizations.New + r.Persons.New + r.Memberships.New + r.Journals.New + r.Publications.New
}

// ImportService replays a snapshot document into the store through per-kind
// upsert resolvers. Re-importing the same document is idempotent: the second
// run reports only matches and creates nothing.
type ImportService struct {
	Store  Store
	Logger *zap.Logger
}

// NewImportService creates a new instance of the ImportService.
func NewImportService(store Store, logger *zap.Logger) *ImportService {
	return &ImportService{Store: store, Logger: logger}
}

// importRun is the state of a single Import call. Never shared across calls.
type importRun struct {
	ids    *IdentifierMap
	report *ImportReport
}

// Import replays the document section by section in the same dependency order
// the exporter used. A structural error aborts the whole run; an unresolved
// membership or publication reference skips that one record only.
func (s *ImportService) Import(ctx context.Context, doc *Document) (*ImportReport, error) {
	run := &importRun{ids: NewIdentifierMap(), report: &ImportReport{}}

	if err := s.importOrganizations(ctx, run, doc.Organizations); err != nil {
		return nil, err
	}
	if err := s.importPersons(ctx, run, doc.Persons); err != nil {
		return nil, err
	}
	if err := s.importMemberships(ctx, run, doc.Memberships); err != nil {
		return nil, err
	}
	if err := s.importJournals(ctx, run, doc.Journals); err != nil {
		return nil, err
	}
	if err := s.importPublications(ctx, run, doc.Publications); err != nil {
		return nil, err
	}

	s.Logger.Info("Snapshot import completed",
		zap.Int("organizations_new", run.report.Organizations.New),
		zap.Int("organizations_matched", run.report.Organizations.Matched),
		zap.Int("persons_new", run.report.Persons.New),
		zap.Int("persons_matched", run.report.Persons.Matched),
		zap.Int("memberships_new", run.report.Memberships.New),
		zap.Int("memberships_skipped", run.report.Memberships.Skipped),
		zap.Int("journals_new", run.report.Journals.New),
		zap.Int("publications_new", run.report.Publications.New))
	return run.report, nil
}

func syntheticID(bag AttributeBag) (string, bool) {
	id, ok := bag[FieldID].(string)
	return id, ok && id != ""
}

// importOrganizations runs in two passes: the first creates or matches every
// base row, the second resolves super-organization references. Forward
// references inside the section therefore always resolve; a reference that is
// still unresolved after the second pass points outside the document and is
// an error, as is any link that would close a cycle.
func (s *ImportService) importOrganizations(ctx context.Context, run *importRun, bags []AttributeBag) error {
	type parentLink struct {
		org       *models.Organization
		parentSID string
	}
	var links []parentLink

	for _, bag := range bags {
		candidate := &models.Organization{}
		applyBag(organizationFields, candidate, bag)
		if candidate.Acronym == "" && candidate.Name == "" {
			run.report.Organizations.Skipped++
			continue
		}

		existing, err := s.Store.OrganizationByKey(ctx, candidate.Acronym, candidate.Name)
		if err != nil {
			return fmt.Errorf("organization lookup: %w", err)
		}
		org := existing
		if org == nil {
			if err := s.Store.SaveOrganization(ctx, candidate); err != nil {
				return fmt.Errorf("organization save: %w", err)
			}
			org = candidate
			run.report.Organizations.New++
		} else {
			run.report.Organizations.Matched++
		}
		if sid, ok := syntheticID(bag); ok {
			run.ids.Put(sid, org)
		}
		if parentSID, ok := bag.Ref("superOrganization"); ok {
			links = append(links, parentLink{org: org, parentSID: parentSID})
		}
	}

	for _, link := range links {
		resolved, ok := run.ids.Get(link.parentSID)
		if !ok {
			return fmt.Errorf("%w: superOrganization %q", ErrUnresolvedReference, link.parentSID)
		}
		parent, ok := resolved.(*models.Organization)
		if !ok {
			return fmt.Errorf("%w: %q is not an organization", ErrUnresolvedReference, link.parentSID)
		}
		if err := checkAcyclic(link.org, parent); err != nil {
			return err
		}
		link.org.SuperOrganizationID = &parent.ID
		link.org.SuperOrganization = parent
		if err := s.Store.SaveOrganization(ctx, link.org); err != nil {
			return fmt.Errorf("organization parent save: %w", err)
		}
	}
	return nil
}

// checkAcyclic refuses a parent link that would make org its own ancestor.
func checkAcyclic(org, parent *models.Organization) error {
	for cur := parent; cur != nil; cur = cur.SuperOrganization {
		if cur.ID == org.ID {
			return fmt.Errorf("%w: organization %d", ErrCyclicOrganization, org.ID)
		}
	}
	return nil
}

func (s *ImportService) importPersons(ctx context.Context, run *importRun, bags []AttributeBag) error {
	for _, bag := range bags {
		candidate := &models.Person{}
		applyBag(personFields, candidate, bag)
		if candidate.FirstName == "" && candidate.LastName == "" {
			run.report.Persons.Skipped++
			continue
		}

		existing, err := s.Store.PersonByName(ctx, candidate.FirstName, candidate.LastName)
		if err != nil {
			return fmt.Errorf("person lookup: %w", err)
		}
		p := existing
		if p == nil {
			if err := s.Store.SavePerson(ctx, candidate); err != nil {
				return fmt.Errorf("person save: %w", err)
			}
			p = candidate
			run.report.Persons.New++
		} else {
			run.report.Persons.Matched++
		}
		if sid, ok := syntheticID(bag); ok {
			run.ids.Put(sid, p)
		}
	}
	return nil
}

// importMemberships resolves the person and organization references before the
// natural-key lookup; a missing reference is fatal for that one membership
// only (skip-and-continue), never for the run.
func (s *ImportService) importMemberships(ctx context.Context, run *importRun, bags []AttributeBag) error {
	for _, bag := range bags {
		person, okP := resolveAs[*models.Person](run.ids, bag, "person")
		org, okO := resolveAs[*models.Organization](run.ids, bag, "researchOrganization")
		if !okP || !okO {
			s.Logger.Warn("Skipping membership with unresolved reference",
				zap.Bool("person_resolved", okP), zap.Bool("organization_resolved", okO))
			run.report.Memberships.Skipped++
			continue
		}

		candidate := &models.Membership{}
		applyBag(membershipFields, candidate, bag)
		candidate.PersonID = person.ID
		candidate.OrganizationID = org.ID

		existing, err := s.Store.MembershipByKey(ctx, person.ID, org.ID, candidate.Status, candidate.StartDate, candidate.EndDate)
		if err != nil {
			return fmt.Errorf("membership lookup: %w", err)
		}
		m := existing
		if m == nil {
			if err := s.Store.SaveMembership(ctx, candidate); err != nil {
				return fmt.Errorf("membership save: %w", err)
			}
			m = candidate
			run.report.Memberships.New++
		} else {
			run.report.Memberships.Matched++
		}
		if sid, ok := syntheticID(bag); ok {
			run.ids.Put(sid, m)
		}
	}
	return nil
}

// importJournals upserts the base journal row, then replays the per-year
// quality-indicator history. Entries contributing different values for the
// same year are merged into a single record, never duplicated.
func (s *ImportService) importJournals(ctx context.Context, run *importRun, bags []AttributeBag) error {
	for _, bag := range bags {
		candidate := &models.Journal{}
		applyBag(journalFields, candidate, bag)
		if candidate.Name == "" {
			run.report.Journals.Skipped++
			continue
		}

		existing, err := s.Store.JournalByName(ctx, candidate.Name)
		if err != nil {
			return fmt.Errorf("journal lookup: %w", err)
		}
		j := existing
		if j == nil {
			if err := s.Store.SaveJournal(ctx, candidate); err != nil {
				return fmt.Errorf("journal save: %w", err)
			}
			j = candidate
			run.report.Journals.New++
		} else {
			run.report.Journals.Matched++
		}
		if sid, ok := syntheticID(bag); ok {
			run.ids.Put(sid, j)
		}

		if err := s.mergeIndicatorHistory(ctx, j, bag["qualityIndicators"]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ImportService) mergeIndicatorHistory(ctx context.Context, j *models.Journal, raw any) error {
	for _, entry := range historyEntries(raw) {
		year, ok := asInt(entry["year"])
		if !ok || year == 0 {
			continue
		}
		record := j.IndicatorsFor(year)
		created := false
		if record == nil {
			j.QualityIndicators = append(j.QualityIndicators, models.JournalQualityIndicators{
				JournalID: j.ID,
				Year:      year,
			})
			record = &j.QualityIndicators[len(j.QualityIndicators)-1]
			created = true
		}
		if v, ok := asString(entry["scimagoQuartile"]); ok && v != "" {
			record.ScimagoQuartile = v
		}
		if v, ok := asString(entry["wosQuartile"]); ok && v != "" {
			record.WosQuartile = v
		}
		if v, ok := asFloat(entry["impactFactor"]); ok {
			record.ImpactFactor = &v
		}
		if created && record.Empty() {
			// Never create a history entry without a single indicator value.
			j.QualityIndicators = j.QualityIndicators[:len(j.QualityIndicators)-1]
			continue
		}
		if err := s.Store.SaveIndicators(ctx, record); err != nil {
			return fmt.Errorf("journal indicators save: %w", err)
		}
	}
	return nil
}

// historyEntries normalizes a decoded history list; malformed entries are
// dropped (they are attribute noise, not document structure).
func historyEntries(raw any) []AttributeBag {
	var entries []AttributeBag
	switch list := raw.(type) {
	case []AttributeBag:
		entries = list
	case []any:
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, AttributeBag(m))
			}
		}
	}
	return entries
}

// importPublications upserts publications, replays their ranked author lists
// and records attachment paths for later relocation. Unresolved journal or
// author references skip the one publication, like memberships.
func (s *ImportService) importPublications(ctx context.Context, run *importRun, bags []AttributeBag) error {
	for _, bag := range bags {
		candidate := &models.Publication{}
		applyBag(publicationFields, candidate, bag)
		if candidate.Title == "" {
			run.report.Publications.Skipped++
			continue
		}

		var journal *models.Journal
		if jSID, ok := bag.Ref("journal"); ok {
			resolved, found := run.ids.Get(jSID)
			j, isJournal := resolved.(*models.Journal)
			if !found || !isJournal {
				s.Logger.Warn("Skipping publication with unresolved journal", zap.String("ref", jSID))
				run.report.Publications.Skipped++
				continue
			}
			journal = j
		}
		authors, ok := s.resolveAuthors(run, bag)
		if !ok {
			run.report.Publications.Skipped++
			continue
		}

		existing, err := s.Store.PublicationByKey(ctx, candidate.Title, candidate.Year)
		if err != nil {
			return fmt.Errorf("publication lookup: %w", err)
		}
		pub := existing
		if pub == nil {
			if journal != nil {
				candidate.JournalID = &journal.ID
			}
			if err := s.Store.SavePublication(ctx, candidate); err != nil {
				return fmt.Errorf("publication save: %w", err)
			}
			for rank, author := range authors {
				a := &models.Authorship{
					PublicationID: candidate.ID,
					PersonID:      author.ID,
					AuthorRank:    rank,
				}
				if err := s.Store.SaveAuthorship(ctx, a); err != nil {
					return fmt.Errorf("authorship save: %w", err)
				}
				candidate.Authorships = append(candidate.Authorships, *a)
			}
			pub = candidate
			run.report.Publications.New++
		} else {
			run.report.Publications.Matched++
		}
		if sid, ok := syntheticID(bag); ok {
			run.ids.Put(sid, pub)
		}

		for _, field := range attachmentFields {
			if path, ok := asString(bag[field]); ok && path != "" {
				run.report.Attachments = append(run.report.Attachments, PendingAttachment{
					Publication: pub,
					Field:       field,
					ArchivePath: path,
				})
			}
		}
	}
	return nil
}

// resolveAuthors resolves the ordered author reference list; any unresolved
// entry fails the whole list.
func (s *ImportService) resolveAuthors(run *importRun, bag AttributeBag) ([]*models.Person, bool) {
	raw, ok := bag["authors"]
	if !ok {
		return nil, true
	}
	var persons []*models.Person
	for _, entry := range historyEntries(raw) {
		sid, ok := entry[FieldID].(string)
		if !ok || sid == "" {
			continue
		}
		resolved, found := run.ids.Get(sid)
		if !found {
			s.Logger.Warn("Skipping publication with unresolved author", zap.String("ref", sid))
			return nil, false
		}
		p, isPerson := resolved.(*models.Person)
		if !isPerson {
			return nil, false
		}
		persons = append(persons, p)
	}
	return persons, true
}

// resolveAs looks up a cross-reference and asserts its entity kind.
func resolveAs[E any](ids *IdentifierMap, bag AttributeBag, key string) (E, bool) {
	var zero E
	sid, ok := bag.Ref(key)
	if !ok {
		return zero, false
	}
	resolved, found := ids.Get(sid)
	if !found {
		return zero, false
	}
	typed, isType := resolved.(E)
	if !isType {
		return zero, false
	}
	return typed, true
}

// normalizeName is the comparison form for person natural keys: trimmed and
// case-folded, diacritics untouched.
func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
