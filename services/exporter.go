package services

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"lab-registry/models"
)

// ExportService serializes the persisted entity set into a snapshot document.
type ExportService struct {
	Store  Store
	Logger *zap.Logger
}

// NewExportService creates a new instance of the ExportService.
func NewExportService(store Store, logger *zap.Logger) *ExportService {
	return &ExportService{Store: store, Logger: logger}
}

// Export walks the store in dependency order (organizations, persons,
// memberships, journals, publications) and builds the snapshot document.
// Entities that would serialize to an empty attribute bag are skipped. When
// every section ends up empty, Export returns (nil, nil): no export content
// is a distinct end state from an empty document.
func (s *ExportService) Export(ctx context.Context) (*Document, error) {
	ids := NewIdentifierMap()
	doc := &Document{}

	// Synthetic ids by database id, per kind, for cross-references emitted by
	// later sections.
	orgIDs := make(map[uint]string)
	personIDs := make(map[uint]string)
	journalIDs := make(map[uint]string)

	orgs, err := s.Store.Organizations(ctx)
	if err != nil {
		return nil, err
	}
	orgBags := make(map[uint]AttributeBag)
	for i := range orgs {
		org := &orgs[i]
		bag := buildBag(organizationFields, org)
		if len(bag) == 0 {
			s.Logger.Debug("Skipping organization with empty attribute bag", zap.Uint("id", org.ID))
			continue
		}
		sid := ids.NextID(PrefixOrganization)
		bag[FieldID] = sid
		ids.Put(sid, org)
		orgIDs[org.ID] = sid
		orgBags[org.ID] = bag
		doc.Organizations = append(doc.Organizations, bag)
	}
	// Parent references only after every organization has its id, so document
	// order inside the section does not matter.
	for i := range orgs {
		org := &orgs[i]
		bag, ok := orgBags[org.ID]
		if !ok || org.SuperOrganizationID == nil {
			continue
		}
		if parentSID, ok := orgIDs[*org.SuperOrganizationID]; ok {
			bag["superOrganization"] = refTo(parentSID)
		}
	}

	persons, err := s.Store.Persons(ctx)
	if err != nil {
		return nil, err
	}
	for i := range persons {
		p := &persons[i]
		bag := buildBag(personFields, p)
		if len(bag) == 0 {
			continue
		}
		sid := ids.NextID(PrefixPerson)
		bag[FieldID] = sid
		ids.Put(sid, p)
		personIDs[p.ID] = sid
		doc.Persons = append(doc.Persons, bag)
	}

	memberships, err := s.Store.Memberships(ctx)
	if err != nil {
		return nil, err
	}
	for i := range memberships {
		m := &memberships[i]
		personSID, okP := personIDs[m.PersonID]
		orgSID, okO := orgIDs[m.OrganizationID]
		if !okP || !okO {
			s.Logger.Warn("Skipping membership with unexported person or organization",
				zap.Uint("membership_id", m.ID))
			continue
		}
		bag := buildBag(membershipFields, m)
		if len(bag) == 0 {
			continue
		}
		sid := ids.NextID(PrefixMembership)
		bag[FieldID] = sid
		bag["person"] = refTo(personSID)
		bag["researchOrganization"] = refTo(orgSID)
		ids.Put(sid, m)
		doc.Memberships = append(doc.Memberships, bag)
	}

	journals, err := s.Store.Journals(ctx)
	if err != nil {
		return nil, err
	}
	for i := range journals {
		j := &journals[i]
		bag := buildBag(journalFields, j)
		if len(bag) == 0 {
			continue
		}
		sid := ids.NextID(PrefixJournal)
		bag[FieldID] = sid
		ids.Put(sid, j)
		journalIDs[j.ID] = sid
		if history := indicatorHistoryBags(j); len(history) > 0 {
			bag["qualityIndicators"] = history
		}
		doc.Journals = append(doc.Journals, bag)
	}

	publications, err := s.Store.Publications(ctx)
	if err != nil {
		return nil, err
	}
	for i := range publications {
		pub := &publications[i]
		bag := buildBag(publicationFields, pub)
		if len(bag) == 0 {
			continue
		}
		sid := ids.NextID(PrefixPublication)
		bag[FieldID] = sid
		ids.Put(sid, pub)
		if pub.JournalID != nil {
			if jSID, ok := journalIDs[*pub.JournalID]; ok {
				bag["journal"] = refTo(jSID)
			}
		}
		if authors := authorRefs(pub, personIDs); len(authors) > 0 {
			bag["authors"] = authors
		}
		doc.Publications = append(doc.Publications, bag)
	}

	if doc.Empty() {
		s.Logger.Info("Nothing to export, yielding no document")
		return nil, nil
	}
	doc.LastModification = time.Now().UTC().Format(time.RFC3339)

	s.Logger.Info("Snapshot export completed",
		zap.Int("organizations", len(doc.Organizations)),
		zap.Int("persons", len(doc.Persons)),
		zap.Int("memberships", len(doc.Memberships)),
		zap.Int("journals", len(doc.Journals)),
		zap.Int("publications", len(doc.Publications)))
	return doc, nil
}

// indicatorHistoryBags serializes the per-year quality indicators of a
// journal, skipping years without a single value.
func indicatorHistoryBags(j *models.Journal) []AttributeBag {
	var history []AttributeBag
	for i := range j.QualityIndicators {
		q := &j.QualityIndicators[i]
		if q.Empty() {
			continue
		}
		entry := AttributeBag{"year": q.Year}
		if q.ScimagoQuartile != "" {
			entry["scimagoQuartile"] = q.ScimagoQuartile
		}
		if q.WosQuartile != "" {
			entry["wosQuartile"] = q.WosQuartile
		}
		if q.ImpactFactor != nil {
			entry["impactFactor"] = *q.ImpactFactor
		}
		history = append(history, entry)
	}
	sort.Slice(history, func(a, b int) bool {
		ya, _ := asInt(history[a]["year"])
		yb, _ := asInt(history[b]["year"])
		return ya < yb
	})
	return history
}

// authorRefs emits the publication's author references in rank order.
func authorRefs(pub *models.Publication, personIDs map[uint]string) []AttributeBag {
	authorships := make([]models.Authorship, len(pub.Authorships))
	copy(authorships, pub.Authorships)
	sort.Slice(authorships, func(a, b int) bool {
		return authorships[a].AuthorRank < authorships[b].AuthorRank
	})
	var refs []AttributeBag
	for i := range authorships {
		if sid, ok := personIDs[authorships[i].PersonID]; ok {
			refs = append(refs, refTo(sid))
		}
	}
	return refs
}
