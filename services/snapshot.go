package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"lab-registry/models"
)

// Snapshot document constants. Field names starting with the special marker
// are never treated as settable entity attributes on import.
const (
	SpecialMarker = "@"
	FieldID       = "@id"

	SectionOrganizations = "researchOrganizations"
	SectionPersons       = "persons"
	SectionMemberships   = "memberships"
	SectionJournals      = "journals"
	SectionPublications  = "publications"

	// Name of the snapshot entry inside an archive bundle.
	SnapshotEntryName = "dbcontent.json"

	dateLayout = "2006-01-02"
)

// ErrMalformedDocument marks a snapshot document that is not shaped as
// expected (a section that is not a list, an entry that is not a mapping).
// Structural errors are fatal for the whole import run.
var ErrMalformedDocument = errors.New("malformed snapshot document")

// AttributeBag is the flat attribute mapping one serialized entity.
type AttributeBag map[string]any

// Ref extracts the synthetic id of a cross-reference pointer, shaped as
// {"<key>": {"@id": "<synthetic-id>"}}.
func (b AttributeBag) Ref(key string) (string, bool) {
	raw, ok := b[key]
	if !ok {
		return "", false
	}
	var obj map[string]any
	switch t := raw.(type) {
	case map[string]any:
		obj = t
	case AttributeBag:
		obj = t
	default:
		return "", false
	}
	id, ok := obj[FieldID].(string)
	return id, ok && id != ""
}

// refTo builds a cross-reference pointer to a synthetic id.
func refTo(syntheticID string) AttributeBag {
	return AttributeBag{FieldID: syntheticID}
}

// Document is one serialized database snapshot: one named section per entity
// kind, in dependency order, plus the last-modification timestamp under a
// special-marker key.
type Document struct {
	LastModification string         `json:"@lastModification,omitempty"`
	Organizations    []AttributeBag `json:"researchOrganizations,omitempty"`
	Persons          []AttributeBag `json:"persons,omitempty"`
	Memberships      []AttributeBag `json:"memberships,omitempty"`
	Journals         []AttributeBag `json:"journals,omitempty"`
	Publications     []AttributeBag `json:"publications,omitempty"`
}

// Empty reports whether every section is empty.
func (d *Document) Empty() bool {
	return len(d.Organizations) == 0 && len(d.Persons) == 0 &&
		len(d.Memberships) == 0 && len(d.Journals) == 0 && len(d.Publications) == 0
}

// ParseDocument decodes a snapshot document, mapping any structural problem to
// ErrMalformedDocument.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return &doc, nil
}

// field is one statically declared attribute of an entity kind: a typed
// getter/setter pair. The per-kind tables below are the explicit allow-list of
// snapshot attributes; anything else in an attribute bag is ignored, so old
// snapshots still partially import against a newer schema.
type field[E any] struct {
	get func(*E) any
	set func(*E, any)
}

// buildBag serializes every non-empty attribute of the entity. An entity whose
// bag comes back empty is skipped by the exporter entirely.
func buildBag[E any](table map[string]field[E], e *E) AttributeBag {
	bag := AttributeBag{}
	for name, f := range table {
		if f.get == nil {
			continue
		}
		if v := f.get(e); v != nil {
			bag[name] = v
		}
	}
	return bag
}

// applyBag copies every known attribute from the bag onto the entity. Unknown
// names and special-marker fields are silently ignored.
func applyBag[E any](table map[string]field[E], e *E, bag AttributeBag) {
	for name, v := range bag {
		if strings.HasPrefix(name, SpecialMarker) || v == nil {
			continue
		}
		if f, ok := table[name]; ok && f.set != nil {
			f.set(e, v)
		}
	}
}

// Coercion helpers. JSON decoding yields string/float64/bool; programmatic
// bags (tests, exporter round-trips) may carry native Go values.

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func asDate(v any) (*time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(dateLayout, t)
		if err != nil {
			return nil, false
		}
		return &parsed, true
	case time.Time:
		return &t, true
	default:
		return nil, false
	}
}

func stringAttr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func dateAttr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

var organizationFields = map[string]field[models.Organization]{
	"acronym": {
		get: func(o *models.Organization) any { return stringAttr(o.Acronym) },
		set: func(o *models.Organization, v any) {
			if s, ok := asString(v); ok {
				o.Acronym = s
			}
		},
	},
	"name": {
		get: func(o *models.Organization) any { return stringAttr(o.Name) },
		set: func(o *models.Organization, v any) {
			if s, ok := asString(v); ok {
				o.Name = s
			}
		},
	},
	"address": {
		get: func(o *models.Organization) any { return stringAttr(o.Address) },
		set: func(o *models.Organization, v any) {
			if s, ok := asString(v); ok {
				o.Address = s
			}
		},
	},
	"country": {
		get: func(o *models.Organization) any { return stringAttr(o.Country) },
		set: func(o *models.Organization, v any) {
			if s, ok := asString(v); ok {
				o.Country = s
			}
		},
	},
}

var personFields = map[string]field[models.Person]{
	"firstName": {
		get: func(p *models.Person) any { return stringAttr(p.FirstName) },
		set: func(p *models.Person, v any) {
			if s, ok := asString(v); ok {
				p.FirstName = s
			}
		},
	},
	"lastName": {
		get: func(p *models.Person) any { return stringAttr(p.LastName) },
		set: func(p *models.Person, v any) {
			if s, ok := asString(v); ok {
				p.LastName = s
			}
		},
	},
	"email": {
		get: func(p *models.Person) any { return stringAttr(p.Email) },
		set: func(p *models.Person, v any) {
			if s, ok := asString(v); ok {
				p.Email = s
			}
		},
	},
	"orcid": {
		get: func(p *models.Person) any { return stringAttr(p.ORCID) },
		set: func(p *models.Person, v any) {
			if s, ok := asString(v); ok {
				p.ORCID = s
			}
		},
	},
	"researcherId": {
		get: func(p *models.Person) any { return stringAttr(p.ResearcherID) },
		set: func(p *models.Person, v any) {
			if s, ok := asString(v); ok {
				p.ResearcherID = s
			}
		},
	},
	"googleScholarId": {
		get: func(p *models.Person) any { return stringAttr(p.GoogleScholarID) },
		set: func(p *models.Person, v any) {
			if s, ok := asString(v); ok {
				p.GoogleScholarID = s
			}
		},
	},
	"profileLinks": {
		get: func(p *models.Person) any {
			if len(p.ProfileLinks) == 0 {
				return nil
			}
			return json.RawMessage(p.ProfileLinks)
		},
		set: func(p *models.Person, v any) {
			if data, err := json.Marshal(v); err == nil {
				p.ProfileLinks = datatypes.JSON(data)
			}
		},
	},
}

var membershipFields = map[string]field[models.Membership]{
	"memberStatus": {
		get: func(m *models.Membership) any { return stringAttr(string(m.Status)) },
		set: func(m *models.Membership, v any) {
			if s, ok := asString(v); ok {
				m.Status = models.MemberStatus(s)
			}
		},
	},
	"memberSinceWhen": {
		get: func(m *models.Membership) any { return dateAttr(m.StartDate) },
		set: func(m *models.Membership, v any) {
			if t, ok := asDate(v); ok {
				m.StartDate = t
			}
		},
	},
	"memberToWhen": {
		get: func(m *models.Membership) any { return dateAttr(m.EndDate) },
		set: func(m *models.Membership, v any) {
			if t, ok := asDate(v); ok {
				m.EndDate = t
			}
		},
	},
	"disciplineCode": {
		get: func(m *models.Membership) any {
			if m.DisciplineCode == nil {
				return nil
			}
			return *m.DisciplineCode
		},
		set: func(m *models.Membership, v any) {
			if n, ok := asInt(v); ok {
				m.DisciplineCode = &n
			}
		},
	},
}

var journalFields = map[string]field[models.Journal]{
	"journalName": {
		get: func(j *models.Journal) any { return stringAttr(j.Name) },
		set: func(j *models.Journal, v any) {
			if s, ok := asString(v); ok {
				j.Name = s
			}
		},
	},
	"publisher": {
		get: func(j *models.Journal) any { return stringAttr(j.Publisher) },
		set: func(j *models.Journal, v any) {
			if s, ok := asString(v); ok {
				j.Publisher = s
			}
		},
	},
	"issn": {
		get: func(j *models.Journal) any { return stringAttr(j.ISSN) },
		set: func(j *models.Journal, v any) {
			if s, ok := asString(v); ok {
				j.ISSN = s
			}
		},
	},
}

var publicationFields = map[string]field[models.Publication]{
	"title": {
		get: func(p *models.Publication) any { return stringAttr(p.Title) },
		set: func(p *models.Publication, v any) {
			if s, ok := asString(v); ok {
				p.Title = s
			}
		},
	},
	"year": {
		get: func(p *models.Publication) any {
			if p.Year == 0 {
				return nil
			}
			return p.Year
		},
		set: func(p *models.Publication, v any) {
			if n, ok := asInt(v); ok {
				p.Year = n
			}
		},
	},
	"doi": {
		get: func(p *models.Publication) any { return stringAttr(p.DOI) },
		set: func(p *models.Publication, v any) {
			if s, ok := asString(v); ok {
				p.DOI = s
			}
		},
	},
	"pathToPDF": {
		get: func(p *models.Publication) any { return stringAttr(p.PathToPDF) },
		set: func(p *models.Publication, v any) {
			if s, ok := asString(v); ok {
				p.PathToPDF = s
			}
		},
	},
	"pathToAward": {
		get: func(p *models.Publication) any { return stringAttr(p.PathToAward) },
		set: func(p *models.Publication, v any) {
			if s, ok := asString(v); ok {
				p.PathToAward = s
			}
		},
	},
}

// attachmentFields names the publication attributes that reference attachment
// files on disk; the archive packager streams these into the bundle and the
// unpackager relocates them after import.
var attachmentFields = []string{"pathToPDF", "pathToAward"}
