package services

import (
	"context"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"lab-registry/models"
)

// DuplicateService finds groups of probably-identical person records for
// manual merge review. It never merges anything itself.
//
// The comparison is O(n²) over the full person set, which is fine at
// institution scale (hundreds to low thousands of records).
type DuplicateService struct {
	Store  Store
	Logger *zap.Logger

	// ConfidentThreshold and above: duplicate. Between PossibleThreshold and
	// ConfidentThreshold: duplicate only when the abbreviated-name check
	// agrees. Below PossibleThreshold: not a duplicate.
	ConfidentThreshold float64
	PossibleThreshold  float64
}

// NewDuplicateService creates a new instance of the DuplicateService.
func NewDuplicateService(store Store, logger *zap.Logger, confident, possible float64) *DuplicateService {
	return &DuplicateService{
		Store:              store,
		Logger:             logger,
		ConfidentThreshold: confident,
		PossibleThreshold:  possible,
	}
}

// FindPersonDuplicates returns groups (not pairs) of mutually similar person
// records. A group wholly contained in an already-found larger group is
// discarded so the reviewer never sees redundant subgroups.
func (s *DuplicateService) FindPersonDuplicates(ctx context.Context) ([][]models.Person, error) {
	persons, err := s.Store.Persons(ctx)
	if err != nil {
		return nil, err
	}

	var groups [][]models.Person
	var groupSets []map[uint]bool
	for i := range persons {
		group := []models.Person{persons[i]}
		set := map[uint]bool{persons[i].ID: true}
		for j := range persons {
			if i == j {
				continue
			}
			if s.SamePerson(&persons[i], &persons[j]) {
				group = append(group, persons[j])
				set[persons[j].ID] = true
			}
		}
		if len(group) < 2 {
			continue
		}
		if containedInAny(set, groupSets) {
			continue
		}
		// The new group may in turn cover earlier, smaller ones.
		groups, groupSets = dropContained(groups, groupSets, set)
		groups = append(groups, group)
		groupSets = append(groupSets, set)
	}

	s.Logger.Info("Duplicate person scan completed",
		zap.Int("persons", len(persons)), zap.Int("groups", len(groups)))
	return groups, nil
}

// SamePerson decides whether two person records probably denote the same
// person. Names at or above the confident threshold match outright; the
// ambiguous middle band additionally tries abbreviated initials and swapped
// first/last order, so "C. Durand" matches "Christophe Durand".
func (s *DuplicateService) SamePerson(a, b *models.Person) bool {
	sim := nameSimilarity(a.FullName(), b.FullName())
	if sim >= s.ConfidentThreshold {
		return true
	}
	if sim < s.PossibleThreshold {
		return false
	}
	if componentsMatch(a.FirstName, b.FirstName) && componentsMatch(a.LastName, b.LastName) {
		return true
	}
	// Swapped name order ("Durand Christophe").
	return componentsMatch(a.FirstName, b.LastName) && componentsMatch(a.LastName, b.FirstName)
}

// nameSimilarity is a normalized edit-distance similarity in [0,1].
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == nb {
		return 1
	}
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := fuzzy.LevenshteinDistance(na, nb)
	return 1 - float64(dist)/float64(longest)
}

// componentsMatch compares one name component, treating either side as
// possibly abbreviated to its first letter ("C." vs "Christophe").
func componentsMatch(a, b string) bool {
	na := strings.TrimSuffix(normalizeName(a), ".")
	nb := strings.TrimSuffix(normalizeName(b), ".")
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	ra, rb := []rune(na), []rune(nb)
	if len(ra) == 1 {
		return ra[0] == rb[0]
	}
	if len(rb) == 1 {
		return rb[0] == ra[0]
	}
	return false
}

func containedInAny(set map[uint]bool, sets []map[uint]bool) bool {
	for _, other := range sets {
		if isSubset(set, other) {
			return true
		}
	}
	return false
}

func dropContained(groups [][]models.Person, sets []map[uint]bool, super map[uint]bool) ([][]models.Person, []map[uint]bool) {
	keptGroups := groups[:0]
	keptSets := sets[:0]
	for i, set := range sets {
		if isSubset(set, super) {
			continue
		}
		keptGroups = append(keptGroups, groups[i])
		keptSets = append(keptSets, set)
	}
	return keptGroups, keptSets
}

func isSubset(sub, super map[uint]bool) bool {
	if len(sub) > len(super) {
		return false
	}
	for id := range sub {
		if !super[id] {
			return false
		}
	}
	return true
}
