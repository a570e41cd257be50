package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lab-registry/models"
)

func newDuplicateService(store *fakeStore) *DuplicateService {
	return NewDuplicateService(store, zap.NewNop(), 0.9, 0.4)
}

func TestSamePerson(t *testing.T) {
	svc := newDuplicateService(newFakeStore())

	cases := []struct {
		name string
		a, b models.Person
		want bool
	}{
		{
			name: "identical names",
			a:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			b:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			want: true,
		},
		{
			name: "near-identical spelling",
			a:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			b:    models.Person{FirstName: "Christophe", LastName: "Durant"},
			want: true,
		},
		{
			name: "abbreviated first name",
			a:    models.Person{FirstName: "C.", LastName: "Durand"},
			b:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			want: true,
		},
		{
			name: "swapped first and last name",
			a:    models.Person{FirstName: "Durand", LastName: "Christophe"},
			b:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			want: true,
		},
		{
			name: "different person",
			a:    models.Person{FirstName: "Marie", LastName: "Dupont"},
			b:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			want: false,
		},
		{
			name: "same last name only",
			a:    models.Person{FirstName: "Sophie", LastName: "Durand"},
			b:    models.Person{FirstName: "Christophe", LastName: "Durand"},
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, svc.SamePerson(&tc.a, &tc.b))
		})
	}
}

func TestNameSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, nameSimilarity("Christophe Durand", "christophe durand"), 0.001)
	assert.Less(t, nameSimilarity("Li Wei", "Christophe Durand"), 0.4)
	sim := nameSimilarity("C. Durand", "Christophe Durand")
	assert.Greater(t, sim, 0.4)
	assert.Less(t, sim, 0.9)
}

func TestComponentsMatch(t *testing.T) {
	assert.True(t, componentsMatch("C.", "Christophe"))
	assert.True(t, componentsMatch("Christophe", "c"))
	assert.True(t, componentsMatch("Durand", "durand"))
	assert.False(t, componentsMatch("M.", "Christophe"))
	assert.False(t, componentsMatch("", "Durand"))
	// Two different full names never match through the initial rule.
	assert.False(t, componentsMatch("Marie", "Martine"))
}

func TestFindPersonDuplicatesGroups(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	require.NoError(t, store.SavePerson(ctx, &models.Person{FirstName: "Christophe", LastName: "Durand"}))
	require.NoError(t, store.SavePerson(ctx, &models.Person{FirstName: "C.", LastName: "Durand"}))
	require.NoError(t, store.SavePerson(ctx, &models.Person{FirstName: "Marie", LastName: "Dupont"}))

	groups, err := newDuplicateService(store).FindPersonDuplicates(ctx)
	require.NoError(t, err)

	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
	names := []string{groups[0][0].FullName(), groups[0][1].FullName()}
	assert.Contains(t, names, "Christophe Durand")
	assert.Contains(t, names, "C. Durand")
}

func TestFindPersonDuplicatesDiscardsSubgroups(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	require.NoError(t, store.SavePerson(ctx, &models.Person{FirstName: "Christophe", LastName: "Durand"}))
	require.NoError(t, store.SavePerson(ctx, &models.Person{FirstName: "Christophe", LastName: "Durant"}))
	require.NoError(t, store.SavePerson(ctx, &models.Person{FirstName: "Christophe", LastName: "Duran"}))

	groups, err := newDuplicateService(store).FindPersonDuplicates(ctx)
	require.NoError(t, err)

	// The three spellings are mutually similar; one three-element group comes
	// back, never its two-element subgroups.
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestFindPersonDuplicatesEmptyStore(t *testing.T) {
	groups, err := newDuplicateService(newFakeStore()).FindPersonDuplicates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
}
