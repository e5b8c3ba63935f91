package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultQuestionsOrder(t *testing.T) {
	qs := Questions()
	require.Len(t, qs, 3)
	assert.Equal(t, VisibleVeins, qs[0].ID)
	assert.Equal(t, Ulcers, qs[1].ID)
	assert.Equal(t, PreviousTreatment, qs[2].ID)
	for _, q := range qs {
		assert.NotEmpty(t, q.Prompt)
		assert.Equal(t, []Answer{Yes, No}, q.Options)
	}
}

func TestRecommendIsTotal(t *testing.T) {
	for _, cat := range []Category{Low, Medium, High, Urgent} {
		rec := DefaultCatalog().RecommendCategory(cat)
		assert.NotEmpty(t, rec.Title, cat)
		assert.NotEmpty(t, rec.Treatments, cat)
		assert.NotEmpty(t, rec.NextSteps, cat)
		assert.Equal(t, cat, rec.Urgency)
	}
}

func TestRecommendFallsBackToLow(t *testing.T) {
	low := Recommend(LevelLow)
	assert.Equal(t, low, Recommend(0))
	assert.Equal(t, low, Recommend(7))
	assert.Equal(t, low, DefaultCatalog().RecommendCategory("Critical"))
}

func TestRecommendReturnsCopies(t *testing.T) {
	rec := Recommend(LevelMedium)
	rec.Treatments[0] = "changed"
	assert.NotEqual(t, "changed", Recommend(LevelMedium).Treatments[0])
}

func TestLoadCatalogRejectsIncompleteTable(t *testing.T) {
	_, err := LoadCatalog([]byte(`
questions:
  - id: ulcers
    prompt: Ulcers?
recommendations:
  - level: 1
    title: Low
    treatments: [rest]
    next_steps: [wait]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing recommendation for level 2")

	_, err = LoadCatalog([]byte(`
questions:
  - id: ulcers
    prompt: Ulcers?
recommendations:
  - {level: 1, title: a, treatments: [x], next_steps: [y]}
  - {level: 2, title: b, treatments: [x], next_steps: []}
  - {level: 3, title: c, treatments: [x], next_steps: [y]}
  - {level: 4, title: d, treatments: [x], next_steps: [y]}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no next steps")
}

func TestLoadCatalogRejectsDuplicateQuestion(t *testing.T) {
	_, err := LoadCatalog([]byte(`
questions:
  - {id: ulcers, prompt: one}
  - {id: ulcers, prompt: two}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
