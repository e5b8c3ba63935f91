package triage

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type Question struct {
	ID      QuestionID `json:"id" yaml:"id"`
	Prompt  string     `json:"question" yaml:"prompt"`
	Options []Answer   `json:"options" yaml:"-"`
}

// Catalog holds the question set and the recommendation table.
type Catalog struct {
	questions       []Question
	recommendations map[Level]Recommendation
}

type catalogFile struct {
	Questions       []Question `yaml:"questions"`
	Recommendations []struct {
		Level          Level `yaml:"level"`
		Recommendation `yaml:",inline"`
	} `yaml:"recommendations"`
}

var defaultCatalog = mustLoadCatalog(catalogYAML)

func mustLoadCatalog(data []byte) *Catalog {
	c, err := LoadCatalog(data)
	if err != nil {
		panic(fmt.Sprintf("triage: embedded catalog: %v", err))
	}
	return c
}

// LoadCatalog parses and validates a YAML catalog. Every level 1..4 must
// have a title, at least one treatment and at least one next step.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Questions) == 0 {
		return nil, fmt.Errorf("catalog has no questions")
	}

	seen := map[QuestionID]bool{}
	for i := range f.Questions {
		q := &f.Questions[i]
		if q.ID == "" || q.Prompt == "" {
			return nil, fmt.Errorf("question %d: id and prompt are required", i)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		q.Options = []Answer{Yes, No}
	}

	recs := make(map[Level]Recommendation, 4)
	for _, r := range f.Recommendations {
		if !r.Level.Valid() {
			return nil, fmt.Errorf("recommendation level %d out of range", r.Level)
		}
		rec := r.Recommendation
		rec.Urgency = r.Level.Category()
		recs[r.Level] = rec
	}
	for l := LevelLow; l <= LevelUrgent; l++ {
		rec, ok := recs[l]
		switch {
		case !ok:
			return nil, fmt.Errorf("missing recommendation for level %d", l)
		case rec.Title == "":
			return nil, fmt.Errorf("level %d: empty title", l)
		case len(rec.Treatments) == 0:
			return nil, fmt.Errorf("level %d: no treatments", l)
		case len(rec.NextSteps) == 0:
			return nil, fmt.Errorf("level %d: no next steps", l)
		}
	}

	return &Catalog{questions: f.Questions, recommendations: recs}, nil
}

func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// Questions returns the ordered question set.
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	for i, q := range c.questions {
		q.Options = append([]Answer(nil), q.Options...)
		out[i] = q
	}
	return out
}

// Recommend looks up the bundle for a level. Out-of-range levels get the
// level 1 entry.
func (c *Catalog) Recommend(l Level) Recommendation {
	if !l.Valid() {
		l = LevelLow
	}
	return c.recommendations[l].clone()
}

// RecommendCategory looks up by category label; unknown labels map to Low.
func (c *Catalog) RecommendCategory(cat Category) Recommendation {
	return c.Recommend(cat.Level())
}

func Questions() []Question {
	return defaultCatalog.Questions()
}

func Recommend(l Level) Recommendation {
	return defaultCatalog.Recommend(l)
}
