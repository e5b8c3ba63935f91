package triage

import (
	"fmt"
	"strings"
)

// Rule derives a severity level from answers alone.
type Rule interface {
	Name() string
	Level(answers AnswerSet) Level
}

// PriorityRule checks conditions from most to least serious:
// ulcers, then visible veins with prior treatment, then visible veins.
type PriorityRule struct{}

func (PriorityRule) Name() string { return "priority" }

func (PriorityRule) Level(a AnswerSet) Level {
	switch {
	case a.IsYes(Ulcers):
		return LevelUrgent
	case a.IsYes(VisibleVeins) && a.IsYes(PreviousTreatment):
		return LevelHigh
	case a.IsYes(VisibleVeins):
		return LevelMedium
	default:
		return LevelLow
	}
}

var scoreWeights = map[QuestionID]int{
	VisibleVeins:      1,
	Ulcers:            3,
	PreviousTreatment: 1,
}

// ScoredRule sums weighted yes answers: >=3 is level 4, >=1 is level 2.
// It never produces level 3.
type ScoredRule struct{}

func (ScoredRule) Name() string { return "scored" }

func (ScoredRule) Level(a AnswerSet) Level {
	score := 0
	for id, w := range scoreWeights {
		if a.IsYes(id) {
			score += w
		}
	}
	switch {
	case score >= 3:
		return LevelUrgent
	case score >= 1:
		return LevelMedium
	default:
		return LevelLow
	}
}

func RuleByName(name string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "priority":
		return PriorityRule{}, nil
	case "scored":
		return ScoredRule{}, nil
	default:
		return nil, fmt.Errorf("unknown severity rule %q", name)
	}
}

type Outcome struct {
	Level          Level          `json:"severity_level"`
	Category       Category       `json:"category"`
	Recommendation Recommendation `json:"recommendation"`
	// AnswerLevel is the level before any analysis adjustment.
	AnswerLevel Level  `json:"answer_level"`
	Adjusted    bool   `json:"adjusted"`
	Rule        string `json:"rule"`
}

type Evaluator struct {
	rule    Rule
	catalog *Catalog
}

func NewEvaluator(rule Rule, catalog *Catalog) *Evaluator {
	if rule == nil {
		rule = PriorityRule{}
	}
	if catalog == nil {
		catalog = defaultCatalog
	}
	return &Evaluator{rule: rule, catalog: catalog}
}

func (e *Evaluator) Catalog() *Catalog { return e.catalog }

func (e *Evaluator) RuleName() string { return e.rule.Name() }

// Evaluate applies the rule, then the optional analysis adjustment, and
// attaches the matching recommendation bundle.
func (e *Evaluator) Evaluate(answers AnswerSet, analysis *AnalysisResult) Outcome {
	base := e.rule.Level(answers)
	level := Adjust(base, analysis)
	return Outcome{
		Level:          level,
		Category:       level.Category(),
		Recommendation: e.catalog.Recommend(level),
		AnswerLevel:    base,
		Adjusted:       level != base,
		Rule:           e.rule.Name(),
	}
}

// Adjust combines an answer-derived level with an analysis result. An
// explicit severity wins; otherwise an ulcer finding forces level 4 and a
// vein finding raises the level by the adjustment (default 1), capped at 4.
func Adjust(base Level, analysis *AnalysisResult) Level {
	base = base.Clamp()
	if analysis == nil {
		return base
	}
	if analysis.Severity != nil {
		return Level(*analysis.Severity).Clamp()
	}
	if f := analysis.Findings; f != nil {
		if f.Ulcers {
			return LevelUrgent
		}
		if f.Veins() {
			step := analysis.Adjustment
			if step <= 0 {
				step = 1
			}
			return (base + Level(step)).Clamp()
		}
	}
	return base
}
