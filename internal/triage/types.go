package triage

import (
	"fmt"
	"strings"
	"time"
)

type Answer string

const (
	Yes Answer = "Yes"
	No  Answer = "No"
)

// ParseAnswer accepts yes/no in any letter case.
func ParseAnswer(s string) (Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true":
		return Yes, nil
	case "no", "n", "false":
		return No, nil
	default:
		return "", fmt.Errorf("invalid answer %q", s)
	}
}

type QuestionID string

const (
	VisibleVeins      QuestionID = "visible_veins"
	Ulcers            QuestionID = "ulcers"
	PreviousTreatment QuestionID = "previous_treatment"
)

// AnswerSet maps question ids to answers. Absent ids read as No.
type AnswerSet map[QuestionID]Answer

func (a AnswerSet) Get(id QuestionID) Answer {
	if a[id] == Yes {
		return Yes
	}
	return No
}

func (a AnswerSet) IsYes(id QuestionID) bool {
	return a.Get(id) == Yes
}

// Clone returns an independent copy.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Level is the assessed severity, always in 1..4.
type Level int

const (
	LevelLow    Level = 1
	LevelMedium Level = 2
	LevelHigh   Level = 3
	LevelUrgent Level = 4
)

func (l Level) Valid() bool {
	return l >= LevelLow && l <= LevelUrgent
}

// Clamp forces l into 1..4.
func (l Level) Clamp() Level {
	switch {
	case l < LevelLow:
		return LevelLow
	case l > LevelUrgent:
		return LevelUrgent
	default:
		return l
	}
}

func (l Level) Category() Category {
	switch l.Clamp() {
	case LevelMedium:
		return Medium
	case LevelHigh:
		return High
	case LevelUrgent:
		return Urgent
	default:
		return Low
	}
}

type Category string

const (
	Low    Category = "Low"
	Medium Category = "Medium"
	High   Category = "High"
	Urgent Category = "Urgent"
)

func (c Category) Level() Level {
	switch c {
	case Medium:
		return LevelMedium
	case High:
		return LevelHigh
	case Urgent:
		return LevelUrgent
	default:
		return LevelLow
	}
}

// Findings are the named conditions an image analysis can report.
type Findings struct {
	VaricoseVeins     bool `json:"varicose_veins"`
	SpiderVeins       bool `json:"spider_veins"`
	SkinDiscoloration bool `json:"skin_discoloration"`
	Ulcers            bool `json:"ulcers"`
	Swelling          bool `json:"swelling"`
}

func (f Findings) Veins() bool {
	return f.VaricoseVeins || f.SpiderVeins
}

// Names lists the conditions that are present, in a fixed order.
func (f Findings) Names() []string {
	names := []string{}
	if f.VaricoseVeins {
		names = append(names, "varicose_veins")
	}
	if f.SpiderVeins {
		names = append(names, "spider_veins")
	}
	if f.SkinDiscoloration {
		names = append(names, "skin_discoloration")
	}
	if f.Ulcers {
		names = append(names, "ulcers")
	}
	if f.Swelling {
		names = append(names, "swelling")
	}
	return names
}

// AnalysisResult is what an image analyzer returns. Either Severity or
// Findings (or both) may be set.
type AnalysisResult struct {
	Severity        *int      `json:"severity,omitempty"`
	Findings        *Findings `json:"findings,omitempty"`
	Adjustment      int       `json:"severity_adjustment,omitempty"`
	Confidence      float64   `json:"confidence"`
	Notes           []string  `json:"notes,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Source          string    `json:"source"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Summary flattens the result into what is persisted with a record.
func (r *AnalysisResult) Summary() *AnalysisSummary {
	if r == nil {
		return nil
	}
	findings := append([]string{}, r.Notes...)
	if r.Findings != nil {
		findings = append(findings, r.Findings.Names()...)
	}
	return &AnalysisSummary{
		Source:     r.Source,
		Confidence: r.Confidence,
		Findings:   findings,
	}
}

type AnalysisSummary struct {
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
	Findings   []string `json:"findings"`
}

type Recommendation struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Treatments  []string `json:"treatments" yaml:"treatments"`
	NextSteps   []string `json:"next_steps" yaml:"next_steps"`
	Urgency     Category `json:"urgency" yaml:"-"`
}

func (r Recommendation) clone() Recommendation {
	r.Treatments = append([]string(nil), r.Treatments...)
	r.NextSteps = append([]string(nil), r.NextSteps...)
	return r
}
