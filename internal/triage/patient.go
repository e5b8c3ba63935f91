package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinAge = 1
	MaxAge = 120
)

type PatientRecord struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Location string `json:"location"`
	Phone    string `json:"phone,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in one submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Normalize trims the free-text fields.
func (p PatientRecord) Normalize() PatientRecord {
	p.Name = strings.TrimSpace(p.Name)
	p.Location = strings.TrimSpace(p.Location)
	p.Phone = strings.TrimSpace(p.Phone)
	return p
}

func (p PatientRecord) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.Name) == "" {
		verr.add("name", "Full Name is required")
	}
	if p.Age < MinAge || p.Age > MaxAge {
		verr.add("age", fmt.Sprintf("Please enter a valid age between %d and %d", MinAge, MaxAge))
	}
	if strings.TrimSpace(p.Location) == "" {
		verr.add("location", "City is required")
	}
	return verr.orNil()
}

// ParseAnswers converts raw form values into an AnswerSet, rejecting ids
// that are not part of the question set.
func ParseAnswers(raw map[string]string, questions []Question) (AnswerSet, error) {
	known := make(map[QuestionID]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}

	verr := &ValidationError{}
	answers := make(AnswerSet, len(raw))
	for k, v := range raw {
		id := QuestionID(k)
		if !known[id] {
			verr.add(k, "unknown question")
			continue
		}
		a, err := ParseAnswer(v)
		if err != nil {
			verr.add(k, "answer must be Yes or No")
			continue
		}
		answers[id] = a
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return answers, nil
}

// AssessmentRecord is one completed assessment. Once persisted it is never
// modified.
type AssessmentRecord struct {
	ID             uuid.UUID         `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Patient        PatientRecord     `json:"patient"`
	Answers        AnswerSet         `json:"answers"`
	Level          Level             `json:"severity_level"`
	Category       Category          `json:"category"`
	Recommendation Recommendation    `json:"recommendation"`
	Analysis       *AnalysisSummary  `json:"analysis,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func NewAssessmentRecord(p PatientRecord, answers AnswerSet, out Outcome, analysis *AnalysisResult, now time.Time) AssessmentRecord {
	return AssessmentRecord{
		ID:             uuid.New(),
		Timestamp:      now.UTC(),
		Patient:        p,
		Answers:        answers.Clone(),
		Level:          out.Level,
		Category:       out.Category,
		Recommendation: out.Recommendation.clone(),
		Analysis:       analysis.Summary(),
	}
}

// PhotoAnalyzed reports whether an image analysis contributed to the record.
func (r AssessmentRecord) PhotoAnalyzed() bool {
	return r.Analysis != nil
}
