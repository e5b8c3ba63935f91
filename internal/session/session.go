// Package session holds the per-user assessment flow as an explicit state
// machine: Intake -> Questioning -> PhotoOptional -> Results, with Admin
// reachable from any step.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/veincheck/internal/triage"
)

type State string

const (
	StateIntake        State = "intake"
	StateQuestioning   State = "questioning"
	StatePhotoOptional State = "photo_optional"
	StateResults       State = "results"
	StateAdmin         State = "admin"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSessionNotFound   = errors.New("session not found")
)

// TransitionError reports the state a rejected transition was attempted from.
type TransitionError struct {
	Action string
	From   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Session is one user's progress through the form.
type Session struct {
	ID      uuid.UUID                `json:"id"`
	State   State                    `json:"state"`
	Patient *triage.PatientRecord    `json:"patient,omitempty"`
	Answers triage.AnswerSet         `json:"answers,omitempty"`
	Outcome *triage.Outcome          `json:"outcome,omitempty"`
	Record  *triage.AssessmentRecord `json:"record,omitempty"`

	Analysis *triage.AnalysisResult `json:"analysis,omitempty"`
	// AnalysisError is set when a photo was submitted but could not be analyzed.
	AnalysisError string `json:"analysis_error,omitempty"`
	// Saved is false when the record could not be persisted.
	Saved bool `json:"saved"`

	returnTo State

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		State:     StateIntake,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) require(action string, states ...State) error {
	for _, st := range states {
		if s.State == st {
			return nil
		}
	}
	return &TransitionError{Action: action, From: s.State}
}

// SubmitPatient records intake details and moves on to the questions.
// Invalid details leave the session untouched.
func (s *Session) SubmitPatient(p triage.PatientRecord) error {
	if err := s.require("submit patient", StateIntake); err != nil {
		return err
	}
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	s.Patient = &p
	s.State = StateQuestioning
	return nil
}

func (s *Session) SubmitAnswers(answers triage.AnswerSet) error {
	if err := s.require("submit answers", StateQuestioning); err != nil {
		return err
	}
	s.Answers = answers.Clone()
	s.State = StatePhotoOptional
	return nil
}

// Complete stores the evaluated outcome and enters Results. analysis may be
// nil when the photo step was skipped or the analyzer failed.
func (s *Session) Complete(out triage.Outcome, analysis *triage.AnalysisResult, rec triage.AssessmentRecord) error {
	if err := s.require("complete", StatePhotoOptional); err != nil {
		return err
	}
	s.Outcome = &out
	s.Analysis = analysis
	s.Record = &rec
	s.State = StateResults
	return nil
}

// Back returns to the previous form step keeping what was entered.
// Results are final and cannot be stepped back from.
func (s *Session) Back() error {
	switch s.State {
	case StateQuestioning:
		s.State = StateIntake
	case StatePhotoOptional:
		s.State = StateQuestioning
	default:
		return &TransitionError{Action: "back", From: s.State}
	}
	return nil
}

// Restart discards everything and starts a new assessment.
func (s *Session) Restart() {
	s.Patient = nil
	s.Answers = nil
	s.Outcome = nil
	s.Record = nil
	s.Analysis = nil
	s.AnalysisError = ""
	s.Saved = false
	s.returnTo = ""
	s.State = StateIntake
}

func (s *Session) EnterAdmin() error {
	if s.State == StateAdmin {
		return &TransitionError{Action: "enter admin", From: s.State}
	}
	s.returnTo = s.State
	s.State = StateAdmin
	return nil
}

// ExitAdmin goes back to the step the admin view was opened from.
func (s *Session) ExitAdmin() error {
	if err := s.require("exit admin", StateAdmin); err != nil {
		return err
	}
	s.State = s.returnTo
	if s.State == "" {
		s.State = StateIntake
	}
	s.returnTo = ""
	return nil
}

// ReturnTo is the step an open admin view will go back to.
func (s *Session) ReturnTo() State { return s.returnTo }

func (s *Session) clone() *Session {
	c := *s
	if s.Answers != nil {
		c.Answers = s.Answers.Clone()
	}
	return &c
}
