// Package screening drives an assessment from intake to a persisted record.
package screening

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/analysis"
	"github.com/Skufu/veincheck/internal/session"
	"github.com/Skufu/veincheck/internal/storage"
	"github.com/Skufu/veincheck/internal/triage"
)

const persistTimeout = 10 * time.Second

type Config struct {
	MaxUploadBytes  int64
	AnalysisTimeout time.Duration
}

type Service struct {
	sessions  *session.Manager
	evaluator *triage.Evaluator
	analyzer  analysis.Analyzer
	store     storage.Store
	log       *logrus.Logger
	cfg       Config
	now       func() time.Time
}

func New(sessions *session.Manager, evaluator *triage.Evaluator, analyzer analysis.Analyzer, store storage.Store, logger *logrus.Logger, cfg Config) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if evaluator == nil {
		evaluator = triage.NewEvaluator(nil, nil)
	}
	return &Service{
		sessions:  sessions,
		evaluator: evaluator,
		analyzer:  analyzer,
		store:     store,
		log:       logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) Questions() []triage.Question {
	return s.evaluator.Catalog().Questions()
}

func (s *Service) StartSession() session.Session {
	return s.sessions.Create()
}

func (s *Service) Session(id uuid.UUID) (session.Session, error) {
	return s.sessions.Get(id)
}

func (s *Service) SubmitPatient(id uuid.UUID, p triage.PatientRecord) (session.Session, error) {
	return s.sessions.Update(id, func(sess *session.Session) error {
		return sess.SubmitPatient(p)
	})
}

func (s *Service) SubmitAnswers(id uuid.UUID, raw map[string]string) (session.Session, error) {
	answers, err := triage.ParseAnswers(raw, s.Questions())
	if err != nil {
		return session.Session{}, err
	}
	return s.sessions.Update(id, func(sess *session.Session) error {
		return sess.SubmitAnswers(answers)
	})
}

// SubmitPhoto analyzes an uploaded photo and completes the assessment. An
// unreadable upload is rejected without a state change; an analyzer failure
// completes the assessment on the answers alone.
func (s *Service) SubmitPhoto(ctx context.Context, id uuid.UUID, data []byte, filename string) (session.Session, error) {
	snap, err := s.sessions.Get(id)
	if err != nil {
		return session.Session{}, err
	}
	if snap.State != session.StatePhotoOptional {
		return snap, &session.TransitionError{Action: "submit photo", From: snap.State}
	}

	img, err := analysis.DecodeImage(data, filename, s.cfg.MaxUploadBytes)
	if err != nil {
		return snap, err
	}

	result, analysisErr := s.analyze(ctx, img, snap)
	return s.complete(ctx, id, result, analysisErr)
}

func (s *Service) analyze(ctx context.Context, img analysis.Image, snap session.Session) (*triage.AnalysisResult, error) {
	if s.analyzer == nil {
		return nil, fmt.Errorf("no analyzer configured")
	}
	if s.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
		defer cancel()
	}

	actx := analysis.Context{Answers: snap.Answers}
	if snap.Patient != nil {
		actx.Patient = *snap.Patient
	}
	start := s.now()
	res, err := s.analyzer.Analyze(ctx, img, actx)
	fields := logrus.Fields{
		"session_id": snap.ID,
		"format":     img.Format,
		"duration":   s.now().Sub(start).String(),
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Warn("photo analysis failed, using answers only")
		return nil, err
	}
	s.log.WithFields(fields).WithField("confidence", res.Confidence).Info("photo analyzed")
	return res, nil
}

func (s *Service) SkipPhoto(ctx context.Context, id uuid.UUID) (session.Session, error) {
	return s.complete(ctx, id, nil, nil)
}

func (s *Service) complete(ctx context.Context, id uuid.UUID, result *triage.AnalysisResult, analysisErr error) (session.Session, error) {
	var rec triage.AssessmentRecord
	sess, err := s.sessions.Update(id, func(sess *session.Session) error {
		if sess.Patient == nil {
			return &session.TransitionError{Action: "complete", From: sess.State}
		}
		out := s.evaluator.Evaluate(sess.Answers, result)
		rec = triage.NewAssessmentRecord(*sess.Patient, sess.Answers, out, result, s.now())
		if err := sess.Complete(out, result, rec); err != nil {
			return err
		}
		if analysisErr != nil {
			sess.AnalysisError = "Photo analysis is unavailable; results are based on your answers."
		}
		return nil
	})
	if err != nil {
		return sess, err
	}

	if err := s.persist(ctx, rec); err != nil {
		return sess, nil
	}
	return s.sessions.Update(id, func(sess *session.Session) error {
		if sess.Record != nil && sess.Record.ID == rec.ID {
			sess.Saved = true
		}
		return nil
	})
}

// persist outlives the request so a disconnecting client does not lose the
// record.
func (s *Service) persist(ctx context.Context, rec triage.AssessmentRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	fields := logrus.Fields{
		"assessment_id":  rec.ID,
		"severity_level": rec.Level,
		"category":       rec.Category,
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.log.WithFields(fields).WithError(err).Error("failed to save assessment")
		return err
	}
	s.log.WithFields(fields).Info("assessment saved")
	return nil
}

func (s *Service) Back(id uuid.UUID) (session.Session, error) {
	return s.sessions.Update(id, (*session.Session).Back)
}

func (s *Service) Restart(id uuid.UUID) (session.Session, error) {
	return s.sessions.Update(id, func(sess *session.Session) error {
		sess.Restart()
		return nil
	})
}

func (s *Service) EnterAdmin(id uuid.UUID) (session.Session, error) {
	return s.sessions.Update(id, (*session.Session).EnterAdmin)
}

func (s *Service) ExitAdmin(id uuid.UUID) (session.Session, error) {
	return s.sessions.Update(id, (*session.Session).ExitAdmin)
}

// Results returns a session that has reached the results step.
func (s *Service) Results(id uuid.UUID) (session.Session, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return sess, err
	}
	if sess.State != session.StateResults {
		return sess, &session.TransitionError{Action: "view results", From: sess.State}
	}
	return sess, nil
}

type AssessRequest struct {
	Patient triage.PatientRecord `json:"patient"`
	Answers map[string]string    `json:"answers"`
	Persist bool                 `json:"persist"`
}

type AssessResponse struct {
	Record  triage.AssessmentRecord `json:"record"`
	Outcome triage.Outcome          `json:"outcome"`
	Saved   bool                    `json:"saved"`
}

// Assess evaluates one submission without a session. The record is only
// stored when the request asks for it.
func (s *Service) Assess(ctx context.Context, req AssessRequest) (AssessResponse, error) {
	p := req.Patient.Normalize()
	if err := p.Validate(); err != nil {
		return AssessResponse{}, err
	}
	answers, err := triage.ParseAnswers(req.Answers, s.Questions())
	if err != nil {
		return AssessResponse{}, err
	}

	out := s.evaluator.Evaluate(answers, nil)
	rec := triage.NewAssessmentRecord(p, answers, out, nil, s.now())
	resp := AssessResponse{Record: rec, Outcome: out}
	if req.Persist {
		if err := s.persist(ctx, rec); err != nil {
			return resp, fmt.Errorf("save assessment: %w", err)
		}
		resp.Saved = true
	}
	return resp, nil
}

type Stats struct {
	Total        int     `json:"total"`
	UrgentOrHigh int     `json:"urgent_or_high"`
	AverageAge   float64 `json:"average_age"`
	WithPhoto    int     `json:"with_photo"`
}

func ComputeStats(records []triage.AssessmentRecord) Stats {
	st := Stats{Total: len(records)}
	ages, aged := 0, 0
	for _, r := range records {
		if r.Level >= triage.LevelHigh {
			st.UrgentOrHigh++
		}
		if r.PhotoAnalyzed() {
			st.WithPhoto++
		}
		if r.Patient.Age > 0 {
			ages += r.Patient.Age
			aged++
		}
	}
	if aged > 0 {
		st.AverageAge = float64(ages) / float64(aged)
	}
	return st
}

func (s *Service) Assessments(ctx context.Context) ([]triage.AssessmentRecord, Stats, error) {
	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("load assessments: %w", err)
	}
	return records, ComputeStats(records), nil
}

func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load assessments: %w", err)
	}
	return storage.WriteCSV(w, records)
}

// ExportFilename names a download after the day it was taken.
func (s *Service) ExportFilename() string {
	return fmt.Sprintf("assessments_%s.csv", s.now().Format("20060102"))
}

func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
