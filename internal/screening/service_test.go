package screening

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/veincheck/internal/analysis"
	"github.com/Skufu/veincheck/internal/session"
	"github.com/Skufu/veincheck/internal/storage"
	"github.com/Skufu/veincheck/internal/triage"
)

type memStore struct {
	mu      sync.Mutex
	records []triage.AssessmentRecord
	err     error
}

func (m *memStore) Append(_ context.Context, rec triage.AssessmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) LoadAll(context.Context) ([]triage.AssessmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]triage.AssessmentRecord{}, m.records...), nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

type stubAnalyzer struct {
	result *triage.AnalysisResult
	err    error
	calls  int
}

func (a *stubAnalyzer) Analyze(context.Context, analysis.Image, analysis.Context) (*triage.AnalysisResult, error) {
	a.calls++
	return a.result, a.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newService(store storage.Store, a analysis.Analyzer) *Service {
	svc := New(session.NewManager(16, time.Minute), nil, a, store, quietLogger(), Config{MaxUploadBytes: 1 << 20})
	svc.now = func() time.Time { return time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC) }
	return svc
}

func pngPhoto(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

var asha = triage.PatientRecord{Name: "Asha", Age: 40, Location: "Pune"}

func toPhotoStep(t *testing.T, svc *Service, raw map[string]string) uuid.UUID {
	t.Helper()
	sess := svc.StartSession()
	_, err := svc.SubmitPatient(sess.ID, asha)
	require.NoError(t, err)
	got, err := svc.SubmitAnswers(sess.ID, raw)
	require.NoError(t, err)
	require.Equal(t, session.StatePhotoOptional, got.State)
	return sess.ID
}

func TestSkipPhotoPersistsOnce(t *testing.T) {
	store := &memStore{}
	svc := newService(store, nil)
	id := toPhotoStep(t, svc, map[string]string{"visible_veins": "Yes", "previous_treatment": "Yes"})

	sess, err := svc.SkipPhoto(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StateResults, sess.State)
	assert.True(t, sess.Saved)
	assert.Equal(t, triage.LevelHigh, sess.Outcome.Level)
	assert.Equal(t, triage.High, sess.Outcome.Category)

	_, err = svc.SkipPhoto(context.Background(), id)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Len(t, store.records, 1)
	assert.Equal(t, sess.Record.ID, store.records[0].ID)
}

func TestSubmitPhotoAppliesAnalysis(t *testing.T) {
	store := &memStore{}
	a := &stubAnalyzer{result: &triage.AnalysisResult{
		Findings:   &triage.Findings{Ulcers: true},
		Confidence: 0.9,
		Source:     "stub",
	}}
	svc := newService(store, a)
	id := toPhotoStep(t, svc, map[string]string{"visible_veins": "No"})

	sess, err := svc.SubmitPhoto(context.Background(), id, pngPhoto(t), "leg.png")
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, triage.LevelUrgent, sess.Outcome.Level)
	assert.True(t, sess.Outcome.Adjusted)
	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].PhotoAnalyzed())
}

func TestSubmitPhotoDegradesOnAnalyzerFailure(t *testing.T) {
	store := &memStore{}
	a := &stubAnalyzer{err: analysis.ErrUnavailable}
	svc := newService(store, a)
	id := toPhotoStep(t, svc, map[string]string{"visible_veins": "Yes"})

	sess, err := svc.SubmitPhoto(context.Background(), id, pngPhoto(t), "leg.png")
	require.NoError(t, err)
	assert.Equal(t, triage.LevelMedium, sess.Outcome.Level)
	assert.NotEmpty(t, sess.AnalysisError)
	assert.Nil(t, sess.Analysis)
	assert.False(t, store.records[0].PhotoAnalyzed())
}

func TestSubmitPhotoRejectsBadUpload(t *testing.T) {
	a := &stubAnalyzer{}
	svc := newService(&memStore{}, a)
	id := toPhotoStep(t, svc, map[string]string{})

	sess, err := svc.SubmitPhoto(context.Background(), id, []byte("%PDF-1.4"), "scan.pdf")
	assert.ErrorIs(t, err, analysis.ErrInvalidImage)
	assert.Equal(t, session.StatePhotoOptional, sess.State)
	assert.Zero(t, a.calls)
}

func TestSubmitPhotoOutOfOrder(t *testing.T) {
	svc := newService(&memStore{}, &stubAnalyzer{})
	sess := svc.StartSession()
	_, err := svc.SubmitPhoto(context.Background(), sess.ID, pngPhoto(t), "leg.png")
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestStoreFailureStillShowsResults(t *testing.T) {
	svc := newService(&memStore{err: errors.New("disk full")}, nil)
	id := toPhotoStep(t, svc, map[string]string{"ulcers": "Yes"})

	sess, err := svc.SkipPhoto(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StateResults, sess.State)
	assert.False(t, sess.Saved)
	assert.Equal(t, triage.Urgent, sess.Outcome.Category)
}

func TestSubmitAnswersRejectsUnknownQuestion(t *testing.T) {
	svc := newService(&memStore{}, nil)
	sess := svc.StartSession()
	_, err := svc.SubmitPatient(sess.ID, asha)
	require.NoError(t, err)

	_, err = svc.SubmitAnswers(sess.ID, map[string]string{"pain": "Yes"})
	var verr *triage.ValidationError
	assert.ErrorAs(t, err, &verr)

	got, err := svc.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateQuestioning, got.State)
}

func TestResultsRequiresResultsState(t *testing.T) {
	svc := newService(&memStore{}, nil)
	sess := svc.StartSession()
	_, err := svc.Results(sess.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = svc.Results(uuid.New())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestAssessStateless(t *testing.T) {
	store := &memStore{}
	svc := newService(store, nil)

	resp, err := svc.Assess(context.Background(), AssessRequest{
		Patient: asha,
		Answers: map[string]string{"visible_veins": "yes", "ulcers": "no", "previous_treatment": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, triage.LevelHigh, resp.Outcome.Level)
	assert.False(t, resp.Saved)
	assert.Empty(t, store.records)

	resp, err = svc.Assess(context.Background(), AssessRequest{Patient: asha, Persist: true})
	require.NoError(t, err)
	assert.True(t, resp.Saved)
	assert.Len(t, store.records, 1)

	_, err = svc.Assess(context.Background(), AssessRequest{Patient: triage.PatientRecord{Age: 200}})
	var verr *triage.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]triage.AssessmentRecord{
		{Level: triage.LevelUrgent, Patient: triage.PatientRecord{Age: 60}, Analysis: &triage.AnalysisSummary{}},
		{Level: triage.LevelHigh, Patient: triage.PatientRecord{Age: 40}},
		{Level: triage.LevelLow, Patient: triage.PatientRecord{Age: 0}},
	})
	assert.Equal(t, Stats{Total: 3, UrgentOrHigh: 2, AverageAge: 50, WithPhoto: 1}, st)
	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestExportWithCSVStore(t *testing.T) {
	store, err := storage.NewCSVStore(filepath.Join(t.TempDir(), "assessments.csv"), quietLogger())
	require.NoError(t, err)
	defer store.Close()
	svc := newService(store, nil)

	id := toPhotoStep(t, svc, map[string]string{"visible_veins": "Yes"})
	_, err = svc.SkipPhoto(context.Background(), id)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "Asha")
	assert.Equal(t, "assessments_20240517.csv", svc.ExportFilename())

	records, stats, err := svc.Assessments(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, stats.Total)
}

func TestAdminRoundTripThroughService(t *testing.T) {
	svc := newService(&memStore{}, nil)
	sess := svc.StartSession()

	got, err := svc.EnterAdmin(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateAdmin, got.State)

	got, err = svc.ExitAdmin(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateIntake, got.State)

	_, err = svc.Back(sess.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	got, err = svc.Restart(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateIntake, got.State)
}
