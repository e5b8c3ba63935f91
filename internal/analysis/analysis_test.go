package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/veincheck/internal/triage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDecodeImage(t *testing.T) {
	data := pngBytes(t, 4, 3)

	img, err := DecodeImage(data, "legs.png", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)

	_, err = DecodeImage(nil, "x.png", 0)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = DecodeImage([]byte("not an image at all"), "x.txt", 0)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = DecodeImage(data, "legs.png", 10)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestMockDerivesSeverityFromAnswers(t *testing.T) {
	m := NewMock(0, 42)
	ctx := context.Background()

	tests := []struct {
		answers  triage.AnswerSet
		severity int
	}{
		{triage.AnswerSet{}, 1},
		{triage.AnswerSet{triage.VisibleVeins: triage.Yes}, 2},
		{triage.AnswerSet{triage.VisibleVeins: triage.Yes, triage.PreviousTreatment: triage.Yes}, 3},
		{triage.AnswerSet{triage.Ulcers: triage.Yes}, 4},
	}
	for _, tt := range tests {
		res, err := m.Analyze(ctx, Image{}, Context{Answers: tt.answers})
		require.NoError(t, err)
		require.NotNil(t, res.Severity)
		assert.Equal(t, tt.severity, *res.Severity)
		assert.GreaterOrEqual(t, res.Confidence, 0.75)
		assert.Less(t, res.Confidence, 0.95)
		assert.Equal(t, "mock", res.Source)
		assert.Len(t, res.Recommendations, 3)
	}
}

func TestMockIsDeterministicForSeed(t *testing.T) {
	a, _ := NewMock(0, 7).Analyze(context.Background(), Image{}, Context{})
	b, _ := NewMock(0, 7).Analyze(context.Background(), Image{}, Context{})
	assert.Equal(t, a.Confidence, b.Confidence)
}

func TestMockHonoursCancellation(t *testing.T) {
	m := NewMock(time.Minute, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Analyze(ctx, Image{}, Context{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteAnalyze(t *testing.T) {
	var gotPatient string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPatient = r.FormValue("patientInfo")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"severity":        3,
			"findings":        []string{"Varicose veins detected", "Swelling detected"},
			"recommendations": []string{"See a specialist"},
			"confidence":      1.4,
		})
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{URL: srv.URL, Timeout: time.Second}, quietLogger())
	require.NoError(t, err)

	res, err := r.Analyze(context.Background(),
		Image{Data: pngBytes(t, 2, 2), Format: "png"},
		Context{Patient: triage.PatientRecord{Name: "Asha", Age: 40, Location: "Pune"}})
	require.NoError(t, err)

	assert.Contains(t, gotPatient, `"name":"Asha"`)
	assert.Equal(t, 3, *res.Severity)
	assert.Equal(t, 1.0, res.Confidence)
	assert.True(t, res.Findings.VaricoseVeins)
	assert.True(t, res.Findings.Swelling)
	assert.False(t, res.Findings.Ulcers)
	assert.Equal(t, "remote", res.Source)
}

func TestRemoteClampsOutOfRangeSeverity(t *testing.T) {
	cases := map[string]int{
		`{"severity": 1e19}`:  4,
		`{"severity": 7.6}`:   4,
		`{"severity": -1e19}`: 1,
		`{"severity": 0}`:     1,
		`{"severity": 2.4}`:   2,
	}
	for body, want := range cases {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			r, err := NewRemote(RemoteConfig{URL: srv.URL}, quietLogger())
			require.NoError(t, err)

			res, err := r.Analyze(context.Background(), Image{Data: []byte{1}}, Context{})
			require.NoError(t, err)
			assert.Equal(t, want, *res.Severity)
			assert.Equal(t, triage.Level(want), triage.Adjust(triage.LevelLow, res))
		})
	}
}

func TestRemoteRejectsMissingSeverity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"findings":[]}`))
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{URL: srv.URL}, quietLogger())
	require.NoError(t, err)

	_, err = r.Analyze(context.Background(), Image{Data: []byte{1}}, Context{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "missing severity")
}

func TestRemoteBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{URL: srv.URL}, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := r.Analyze(context.Background(), Image{Data: []byte{1}}, Context{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnavailable))
	}
	assert.Equal(t, int32(3), calls.Load(), "breaker should stop calling after it trips")
}

func TestNewRemoteRequiresURL(t *testing.T) {
	_, err := NewRemote(RemoteConfig{}, nil)
	assert.Error(t, err)
}

type countingAnalyzer struct {
	calls int
	err   error
}

func (c *countingAnalyzer) Analyze(ctx context.Context, img Image, actx Context) (*triage.AnalysisResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	sev := 2
	return &triage.AnalysisResult{Severity: &sev, Notes: []string{"n"}, Source: "count"}, nil
}

func TestCachedAnalyzer(t *testing.T) {
	inner := &countingAnalyzer{}
	c, err := NewCached(inner, 4)
	require.NoError(t, err)

	img := Image{Data: []byte("photo")}
	actx := Context{Answers: triage.AnswerSet{triage.VisibleVeins: triage.Yes}}

	first, err := c.Analyze(context.Background(), img, actx)
	require.NoError(t, err)
	*first.Severity = 4
	first.Notes[0] = "mutated"

	second, err := c.Analyze(context.Background(), img, actx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 2, *second.Severity, "cached copy must not be affected by caller mutation")
	assert.Equal(t, "n", second.Notes[0])

	_, err = c.Analyze(context.Background(), img, Context{Answers: triage.AnswerSet{triage.Ulcers: triage.Yes}})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "different answers are a different key")
	assert.Equal(t, 2, c.Len())

	other := actx
	other.Patient = triage.PatientRecord{Name: "Ravi", Age: 52, Location: "Goa"}
	_, err = c.Analyze(context.Background(), img, other)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls, "a different patient is a different key")

	same := other
	same.Patient = triage.PatientRecord{Name: "  Ravi ", Age: 52, Location: "Goa "}
	_, err = c.Analyze(context.Background(), img, same)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls, "patient is compared after normalization")
}

func TestCachedAnalyzerDoesNotCacheErrors(t *testing.T) {
	inner := &countingAnalyzer{err: errors.New("down")}
	c, err := NewCached(inner, 4)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Analyze(context.Background(), Image{Data: []byte("x")}, Context{})
		require.Error(t, err)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, c.Len())
}
