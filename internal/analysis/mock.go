package analysis

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Skufu/veincheck/internal/triage"
)

const (
	mockMinConfidence = 0.75
	mockMaxConfidence = 0.95
)

var mockRecommendations = []string{
	"Consult with a vein specialist",
	"Consider compression therapy",
	"Monitor symptoms regularly",
}

// Mock stands in for a real vision service. Its result is derived from the
// same answers it is meant to verify; only the confidence is random.
type Mock struct {
	delay time.Duration
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock returns a stub that blocks for delay before answering. A zero seed
// picks a time-based one.
func NewMock(delay time.Duration, seed uint64) *Mock {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Mock{
		delay: delay,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (m *Mock) Analyze(ctx context.Context, _ Image, actx Context) (*triage.AnalysisResult, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	answers := actx.Answers
	severity := 1
	findings := &triage.Findings{}
	notes := []string{}

	switch {
	case answers.IsYes(triage.Ulcers):
		severity = 4
		findings.Ulcers = true
		notes = append(notes, "Potential ulcers or wounds detected")
	case answers.IsYes(triage.VisibleVeins):
		severity = 2
		if answers.IsYes(triage.PreviousTreatment) {
			severity = 3
		}
		findings.VaricoseVeins = true
		notes = append(notes, "Visible vein patterns detected")
	}

	return &triage.AnalysisResult{
		Severity:        &severity,
		Findings:        findings,
		Confidence:      m.confidence(),
		Notes:           notes,
		Recommendations: append([]string(nil), mockRecommendations...),
		Source:          "mock",
		AnalyzedAt:      m.now().UTC(),
	}, nil
}

func (m *Mock) confidence() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mockMinConfidence + m.rng.Float64()*(mockMaxConfidence-mockMinConfidence)
}
