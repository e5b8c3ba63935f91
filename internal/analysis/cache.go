package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Skufu/veincheck/internal/triage"
)

// Cached remembers successful results per (photo, patient, answers) so a
// resubmitted photo does not hit the analyzer again.
type Cached struct {
	next  Analyzer
	cache *lru.Cache[string, triage.AnalysisResult]
}

func NewCached(next Analyzer, size int) (*Cached, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, triage.AnalysisResult](size)
	if err != nil {
		return nil, fmt.Errorf("create analysis cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Analyze(ctx context.Context, img Image, actx Context) (*triage.AnalysisResult, error) {
	key := cacheKey(img, actx)
	if hit, ok := c.cache.Get(key); ok {
		return copyResult(hit), nil
	}

	res, err := c.next.Analyze(ctx, img, actx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *copyResult(*res))
	return res, nil
}

func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(img Image, actx Context) string {
	h := sha256.New()
	h.Write(img.Data)

	p := actx.Patient.Normalize()
	fmt.Fprintf(h, "|%q|%d|%q|%q", p.Name, p.Age, p.Location, p.Phone)

	answers := actx.Answers
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(h, "|%s=%s", id, answers.Get(triage.QuestionID(id)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func copyResult(r triage.AnalysisResult) *triage.AnalysisResult {
	if r.Severity != nil {
		s := *r.Severity
		r.Severity = &s
	}
	if r.Findings != nil {
		f := *r.Findings
		r.Findings = &f
	}
	r.Notes = append([]string(nil), r.Notes...)
	r.Recommendations = append([]string(nil), r.Recommendations...)
	return &r
}
