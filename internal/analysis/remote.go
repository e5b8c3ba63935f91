package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Skufu/veincheck/internal/triage"
)

// ErrUnavailable wraps every failure of the remote service, including an
// open circuit breaker.
var ErrUnavailable = errors.New("analysis service unavailable")

type RemoteConfig struct {
	URL       string
	Timeout   time.Duration
	RateLimit float64 // requests per second; 0 disables limiting
	Burst     int
}

// Remote posts the photo with patient context to an external vision service.
type Remote struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

type remoteResponse struct {
	Severity        *float64 `json:"severity"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
	Confidence      *float64 `json:"confidence"`
	ReportURL       string   `json:"report_url"`
	AnalysisID      string   `json:"analysis_id"`
}

func NewRemote(cfg RemoteConfig, logger *logrus.Logger) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("analysis URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "image-analysis",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &Remote{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		breaker:    breaker,
		log:        logger,
	}, nil
}

func (r *Remote) Analyze(ctx context.Context, img Image, actx Context) (*triage.AnalysisResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %v", ErrUnavailable, err)
		}
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.post(ctx, img, actx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out.(*triage.AnalysisResult), nil
}

func (r *Remote) post(ctx context.Context, img Image, actx Context) (*triage.AnalysisResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := img.Filename
	if filename == "" {
		filename = "photo." + img.Format
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, err
	}

	patientJSON, err := json.Marshal(actx.Patient)
	if err != nil {
		return nil, err
	}
	symptomsJSON, err := json.Marshal(actx.Answers)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{
		"patientInfo": string(patientJSON),
		"symptoms":    string(symptomsJSON),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("analysis API error: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var payload remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return payload.toResult()
}

func (p remoteResponse) toResult() (*triage.AnalysisResult, error) {
	if p.Severity == nil {
		return nil, fmt.Errorf("invalid response format from analysis API: missing severity")
	}
	raw := *p.Severity
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, fmt.Errorf("invalid response format from analysis API: severity %v", raw)
	}
	// Clamp before converting: out-of-range floats do not survive int().
	raw = math.Max(float64(triage.LevelLow), math.Min(float64(triage.LevelUrgent), raw))
	severity := int(math.Round(raw))

	confidence := 0.5
	if p.Confidence != nil {
		confidence = math.Max(0, math.Min(1, *p.Confidence))
	}

	notes := append([]string{}, p.Findings...)
	if p.ReportURL != "" {
		notes = append(notes, "Report: "+p.ReportURL)
	}

	return &triage.AnalysisResult{
		Severity:        &severity,
		Findings:        findingsFromText(p.Findings),
		Confidence:      confidence,
		Notes:           notes,
		Recommendations: p.Recommendations,
		Source:          "remote",
		AnalyzedAt:      time.Now().UTC(),
	}, nil
}

// findingsFromText maps free-text findings onto the named conditions.
func findingsFromText(lines []string) *triage.Findings {
	f := &triage.Findings{}
	for _, line := range lines {
		l := strings.ToLower(line)
		if strings.Contains(l, "varicose") {
			f.VaricoseVeins = true
		}
		if strings.Contains(l, "spider") {
			f.SpiderVeins = true
		}
		if strings.Contains(l, "discolor") {
			f.SkinDiscoloration = true
		}
		if strings.Contains(l, "swell") {
			f.Swelling = true
		}
		if strings.Contains(l, "ulcer") {
			f.Ulcers = true
		}
	}
	return f
}
