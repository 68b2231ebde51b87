package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fraudgate/internal/fraud"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const promptTemplate = `You are a banking fraud detection assistant.
You will receive structured transaction and user behavior signals. Output a strict JSON object with:
{"safe": boolean, "riskScore": number (0..1), "flags": string[], "reasons": string[]}

Guidelines:
- riskScore >= 0.7 means high risk (flag transfer), < 0.7 means allow.
- Consider capacity (amount vs monthlyIncome), unusual spikes (amount vs averageAmount), velocity, beneficiary freshness, prior flags.
- If signals indicate agricultural user context, prefer legitimate agricultural expenses; unknown domains or new beneficiaries with large amounts increase risk.
- Keep reasons short.

Signals:
%s`

// Options parameterise the Gemini adjudicator.
type Options struct {
	APIKey          string
	BaseURL         string
	Models          []string
	Timeout         time.Duration
	Temperature     float64
	MaxOutputTokens int
}

// Client adjudicates fraud signals against the Gemini generateContent API.
// Candidate models are tried in order; a transport or per-model error moves
// to the next candidate, a server-class (5xx) response aborts the chain.
type Client struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// New constructs an adjudicator client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 300
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "advisor").Logger(),
	}
}

// Assess obtains an AI risk assessment for the signals. It returns
// fraud.ErrAdjudicatorUnavailable when no configured model produced a
// parseable verdict; that is never conflated with a safe result.
func (c *Client) Assess(ctx context.Context, signals fraud.Signals) (*fraud.Assessment, error) {
	if c.opts.APIKey == "" || len(c.opts.Models) == 0 {
		return nil, fraud.ErrAdjudicatorUnavailable
	}

	payload, err := json.Marshal(signals)
	if err != nil {
		return nil, fmt.Errorf("marshal signals: %w", err)
	}
	prompt := fmt.Sprintf(promptTemplate, payload)

	for _, model := range c.opts.Models {
		assessment, attemptErr := c.tryModel(ctx, model, prompt)
		if attemptErr == nil && assessment != nil {
			assessment.Model = model
			return assessment, nil
		}

		var serverErr *serverError
		if errors.As(attemptErr, &serverErr) {
			// Systemic outage, not a per-model problem; no point in the
			// remaining candidates.
			c.logger.Warn().Int("status", serverErr.status).Str("model", model).Msg("server-class error; aborting fallback chain")
			break
		}
		if attemptErr != nil {
			c.logger.Debug().Err(attemptErr).Str("model", model).Msg("model attempt failed; trying next candidate")
		}
	}

	return nil, fraud.ErrAdjudicatorUnavailable
}

type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("advisor: server error (%d)", e.status)
}

func (c *Client) tryModel(ctx context.Context, model, prompt string) (*fraud.Assessment, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reqPayload := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: prompt}},
		}},
		GenerationConfig: generationConfig{
			Temperature:     c.opts.Temperature,
			MaxOutputTokens: c.opts.MaxOutputTokens,
		},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &serverError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisor: model %s responded %d", model, resp.StatusCode)
	}

	var genRes generateResponse
	if err := json.Unmarshal(payloadBytes, &genRes); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(genRes.text())
	if text == "" {
		return nil, errors.New("advisor: empty model response")
	}

	raw := extractJSONObject(text)
	if raw == "" {
		return nil, errors.New("advisor: no JSON object in model response")
	}

	var parsed struct {
		Safe      bool     `json:"safe"`
		RiskScore float64  `json:"riskScore"`
		Flags     []string `json:"flags"`
		Reasons   []string `json:"reasons"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("advisor: parse verdict: %w", err)
	}

	score := parsed.RiskScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return &fraud.Assessment{
		Safe:      parsed.Safe,
		RiskScore: score,
		Flags:     parsed.Flags,
		Reasons:   parsed.Reasons,
		Raw:       raw,
	}, nil
}

// extractJSONObject returns the first balanced {...} substring of text, or
// "" when none closes. Models routinely prepend prose or markdown fences.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

var _ fraud.Adjudicator = (*Client)(nil)
