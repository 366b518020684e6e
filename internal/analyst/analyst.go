// Package analyst produces a narrative macroeconomic analysis of cleaned
// Current Account observations using external language model APIs.
//
// Anthropic is the primary provider, with retries when the API reports it is
// overloaded. OpenAI is used as a fallback when configured.
package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/abcore/econ-insights/internal/pipeline/models"
)

const (
	anthropicModel   = "claude-sonnet-4-5-20250929"
	anthropicVersion = "2023-06-01"
	openAIModel      = "gpt-4o-mini"

	maxResponseTokens = 8000
	maxSummaryRows    = 5
)

var (
	// ErrNoAPIKey is returned when no provider credentials are configured.
	ErrNoAPIKey = errors.New("no API key configured for any analysis provider")

	// ErrNoObservations is returned when there is nothing to analyze.
	ErrNoObservations = errors.New("no observations to analyze")

	errOverloaded = errors.New("provider is overloaded")
)

// Config holds the provider credentials for the analyzer.
type Config struct {
	AnthropicKey string
	OpenAIKey    string
}

// Analyzer sends observation summaries to a language model for analysis.
type Analyzer struct {
	cfg Config

	client       *http.Client
	anthropicURL string
	openAIURL    string
	maxRetries   int
	retryWait    time.Duration
}

type options struct {
	client       *http.Client
	anthropicURL string
	openAIURL    string
	maxRetries   int
	retryWait    time.Duration
}

// Options represents an optional function to override Analyzer default values.
type Options func(*options)

// New creates an Analyzer from the given credentials.
// At least one provider key must be set.
func New(cfg Config, args ...Options) (*Analyzer, error) {
	opts := options{
		client:       &http.Client{Timeout: 2 * time.Minute},
		anthropicURL: "https://api.anthropic.com/v1/messages",
		openAIURL:    "https://api.openai.com/v1/chat/completions",
		maxRetries:   3,
		retryWait:    5 * time.Second,
	}
	for _, opt := range args {
		opt(&opts)
	}

	if cfg.AnthropicKey == "" && cfg.OpenAIKey == "" {
		return nil, ErrNoAPIKey
	}

	return &Analyzer{
		cfg:          cfg,
		client:       opts.client,
		anthropicURL: opts.anthropicURL,
		openAIURL:    opts.openAIURL,
		maxRetries:   opts.maxRetries,
		retryWait:    opts.retryWait,
	}, nil
}

// Analyze summarizes the observations and requests a full economic analysis.
//
// Anthropic is preferred when its key is configured; on failure the analysis
// falls back to OpenAI if possible.
func (a *Analyzer) Analyze(ctx context.Context, obs []models.Observation) (string, error) {
	if len(obs) == 0 {
		return "", ErrNoObservations
	}

	prompt := buildPrompt(Summarize(obs, maxSummaryRows))

	if a.cfg.AnthropicKey != "" {
		slog.Info("Requesting analysis", "provider", "anthropic", "model", anthropicModel)
		analysis, err := a.analyzeWithClaude(ctx, prompt)
		if err == nil {
			return analysis, nil
		}
		if a.cfg.OpenAIKey == "" {
			return "", err
		}
		slog.Warn("Primary analysis provider failed, falling back", "err", err)
	}

	slog.Info("Requesting analysis", "provider", "openai", "model", openAIModel)
	return a.analyzeWithGPT(ctx, prompt)
}

// Summarize renders the first maxRows observations as an aligned text table.
func Summarize(obs []models.Observation, maxRows int) string {
	if len(obs) > maxRows {
		obs = obs[:maxRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are the first %d rows of the Current Account data:\n", len(obs))

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "description\tdate\tfiscal_year\tvalue")
	for _, o := range obs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%g\n", o.Description, o.Date.Format("2006-01-02"), o.FiscalYear, o.Value)
	}
	w.Flush()

	return strings.TrimRight(b.String(), "\n")
}

func buildPrompt(dataSummary string) string {
	return fmt.Sprintf(`You are an AI Economic Analyst.

IMPORTANT:
Your answer MUST be fully complete.
If the output is long, break it into:
PART 1
PART 2
PART 3
...
Continue until EVERYTHING is fully written.

Do NOT stop early.
Do NOT shorten.
Do NOT say "in summary".
Keep writing until the full analysis is complete.

Provide:
1. Executive Summary
2. Trend Analysis
3. Multi-Year Transition Phases
4. Key Drivers Behind the Trend
5. Risk Classification (High/Med/Low)
6. Structural Causes
7. Policy Recommendations
8. Investor Implications
9. Sector Impact
10. Forward-looking Forecast (12-24 months)
11. Final Strategic Advisory

Dataset:
%s
`, dataSummary)
}

func (a *Analyzer) analyzeWithClaude(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		analysis, err := a.anthropicRequest(ctx, prompt)
		if err == nil {
			return analysis, nil
		}
		lastErr = err

		if !errors.Is(err, errOverloaded) || attempt == a.maxRetries {
			return "", err
		}

		slog.Warn("Analysis attempt failed, retrying", "attempt", attempt, "wait", a.retryWait, "err", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.retryWait):
		}
	}
	return "", lastErr
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Analyzer) anthropicRequest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     anthropicModel,
		MaxTokens: maxResponseTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.anthropicURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.cfg.AnthropicKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= http.StatusInternalServerError ||
			strings.Contains(strings.ToLower(string(payload)), "overloaded") {
			return "", fmt.Errorf("%w: status %d: %s", errOverloaded, resp.StatusCode, payload)
		}
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", errors.New("response contains no content")
	}
	return parsed.Content[0].Text, nil
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (a *Analyzer) analyzeWithGPT(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(openAIRequest{
		Model: openAIModel,
		Messages: []openAIMessage{
			{Role: "system", Content: "You are an expert macroeconomic analyst."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.openAIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.OpenAIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("response contains no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
