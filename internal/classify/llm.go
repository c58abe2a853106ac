package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/memgov/internal/model"
	"github.com/rcliao/memgov/internal/textutil"
)

const (
	// DefaultModel is the local model used for relationship classification.
	DefaultModel = "qwen3:4b"

	// parseFailConfidence is assigned when a response cannot be parsed into
	// the expected structure. The degrade is recoverable, never fatal.
	parseFailConfidence = 0.3

	retryDelay = 1 * time.Second
)

// LLMClassifier issues structured classification requests to a local Ollama
// service. A timeout is retried exactly once; persistent failure and
// connection errors surface as ErrUnavailable.
type LLMClassifier struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	log     *logrus.Logger
}

// NewLLMClassifier creates a classifier against OLLAMA_HOST (default
// http://localhost:11434).
func NewLLMClassifier(mdl string, timeout time.Duration, log *logrus.Logger) *LLMClassifier {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if mdl == "" {
		mdl = DefaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &LLMClassifier{
		baseURL: baseURL,
		model:   mdl,
		timeout: timeout,
		client:  &http.Client{},
		log:     log,
	}
}

// BaseURL returns the service endpoint, mainly for logging.
func (c *LLMClassifier) BaseURL() string { return c.baseURL }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

type labelPayload struct {
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// Classify labels one pair via the chat endpoint.
func (c *LLMClassifier) Classify(ctx context.Context, p Pair) (Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(p)},
		},
		Stream:  false,
		Options: map[string]any{"temperature": 0.3},
	})
	if err != nil {
		return Result{}, err
	}

	text, err := c.call(ctx, body)
	if err != nil {
		return Result{}, err
	}
	return c.parseResponse(p, text), nil
}

// call posts the request, retrying exactly once after a timeout.
func (c *LLMClassifier) call(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, err := c.post(ctx, body)
		if err == nil {
			return text, nil
		}
		if !isTimeout(err) {
			// Connection refused, model missing and similar conditions are
			// not retried: the whole service is treated as unavailable.
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		lastErr = err
		c.log.WithError(err).Warn("classifier request timed out, retrying once")
	}
	return "", fmt.Errorf("%w: timeout after retry: %v", ErrUnavailable, lastErr)
}

func (c *LLMClassifier) post(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("model %q not found", c.model)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("classifier error %d: %s", resp.StatusCode, string(b))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Message.Content), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// parseResponse extracts the JSON label from model output. An unparseable
// response degrades to UNRELATED at low confidence rather than failing.
func (c *LLMClassifier) parseResponse(p Pair, text string) Result {
	payload, ok := extractJSON(text)
	if !ok {
		c.log.WithFields(logrus.Fields{
			"newer": p.Newer.ID,
			"older": p.Older.ID,
		}).Warn("unparseable classifier response, degrading to UNRELATED")
		return Result{
			Relationship: Unrelated,
			Confidence:   parseFailConfidence,
			Reasoning:    "unparseable response, degraded to UNRELATED",
		}
	}
	return Result{
		Relationship: NormalizeLabel(payload.Relationship),
		Confidence:   textutil.Clamp(payload.Confidence),
		Reasoning:    payload.Reasoning,
	}
}

func extractJSON(text string) (labelPayload, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return labelPayload{}, false
	}
	var payload labelPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return labelPayload{}, false
	}
	return payload, true
}

const systemPrompt = "You are a memory relationship classifier. Always respond with valid JSON containing: " +
	"relationship (REINFORCES/REFINES/SUPERSEDES/UNRELATED), confidence (0.0-1.0), and reasoning (string)."

func buildPrompt(p Pair) string {
	var b strings.Builder
	b.WriteString(`Classify the relationship between two memory records.

## Categories
- REINFORCES: Second record supports/validates first
- REFINES: Second adds detail without contradiction
- SUPERSEDES: Second contradicts/replaces first
- UNRELATED: No meaningful relationship

## Examples

SUPERSEDES:
A: "Using Python 3.9"
B: "Migrated to Python 3.11, 3.9 deprecated"
-> {"relationship": "SUPERSEDES", "confidence": 0.95, "reasoning": "Migration makes old version obsolete"}

REFINES:
A: "Met the new project manager"
B: "PM is Sarah Chen, Seattle, Agile expert"
-> {"relationship": "REFINES", "confidence": 0.92, "reasoning": "Adds specific details"}

REINFORCES:
A: "I prefer quiet work environments"
B: "Noise-canceling headphones help me focus"
-> {"relationship": "REINFORCES", "confidence": 0.85, "reasoning": "Both express preference for focused work"}

UNRELATED:
A: "Completed budget review"
B: "Learning guitar"
-> {"relationship": "UNRELATED", "confidence": 0.97, "reasoning": "Work and hobby are separate domains"}

## Task

`)
	fmt.Fprintf(&b, "Record A %s:\n%q\n\n", recordContext(p.Older), p.Older.Body)
	fmt.Fprintf(&b, "Record B %s:\n%q\n\n", recordContext(p.Newer), p.Newer.Body)
	b.WriteString(`Output JSON:
{"relationship": "CATEGORY", "confidence": 0.0-1.0, "reasoning": "brief explanation"}`)
	return b.String()
}

func recordContext(r *model.Record) string {
	parts := []string{
		"time: " + model.FormatTime(r.Time),
		fmt.Sprintf("importance: %.2f", r.Importance),
	}
	if len(r.Tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(r.Tags, ", "))
	}
	if r.Status != "" {
		parts = append(parts, "status: "+r.Status)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
