// Package analyzer reads mechanical water meters from images through an
// OpenAI-compatible chat completions endpoint with vision input.
package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = stderrors.New("analyzer api key not configured")

const (
	instruction = "You are a utility meter OCR assistant. The image shows a mechanical water meter. " +
		"Return ONLY strict JSON with keys: reading (string), confidence (0..1), notes (string). " +
		"reading must include leading zeros and the decimal if present. " +
		"If uncertain about a wheel transition, choose the most probable and lower confidence. " +
		`Example: {"reading":"01234.567","confidence":0.86,"notes":"..."}`

	nonJSONWarning = "Model did not return strict JSON; see 'raw'."
)

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

type Client struct {
	http  *resty.Client
	model string
	ready bool
}

func New(cfg config.AnalyzerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: client, model: cfg.Model, ready: cfg.APIKey != ""}
}

// Enabled reports whether Analyze can reach a model.
func (c *Client) Enabled() bool {
	return c.ready
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the image to the model. A model answer that is not strict
// JSON is not an error; the result carries Raw and Warning instead.
func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string) (models.AnalysisResult, error) {
	if !c.ready {
		return models.AnalysisResult{}, ErrNotConfigured
	}
	if len(image) == 0 {
		return models.AnalysisResult{}, fmt.Errorf("empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("analyzer request failed: %w", err)
	}
	if resp.IsError() {
		return models.AnalysisResult{}, fmt.Errorf("analyzer returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(out.Choices) == 0 {
		return models.AnalysisResult{}, fmt.Errorf("analyzer returned no choices")
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	result := Coerce(text)
	if !result.HasReading() {
		nuts.L.Warnf("[Analyzer] Model answer was not strict JSON (%d chars)", len(text))
	}
	return result, nil
}

// Coerce turns a model answer into a result. It tries the whole text as
// JSON, then the outermost {...} block, and falls back to Raw/Warning.
func Coerce(text string) models.AnalysisResult {
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		fields = nil
		if block := jsonBlock.FindString(text); block != "" {
			_ = json.Unmarshal([]byte(block), &fields)
		}
	}

	reading, ok := fields["reading"]
	if !ok || reading == nil {
		return models.AnalysisResult{Raw: text, Warning: nonJSONWarning}
	}

	result := models.AnalysisResult{Reading: fmt.Sprint(reading)}
	if conf, ok := fields["confidence"].(float64); ok {
		result.Confidence = conf
	}
	if notes, ok := fields["notes"].(string); ok {
		result.Notes = notes
	}
	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
