// Package suggest produces story and activity suggestions for a logged
// behavior entry using a generative model.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ModelClient generates a structured JSON completion for a prompt.
type ModelClient interface {
	Generate(ctx context.Context, prompt string, out any) error
}

// GeminiClient calls the Gemini generateContent REST endpoint and asks for
// a JSON response body.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewGeminiClient(baseURL, apiKey, model string) *GeminiClient {
	return &GeminiClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt and unmarshals the model's JSON answer into out.
// Failures are logged with detail but reported generically, so provider
// internals never reach an API response.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, out any) error {
	reqBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("suggest: model request: %v", err)
		return errModelUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Printf("suggest: read model response: %v", err)
		return errModelUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("suggest: model returned %d: %s", resp.StatusCode, truncate(body, 256))
		return errModelUnavailable
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("suggest: decode model response: %v", err)
		return errModelUnavailable
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		log.Printf("suggest: model returned no candidates")
		return errModelUnavailable
	}

	text := parsed.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), out); err != nil {
		log.Printf("suggest: model answer is not the expected shape: %v", err)
		return errModelUnavailable
	}
	return nil
}

var errModelUnavailable = fmt.Errorf("suggestion model unavailable")

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
