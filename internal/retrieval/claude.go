// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/template"

	"github.com/mkoval/passage-engine/pkg/types"
)

// rerankPromptTmpl is the prompt sent to the Claude API for each candidate
// passage. It asks for a single JSON verdict with a relevance score and a
// one-sentence justification.
var rerankPromptTmpl = template.Must(template.New("rerank").Parse(`You are a theological research assistant judging retrieval quality. Given a user question and a candidate passage, score how directly the passage answers the question.

Scoring guidance:
- 1.0: the passage directly and substantively answers the question
- 0.7: the passage addresses the question's topic with relevant detail
- 0.4: the passage is topically adjacent but does not answer the question
- 0.1: the passage mentions a keyword but is otherwise unrelated
- 0.0: the passage is irrelevant

Respond with a JSON object containing "relevance" (a float between 0.0 and 1.0) and "reasoning" (one sentence). Do not include any text outside the JSON object.

Example response:
{"relevance": 0.85, "reasoning": "Directly expounds the doctrine the question asks about."}

Question:
{{.Query}}

Passage:
{{.Passage}}
`))

// claudeAPIURL is the Claude API endpoint. Package-level var for test
// substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeJudge scores passages with the Claude Messages API.
type ClaudeJudge struct {
	APIKey string
	Model  string
	Client *http.Client
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Score calls the Claude API with the rerank prompt for one passage.
func (c *ClaudeJudge) Score(ctx context.Context, query, passage string) (Judgment, error) {
	prompt, err := renderRerankPrompt(query, passage)
	if err != nil {
		return Judgment{}, fmt.Errorf("rendering prompt: %w", err)
	}

	reqBody := claudeRequest{
		Model:     c.Model,
		MaxTokens: 512,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Judgment{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Judgment{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Judgment{}, &types.TransientError{Op: "rerank", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Judgment{}, &types.TransientError{Op: "rerank", Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Judgment{}, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return Judgment{}, fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		var judgment Judgment
		if err := json.Unmarshal([]byte(block.Text), &judgment); err != nil {
			return Judgment{}, fmt.Errorf("parsing judgment JSON: %w", err)
		}
		return judgment, nil
	}

	return Judgment{}, fmt.Errorf("no text content in Claude API response")
}

// renderRerankPrompt executes the rerank prompt template.
func renderRerankPrompt(query, passage string) (string, error) {
	var buf bytes.Buffer
	err := rerankPromptTmpl.Execute(&buf, struct{ Query, Passage string }{Query: query, Passage: passage})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
