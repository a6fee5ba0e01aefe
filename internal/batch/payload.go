package batch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/prompt"
)

const (
	ChatCompletionsEndpoint = "/v1/chat/completions"
	DefaultCompletionWindow = "24h"
)

type requestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     requestBody `json:"body"`
}

type requestBody struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	// Always emitted: a zero temperature is the point.
	Temperature float64 `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildPayload renders the newline-delimited request file for one chunk.
func BuildPayload(chunk domain.Chunk, builder *prompt.Builder) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range chunk.Records {
		entry := builder.Entry(rec)
		line := requestLine{
			CustomID: entry.CustomID,
			Method:   "POST",
			URL:      ChatCompletionsEndpoint,
			Body: requestBody{
				Model: builder.Model(),
				Messages: []chatMessage{
					{Role: "system", Content: builder.SystemPrompt()},
					{Role: "user", Content: entry.Prompt},
				},
				Temperature: 0,
			},
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encoding request for record %s: %w", entry.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}
