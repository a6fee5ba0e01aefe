package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tidwall/gjson"

	"reviewclassifier/internal/domain"
)

var (
	ErrOuterJSON      = errors.New("output line is not valid json")
	ErrResponseStatus = errors.New("request failed at the batch service")
	ErrNoContent      = errors.New("response has no message content")
	ErrInnerJSON      = errors.New("message content is not a classification object")
	ErrInvalidLabel   = errors.New("classification has an invalid label")
)

const maxLoggedContent = 200

// Parser turns model output into typed per-record results.
type Parser struct {
	labels *Labels
}

func NewParser(labels *Labels) *Parser {
	if labels == nil {
		labels = NewLabels(nil)
	}
	return &Parser{labels: labels}
}

// Lines decodes a batch output file, one JSON object per line. Every line
// that carries a salvageable custom_id yields exactly one entry; a broken
// line never affects its siblings.
func (p *Parser) Lines(output []byte) []domain.ResultEntry {
	var entries []domain.ResultEntry
	for i, raw := range bytes.Split(output, []byte("\n")) {
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		entry, ok := p.line(line)
		if !ok {
			log.Printf("decode dropped output line=%d err=%v content=%q", i+1, entry.Err, truncateForLog(line))
			continue
		}
		if entry.Outcome != domain.OutcomeParsed {
			log.Printf("decode warning record=%s outcome=%s err=%v", entry.RecordID, entry.Outcome, entry.Err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func (p *Parser) line(line string) (domain.ResultEntry, bool) {
	id := gjson.Get(line, "custom_id")
	recordID := strings.TrimSpace(id.String())
	if !gjson.Valid(line) {
		// gjson is lenient enough to salvage the id from a truncated line.
		err := ErrOuterJSON
		return domain.DefaultResult(recordID, domain.OutcomeParseError, err), recordID != ""
	}
	if recordID == "" {
		return domain.DefaultResult("", domain.OutcomeParseError, fmt.Errorf("%w: missing custom_id", ErrOuterJSON)), false
	}

	if e := gjson.Get(line, "error"); e.Exists() && e.Type != gjson.Null {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: %s", ErrResponseStatus, msg)), true
	}
	if code := gjson.Get(line, "response.status_code"); code.Exists() && code.Int() != 200 {
		return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: status %d", ErrResponseStatus, code.Int())), true
	}

	content := gjson.Get(line, "response.body.choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return domain.DefaultResult(recordID, domain.OutcomeParseError, ErrNoContent), true
	}
	return p.Content(recordID, content.String()), true
}

// Content decodes one model answer, as returned by the sync strategy or
// extracted from a batch output line.
func (p *Parser) Content(recordID, content string) domain.ResultEntry {
	text := stripFences(content)
	if text == "" {
		return domain.DefaultResult(recordID, domain.OutcomeParseError, ErrNoContent)
	}

	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&raw); err != nil {
		return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: %v (content: %q)", ErrInnerJSON, err, truncateForLog(text)))
	}
	if dec.More() {
		return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: trailing data (content: %q)", ErrInnerJSON, truncateForLog(text)))
	}

	var labels [3]domain.Label
	for i, category := range domain.Categories {
		v, ok := raw[category]
		if !ok {
			return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: missing %q", ErrInnerJSON, category))
		}
		var s string
		switch x := v.(type) {
		case nil:
			s = ""
		case string:
			s = x
		default:
			return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: %s is %T", ErrInvalidLabel, category, v))
		}
		label, ok := p.labels.Normalize(s)
		if !ok {
			return domain.DefaultResult(recordID, domain.OutcomeParseError, fmt.Errorf("%w: %s=%q", ErrInvalidLabel, category, s))
		}
		labels[i] = label
	}

	return domain.ResultEntry{
		RecordID: recordID,
		Classification: domain.Classification{
			Food:       labels[0],
			Service:    labels[1],
			Atmosphere: labels[2],
		},
		Outcome: domain.OutcomeParsed,
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateForLog(s string) string {
	if len(s) > maxLoggedContent {
		return s[:maxLoggedContent] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
	}
	return s
}
