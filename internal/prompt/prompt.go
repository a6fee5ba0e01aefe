package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"

	"reviewclassifier/internal/domain"
)

const DefaultSystemPrompt = "Du bist ein hilfsbereiter Assistent."

// reviewTemplate is part of the effective cache key of every remote job:
// editing it invalidates results from earlier runs.
const reviewTemplate = `Analysiere den Ton des folgenden Kommentars zu {{join .Categories ", "}}.
Gib für jede Kategorie genau einen dieser Werte an: {{join .Labels ", "}} (None, wenn nicht erwähnt).

Kommentar: "{{.Text}}"

Antwortformat (JSON), kein Markdown-Syntax:
{
{{- range $i, $c := .Categories}}{{if $i}},{{end}}
  "{{$c}}": "..."
{{- end}}
}`

type templateData struct {
	Text       string
	Categories []string
	Labels     []string
}

// Builder renders the per-record user prompt. It is safe for concurrent use.
type Builder struct {
	tmpl   *template.Template
	model  string
	system string
}

func NewBuilder(model, systemPrompt string) *Builder {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	tmpl := template.Must(template.New("review").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(reviewTemplate))
	return &Builder{tmpl: tmpl, model: model, system: systemPrompt}
}

func (b *Builder) Model() string        { return b.model }
func (b *Builder) SystemPrompt() string { return b.system }

// Build renders the prompt for one (already truncated) review text.
func (b *Builder) Build(text string) string {
	labels := make([]string, len(domain.Labels))
	for i, l := range domain.Labels {
		labels[i] = string(l)
	}
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, templateData{
		Text:       text,
		Categories: domain.Categories,
		Labels:     labels,
	})
	if err != nil {
		// The template is a compile-time constant over string data.
		panic(fmt.Sprintf("render review prompt: %v", err))
	}
	return sb.String()
}

// Entry renders the request entry for one record.
func (b *Builder) Entry(rec domain.Record) domain.RequestEntry {
	return domain.RequestEntry{CustomID: rec.Key(), Prompt: b.Build(rec.Text)}
}

// Fingerprint identifies the template, model and system prompt combination.
func (b *Builder) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(reviewTemplate))
	h.Write([]byte{0})
	h.Write([]byte(b.model))
	h.Write([]byte{0})
	h.Write([]byte(b.system))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
