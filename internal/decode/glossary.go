package decode

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"reviewclassifier/internal/domain"
)

// LabelGlossary maps extra model spellings onto the fixed label set, e.g.
//
//	synonyms:
//	  - phrase: "sehr gut"
//	    label: positive
type LabelGlossary struct {
	Synonyms []LabelSynonym `yaml:"synonyms"`
}

type LabelSynonym struct {
	Phrase string `yaml:"phrase"`
	Label  string `yaml:"label"`
}

var builtinLabels = map[string]domain.Label{
	"positive": domain.LabelPositive,
	"positiv":  domain.LabelPositive,
	"pos":      domain.LabelPositive,
	"neutral":  domain.LabelNeutral,
	"mixed":    domain.LabelNeutral,
	"gemischt": domain.LabelNeutral,
	"negative": domain.LabelNegative,
	"negativ":  domain.LabelNegative,
	"neg":      domain.LabelNegative,
	"none":     domain.LabelNone,
	"null":     domain.LabelNone,
	"n/a":      domain.LabelNone,
	"na":       domain.LabelNone,
	"keine":    domain.LabelNone,
	"":         domain.LabelNone,
}

func LoadLabelGlossary(path string) (*LabelGlossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label glossary: %w", err)
	}
	var g LabelGlossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse label glossary yaml: %w", err)
	}
	for _, s := range g.Synonyms {
		if _, ok := builtinLabels[normalizeTextToken(s.Label)]; !ok {
			return nil, fmt.Errorf("glossary phrase %q maps to unknown label %q", s.Phrase, s.Label)
		}
	}
	return &g, nil
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Labels normalises raw model answers onto domain labels.
type Labels struct {
	table map[string]domain.Label
}

func NewLabels(glossary *LabelGlossary) *Labels {
	table := make(map[string]domain.Label, len(builtinLabels))
	for k, v := range builtinLabels {
		table[k] = v
	}
	if glossary != nil {
		for _, s := range glossary.Synonyms {
			phrase := normalizeTextToken(s.Phrase)
			if phrase == "" {
				continue
			}
			table[phrase] = builtinLabels[normalizeTextToken(s.Label)]
		}
	}
	return &Labels{table: table}
}

func (l *Labels) Normalize(raw string) (domain.Label, bool) {
	label, ok := l.table[normalizeTextToken(strings.Trim(raw, ".!\"' "))]
	return label, ok
}
