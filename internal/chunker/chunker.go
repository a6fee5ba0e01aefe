package chunker

import (
	"strings"

	"reviewclassifier/internal/domain"
)

const (
	ShortMaxWords = 50
	LongMaxWords  = 200
)

var nullSentinels = map[string]bool{
	"nan":  true,
	"none": true,
}

// Skippable reports whether a review text carries nothing worth classifying.
func Skippable(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "" || nullSentinels[t]
}

// Truncate keeps the first maxWords whitespace-delimited tokens of text.
// maxWords < 1 disables truncation.
func Truncate(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// Split filters skippable records, truncates the rest and groups them into
// ordered chunks of at most chunkSize records.
func Split(records []domain.Record, chunkSize, maxWords int) []domain.Chunk {
	if chunkSize < 1 {
		chunkSize = 1
	}

	var kept []domain.Record
	for _, rec := range records {
		if Skippable(rec.Text) {
			continue
		}
		kept = append(kept, domain.Record{ID: rec.ID, Text: Truncate(rec.Text, maxWords)})
	}

	var chunks []domain.Chunk
	for start := 0; start < len(kept); start += chunkSize {
		end := start + chunkSize
		if end > len(kept) {
			end = len(kept)
		}
		chunks = append(chunks, domain.Chunk{
			Index:   len(chunks),
			Records: kept[start:end:end],
		})
	}
	return chunks
}
