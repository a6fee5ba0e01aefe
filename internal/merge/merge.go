package merge

import (
	"log"

	"reviewclassifier/internal/chunker"
	"reviewclassifier/internal/dataset"
	"reviewclassifier/internal/domain"
)

// RatingColumns are inserted after the review column, in category order.
var RatingColumns = []string{"food_rating", "service_rating", "atmosphere_rating"}

// Merge joins per-chunk results back onto the original records by id. The
// result has exactly one entry per record, in input order.
func Merge(records []domain.Record, results []domain.ChunkResult) []domain.Annotated {
	known := make(map[string]bool, len(records))
	for _, r := range records {
		known[r.Key()] = true
	}

	failed := map[string]error{}
	byID := map[string]domain.ResultEntry{}
	for _, res := range results {
		if res.Err != nil {
			for _, r := range res.Chunk.Records {
				failed[r.Key()] = res.Err
			}
			continue
		}
		for _, e := range res.Entries {
			if !known[e.RecordID] {
				log.Printf("merge ignored unknown record=%s chunk=%d", e.RecordID, res.Chunk.Index)
				continue
			}
			if _, dup := byID[e.RecordID]; dup {
				log.Printf("merge ignored duplicate record=%s chunk=%d", e.RecordID, res.Chunk.Index)
				continue
			}
			byID[e.RecordID] = e
		}
	}

	out := make([]domain.Annotated, len(records))
	for i, r := range records {
		key := r.Key()
		entry, ok := byID[key]
		switch {
		case ok:
		case chunker.Skippable(r.Text):
			entry = domain.DefaultResult(key, domain.OutcomeFiltered, nil)
		case failed[key] != nil:
			entry = domain.DefaultResult(key, domain.OutcomeChunkFailed, failed[key])
		default:
			entry = domain.DefaultResult(key, domain.OutcomeMissing, nil)
		}
		out[i] = domain.Annotated{Record: r, Result: entry}
	}
	return out
}

// Counts tallies annotated records by outcome.
func Counts(annotated []domain.Annotated) map[domain.Outcome]int {
	counts := map[domain.Outcome]int{}
	for _, a := range annotated {
		counts[a.Result.Outcome]++
	}
	return counts
}

// Annotate returns a copy of table with the three rating columns inserted
// right after reviewColumn. annotated[i] belongs to table.Rows[i].
func Annotate(table dataset.Table, reviewColumn string, annotated []domain.Annotated) (dataset.Table, error) {
	col, err := table.Column(reviewColumn)
	if err != nil {
		return dataset.Table{}, err
	}
	at := col + 1

	out := dataset.Table{
		Header: insert(table.Header, at, RatingColumns),
		Rows:   make([][]string, len(table.Rows)),
	}
	for i, row := range table.Rows {
		c := domain.DefaultClassification()
		if i < len(annotated) {
			c = annotated[i].Result.Classification
		}
		out.Rows[i] = insert(row, at, []string{labelCell(c.Food), labelCell(c.Service), labelCell(c.Atmosphere)})
	}
	return out, nil
}

func labelCell(l domain.Label) string {
	if l == "" {
		return string(domain.LabelNone)
	}
	return string(l)
}

func insert(row []string, at int, values []string) []string {
	for len(row) < at {
		row = append(row, "")
	}
	out := make([]string, 0, len(row)+len(values))
	out = append(out, row[:at]...)
	out = append(out, values...)
	return append(out, row[at:]...)
}
