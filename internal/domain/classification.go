package domain

import "time"

type Label string

const (
	LabelPositive Label = "positive"
	LabelNeutral  Label = "neutral"
	LabelNegative Label = "negative"
	LabelNone     Label = "None"
)

// Categories is the fixed category set, in output column order.
var Categories = []string{"food", "service", "atmosphere"}

// Labels is the fixed answer set offered to the model.
var Labels = []Label{LabelPositive, LabelNeutral, LabelNegative, LabelNone}

type Classification struct {
	Food       Label `json:"food"`
	Service    Label `json:"service"`
	Atmosphere Label `json:"atmosphere"`
}

func DefaultClassification() Classification {
	return Classification{Food: LabelNone, Service: LabelNone, Atmosphere: LabelNone}
}

// Outcome records how a record's classification was obtained.
type Outcome string

const (
	OutcomeParsed      Outcome = "parsed"
	OutcomeParseError  Outcome = "parse_error"
	OutcomeMissing     Outcome = "missing"
	OutcomeFiltered    Outcome = "filtered"
	OutcomeChunkFailed Outcome = "chunk_failed"
)

// ResultEntry is the typed result for one record. Every outcome other than
// OutcomeParsed carries DefaultClassification.
type ResultEntry struct {
	RecordID       string
	Classification Classification
	Outcome        Outcome
	Err            error
}

func DefaultResult(recordID string, outcome Outcome, err error) ResultEntry {
	return ResultEntry{
		RecordID:       recordID,
		Classification: DefaultClassification(),
		Outcome:        outcome,
		Err:            err,
	}
}

// Annotated pairs an original record with its final result.
type Annotated struct {
	Record Record
	Result ResultEntry
}

type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

type Run struct {
	ID                string
	StartedAt         time.Time
	FinishedAt        time.Time
	Strategy          string
	Model             string
	PromptFingerprint string
	InputPath         string
	Records           int
	Chunks            int
	ChunksFailed      int
	Status            RunStatus
}
