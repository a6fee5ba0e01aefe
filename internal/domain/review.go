package domain

import "strconv"

// Record is one input review. ID is the row ordinal in the source dataset.
type Record struct {
	ID   int
	Text string
}

// Key is the custom_id used on the wire and as the merge join key.
func (r Record) Key() string {
	return strconv.Itoa(r.ID)
}

// Chunk is a bounded, ordered group of filtered records processed as one remote job.
type Chunk struct {
	Index   int
	Records []Record
}

type RequestEntry struct {
	CustomID string
	Prompt   string
}

// ChunkResult is what one chunk produced. Err is set when the chunk failed as
// a whole; Entries is then empty.
type ChunkResult struct {
	Chunk   Chunk
	Entries []ResultEntry
	Err     error
}
