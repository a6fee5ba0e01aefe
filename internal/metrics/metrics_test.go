package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"reviewclassifier/internal/domain"
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.ChunkDone("batch", nil, 2*time.Second)
	c.ChunkDone("batch", errors.New("expired"), time.Second)
	c.ChunkDone("batch", nil, time.Second)
	c.JobPolled(domain.Job{Status: domain.JobInProgress})
	c.JobPolled(domain.Job{Status: domain.JobInProgress})
	c.Records(map[domain.Outcome]int{domain.OutcomeParsed: 7, domain.OutcomeFiltered: 2})

	if got := testutil.ToFloat64(c.chunksTotal.WithLabelValues("batch", "ok")); got != 2 {
		t.Fatalf("ok chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.chunksTotal.WithLabelValues("batch", "failed")); got != 1 {
		t.Fatalf("failed chunks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobPollsTotal.WithLabelValues("in_progress")); got != 2 {
		t.Fatalf("polls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.recordsTotal.WithLabelValues("parsed")); got != 7 {
		t.Fatalf("parsed records = %v, want 7", got)
	}
	if got := testutil.CollectAndCount(c.chunkDuration); got != 1 {
		t.Fatalf("expected one duration series, got %d", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ChunkDone("sync", nil, time.Second)
	c.JobPolled(domain.Job{})
	c.Records(map[domain.Outcome]int{domain.OutcomeParsed: 1})
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.Records(map[domain.Outcome]int{domain.OutcomeMissing: 3})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `reviewclassifier_records_total{outcome="missing"} 3`) {
		t.Fatalf("metrics output missing records counter:\n%s", body)
	}
}
