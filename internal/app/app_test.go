package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reviewclassifier/internal/config"
	"reviewclassifier/internal/dataset"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/metrics"
	"reviewclassifier/internal/pipeline"
)

type stubStrategy struct {
	err error
	// cancel is called after chunk 0 finishes; later chunks then block until
	// the context is done.
	cancel context.CancelFunc
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Process(ctx context.Context, runID string, chunk domain.Chunk, observe func(domain.ChunkRecord)) ([]domain.ResultEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.cancel != nil && chunk.Index > 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.cancel != nil {
		defer s.cancel()
	}
	var out []domain.ResultEntry
	for _, r := range chunk.Records {
		out = append(out, domain.ResultEntry{
			RecordID:       r.Key(),
			Classification: domain.Classification{Food: domain.LabelPositive, Service: domain.LabelNegative, Atmosphere: domain.LabelNone},
			Outcome:        domain.OutcomeParsed,
		})
	}
	return out, nil
}

func writeInput(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "reviews.csv")
	content := "place,review,stars\nA,\"Das Essen war toll, der Service schlecht.\",4\nB,,1\nC,nan,2\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return in, filepath.Join(dir, "out", "classified.csv")
}

func TestRunOnceWritesAnnotatedOutput(t *testing.T) {
	in, out := writeInput(t)
	a := &App{
		Config: config.Config{InputPath: in, OutputPath: out, ReviewColumn: "review"},
		Engine: &pipeline.Engine{Strategy: &stubStrategy{}, ChunkSize: 2, MaxWords: 50, Metrics: metrics.New()},
	}

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	table, err := dataset.Read(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.Join(table.Header, ",") != "place,review,food_rating,service_rating,atmosphere_rating,stars" {
		t.Fatalf("unexpected header %v", table.Header)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Rows))
	}
	if strings.Join(table.Rows[0][2:5], ",") != "positive,negative,None" {
		t.Fatalf("unexpected ratings for row 0: %v", table.Rows[0])
	}
	for _, i := range []int{1, 2} {
		if strings.Join(table.Rows[i][2:5], ",") != "None,None,None" {
			t.Fatalf("filtered row %d should have default ratings, got %v", i, table.Rows[i])
		}
	}
}

func TestRunOnceSkipsOutputWhenEveryChunkFails(t *testing.T) {
	in, out := writeInput(t)
	a := &App{
		Config: config.Config{InputPath: in, OutputPath: out, ReviewColumn: "review"},
		Engine: &pipeline.Engine{Strategy: &stubStrategy{err: errors.New("upload rejected")}, ChunkSize: 2, MaxWords: 50},
	}

	err := a.RunOnce(context.Background())
	if !errors.Is(err, pipeline.ErrNoChunkSucceeded) {
		t.Fatalf("expected ErrNoChunkSucceeded, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("output must not be written, stat err=%v", statErr)
	}
}

func TestRunOnceWritesFinishedChunksWhenInterrupted(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "reviews.csv")
	out := filepath.Join(dir, "classified.csv")
	content := "review\nSchnitzel war super\nKellner war langsam\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &App{
		Config: config.Config{InputPath: in, OutputPath: out, ReviewColumn: "review"},
		Engine: &pipeline.Engine{Strategy: &stubStrategy{cancel: cancel}, ChunkSize: 1, MaxWords: 50},
	}

	err := a.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the interruption to be reported, got %v", err)
	}
	if errors.Is(err, pipeline.ErrNoChunkSucceeded) {
		t.Fatalf("chunk 0 succeeded, got %v", err)
	}
	table, readErr := dataset.Read(out)
	if readErr != nil {
		t.Fatalf("output should exist after a partial run: %v", readErr)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if got := strings.Join(table.Rows[0][1:4], ","); got != "positive,negative,None" {
		t.Fatalf("row 0 should keep its result, got %v", table.Rows[0])
	}
	if got := strings.Join(table.Rows[1][1:4], ","); got != "None,None,None" {
		t.Fatalf("interrupted row should get defaults, got %v", table.Rows[1])
	}
}

func TestRunOnceMissingColumn(t *testing.T) {
	in, out := writeInput(t)
	a := &App{
		Config: config.Config{InputPath: in, OutputPath: out, ReviewColumn: "comment"},
		Engine: &pipeline.Engine{Strategy: &stubStrategy{}, ChunkSize: 2},
	}
	if err := a.RunOnce(context.Background()); !errors.Is(err, dataset.ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	base := config.Config{
		Strategy:              "batch",
		LLMProvider:           "openai",
		LLMModel:              "gpt-4-turbo",
		OpenAIAPIKey:          "sk-test",
		ChunkSize:             25,
		MaxWords:              200,
		Concurrency:           2,
		PollIntervalSeconds:   10,
		PollTimeoutMinutes:    60,
		RetryMaxAttempts:      3,
		SyncRequestsPerSecond: 1,
	}

	e, err := NewEngine(base, nil)
	if err != nil {
		t.Fatalf("NewEngine batch: %v", err)
	}
	if _, ok := e.Strategy.(*pipeline.BatchStrategy); !ok || e.ChunkSize != 25 || e.MaxWords != 200 || e.PromptFingerprint == "" {
		t.Fatalf("unexpected batch engine %+v", e)
	}

	syncCfg := base
	syncCfg.Strategy = "sync"
	syncCfg.LLMProvider = "anthropic"
	syncCfg.AnthropicAPIKey = "ant"
	e, err = NewEngine(syncCfg, nil)
	if err != nil {
		t.Fatalf("NewEngine sync: %v", err)
	}
	if _, ok := e.Strategy.(*pipeline.SyncStrategy); !ok {
		t.Fatalf("expected sync strategy, got %T", e.Strategy)
	}

	badCfg := base
	badCfg.LLMProvider = "anthropic"
	if _, err := NewEngine(badCfg, nil); err == nil {
		t.Fatalf("batch with anthropic must be rejected")
	}

	glossaryCfg := base
	glossaryCfg.LabelGlossaryPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewEngine(glossaryCfg, nil); err == nil {
		t.Fatalf("missing glossary must be rejected")
	}
}
