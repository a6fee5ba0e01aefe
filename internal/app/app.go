package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"reviewclassifier/internal/batch"
	"reviewclassifier/internal/config"
	"reviewclassifier/internal/dataset"
	"reviewclassifier/internal/decode"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/httpx"
	"reviewclassifier/internal/integrations/llm"
	slackbot "reviewclassifier/internal/integrations/slack"
	"reviewclassifier/internal/merge"
	"reviewclassifier/internal/metrics"
	"reviewclassifier/internal/pipeline"
	"reviewclassifier/internal/prompt"
	"reviewclassifier/internal/retry"
	"reviewclassifier/internal/schedule"
	"reviewclassifier/internal/storage/sqlite"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Input=%s Output=%s Column=%s Strategy=%s Provider=%s Model=%s ChunkSize=%d MaxWords=%d Concurrency=%d PollInterval=%s PollTimeout=%s Schedule=%q ExternalHTTPTimeout=%s",
		cfg.InputPath,
		cfg.OutputPath,
		cfg.ReviewColumn,
		cfg.Strategy,
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.ChunkSize,
		cfg.MaxWords,
		cfg.Concurrency,
		cfg.PollInterval(),
		cfg.PollTimeout(),
		cfg.Schedule,
		appliedHTTPTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, collector)
	}

	engine, err := NewEngine(cfg, collector)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	engine.Ledger = &sqlite.Ledger{DB: db}

	a := &App{Config: cfg, Engine: engine}
	if cfg.SlackConfigured() {
		a.Notifier = slackbot.NewNotifier(slack.New(cfg.SlackBotToken), cfg.SlackChannelID)
	}

	if strings.TrimSpace(cfg.Schedule) == "" {
		if err := a.RunOnce(ctx); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		return
	}

	sched, err := schedule.Parse(cfg.Schedule)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Scheduled runs enabled (cron: %s, timezone: %s)", cfg.Schedule, cfg.Location)
	loop := &schedule.Loop{Schedule: sched, Location: cfg.Location}
	_ = loop.Run(ctx, func(ctx context.Context) {
		if err := a.RunOnce(ctx); err != nil {
			log.Printf("Scheduled run failed: %v", err)
		}
	})
}

// NewEngine builds the pipeline for the configured strategy and provider.
func NewEngine(cfg config.Config, collector *metrics.Collector) (*pipeline.Engine, error) {
	var glossary *decode.LabelGlossary
	if cfg.LabelGlossaryPath != "" {
		g, err := decode.LoadLabelGlossary(cfg.LabelGlossaryPath)
		if err != nil {
			return nil, err
		}
		glossary = g
		log.Printf("Label glossary loaded from %s synonyms=%d", cfg.LabelGlossaryPath, len(g.Synonyms))
	}
	parser := decode.NewParser(decode.NewLabels(glossary))
	prompts := prompt.NewBuilder(cfg.LLMModel, cfg.SystemPrompt)
	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    retry.DefaultPolicy().MaxDelay,
	}

	var strategy pipeline.Strategy
	switch cfg.Strategy {
	case pipeline.StrategyBatch:
		if cfg.LLMProvider != llm.ProviderOpenAI {
			return nil, fmt.Errorf("batch strategy requires the openai provider, got %s", cfg.LLMProvider)
		}
		svc := llm.NewBatchService(llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
		strategy = &pipeline.BatchStrategy{
			Submitter: &batch.Submitter{
				Service:          svc,
				Prompts:          prompts,
				CompletionWindow: cfg.CompletionWindow,
				Retry:            policy,
				PayloadDir:       cfg.BatchDir,
			},
			Monitor: &batch.Monitor{
				Service:     svc,
				Interval:    cfg.PollInterval(),
				MaxAttempts: cfg.MaxPollAttempts,
				Timeout:     cfg.PollTimeout(),
				Retry:       policy,
			},
			Parser:  parser,
			Metrics: collector,
		}
	case pipeline.StrategySync:
		var chat pipeline.ChatClient
		switch cfg.LLMProvider {
		case llm.ProviderAnthropic:
			chat = llm.NewAnthropicChat(cfg.AnthropicAPIKey, "", cfg.LLMModel)
		default:
			chat = llm.NewOpenAIChat(llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), cfg.LLMModel)
		}
		strategy = &pipeline.SyncStrategy{
			Chat:    chat,
			Prompts: prompts,
			Parser:  parser,
			Limiter: rate.NewLimiter(rate.Limit(cfg.SyncRequestsPerSecond), 1),
			Retry:   policy,
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}

	return &pipeline.Engine{
		Strategy:          strategy,
		ChunkSize:         cfg.ChunkSize,
		MaxWords:          cfg.MaxWords,
		Concurrency:       cfg.Concurrency,
		Metrics:           collector,
		Model:             cfg.LLMModel,
		PromptFingerprint: prompts.Fingerprint(),
		InputPath:         cfg.InputPath,
	}, nil
}

type App struct {
	Config   config.Config
	Engine   *pipeline.Engine
	Notifier *slackbot.Notifier
}

// RunOnce classifies the input dataset and writes the annotated output. The
// output is skipped only when every chunk failed; an interrupted run still
// writes what finished and then returns the interruption.
func (a *App) RunOnce(ctx context.Context) error {
	table, err := dataset.Read(a.Config.InputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", a.Config.InputPath, err)
	}
	records, err := dataset.Records(table, a.Config.ReviewColumn)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d rows from %s", len(records), a.Config.InputPath)

	report, runErr := a.Engine.Run(ctx, records)
	summary := slackbot.RunSummary{Run: report.Run, Outcomes: report.Outcomes, Err: runErr}
	if errors.Is(runErr, pipeline.ErrNoChunkSucceeded) {
		log.Printf("Output not written: %v", runErr)
	} else if writeErr := a.write(table, report.Annotated); writeErr != nil {
		runErr = errors.Join(runErr, writeErr)
		summary.Err = runErr
	} else {
		summary.OutputPath = a.Config.OutputPath
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	a.Notifier.Notify(notifyCtx, summary)
	return runErr
}

func (a *App) write(table dataset.Table, annotated []domain.Annotated) error {
	out, err := merge.Annotate(table, a.Config.ReviewColumn, annotated)
	if err != nil {
		return err
	}
	if err := dataset.Write(a.Config.OutputPath, out); err != nil {
		return err
	}
	log.Printf("Wrote %d rows to %s", len(out.Rows), a.Config.OutputPath)
	return nil
}

func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
