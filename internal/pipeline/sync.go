package pipeline

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/time/rate"

	"reviewclassifier/internal/decode"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/prompt"
	"reviewclassifier/internal/retry"
)

const StrategySync = "sync"

// ChatClient answers one prompt synchronously.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SyncStrategy sends one paced chat request per record.
type SyncStrategy struct {
	Chat    ChatClient
	Prompts *prompt.Builder
	Parser  *decode.Parser
	// Limiter paces requests across all workers; nil means unpaced.
	Limiter *rate.Limiter
	Retry   retry.Policy
}

func (s *SyncStrategy) Name() string { return StrategySync }

func (s *SyncStrategy) Process(ctx context.Context, runID string, chunk domain.Chunk, observe func(domain.ChunkRecord)) ([]domain.ResultEntry, error) {
	entries := make([]domain.ResultEntry, 0, len(chunk.Records))
	for _, rec := range chunk.Records {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		entry := s.Prompts.Entry(rec)
		var content string
		err := retry.Do(ctx, s.Retry, "chat", func(ctx context.Context) error {
			c, err := s.Chat.Complete(ctx, s.Prompts.SystemPrompt(), entry.Prompt)
			content = c
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("sync request failed record=%s err=%v", entry.CustomID, err)
			entries = append(entries, domain.DefaultResult(entry.CustomID, domain.OutcomeMissing, err))
			continue
		}
		result := s.Parser.Content(entry.CustomID, content)
		if result.Outcome != domain.OutcomeParsed {
			log.Printf("sync warning record=%s outcome=%s err=%v", result.RecordID, result.Outcome, result.Err)
		}
		entries = append(entries, result)
	}
	return entries, nil
}
