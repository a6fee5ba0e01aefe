package slackbot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"reviewclassifier/internal/domain"
)

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts run summaries to one channel.
type Notifier struct {
	api       poster
	channelID string
}

func NewNotifier(api *slack.Client, channelID string) *Notifier {
	return &Notifier{api: api, channelID: channelID}
}

// RunSummary is what gets reported after a run.
type RunSummary struct {
	Run        domain.Run
	Outcomes   map[domain.Outcome]int
	OutputPath string
	Err        error
}

func FormatRunSummary(s RunSummary) string {
	var b strings.Builder
	elapsed := s.Run.FinishedAt.Sub(s.Run.StartedAt).Round(time.Second)
	fmt.Fprintf(&b, "Review classification %s (%s, %s) in %s\n", s.Run.Status, s.Run.Strategy, s.Run.Model, elapsed)
	fmt.Fprintf(&b, "Records: %d, chunks: %d ok / %d failed\n", s.Run.Records, s.Run.Chunks-s.Run.ChunksFailed, s.Run.ChunksFailed)

	var parts []string
	for _, outcome := range []domain.Outcome{
		domain.OutcomeParsed, domain.OutcomeParseError, domain.OutcomeMissing,
		domain.OutcomeFiltered, domain.OutcomeChunkFailed,
	} {
		if n := s.Outcomes[outcome]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", outcome, n))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, "Outcomes: %s\n", strings.Join(parts, ", "))
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "Error: %v", s.Err)
	} else if s.OutputPath != "" {
		fmt.Fprintf(&b, "Output: %s", s.OutputPath)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notify posts the summary. Failures are logged only.
func (n *Notifier) Notify(ctx context.Context, s RunSummary) {
	if n == nil {
		return
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(FormatRunSummary(s), false))
	if err != nil {
		log.Printf("slack run summary post error channel=%s: %v", n.channelID, err)
		return
	}
	log.Printf("slack run summary posted channel=%s run=%s", n.channelID, s.Run.ID)
}
