package suggest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/suggestd/internal/cooldown"
	"github.com/thebtf/suggestd/internal/novelty"
	"github.com/thebtf/suggestd/pkg/models"
)

// DefaultApplyTimeout bounds the side effects of one request.
const DefaultApplyTimeout = 5 * time.Second

// Archiver archives suggestion records.
type Archiver interface {
	ArchiveSuggestion(ctx context.Context, surface models.Surface, id string) error
}

// Applier executes side-effect intents. Every failure is logged and swallowed.
type Applier struct {
	archiver Archiver
	memory   *cooldown.Memory
	metrics  *Metrics
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewApplier creates an applier.
func NewApplier(archiver Archiver, memory *cooldown.Memory, metrics *Metrics, timeout time.Duration, logger zerolog.Logger) *Applier {
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}
	return &Applier{
		archiver: archiver,
		memory:   memory,
		metrics:  metrics,
		timeout:  timeout,
		logger:   logger.With().Str("component", "applier").Logger(),
	}
}

// Apply executes intents in order and returns the number that failed.
// The caller's cancellation does not abort writes already underway.
func (a *Applier) Apply(ctx context.Context, surface models.Surface, intents []novelty.Intent) int {
	if len(intents) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	failed := 0
	for _, in := range intents {
		switch in.Kind {
		case novelty.IntentArchiveSuggestion:
			if err := a.archiver.ArchiveSuggestion(ctx, surface, in.SuggestionID); err != nil {
				failed++
				a.metrics.recordFailure(ctx, in.Kind)
				a.logger.Warn().
					Err(err).
					Str("surface", string(surface)).
					Str("suggestion_id", in.SuggestionID).
					Str("matched_id", in.MatchedID).
					Msg("Failed to archive duplicate suggestion")
			}
		case novelty.IntentMarkShown:
			a.memory.MarkShown(ctx, in.UserID, in.CooldownKind, in.ConceptHash, in.ItemID)
		default:
			a.logger.Warn().Str("kind", string(in.Kind)).Msg("Unknown intent")
		}
	}
	return failed
}
