package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/suggestd/internal/cooldown"
	"github.com/thebtf/suggestd/internal/novelty"
	"github.com/thebtf/suggestd/pkg/models"
	"github.com/thebtf/suggestd/pkg/similarity"
)

var (
	// ErrMissingUser is returned when a request carries no user.
	ErrMissingUser = errors.New("missing user id")
	// ErrUnknownMode is returned for an unrecognised mode.
	ErrUnknownMode = errors.New("unknown mode")
)

// ItemStore reads the active pool and pending candidates, and archives suggestions.
type ItemStore interface {
	Archiver
	ActiveItems(ctx context.Context, surface models.Surface, userID string) ([]models.ExistingItem, error)
	PendingCandidates(ctx context.Context, surface models.Surface, userID string) ([]models.Candidate, error)
}

// Embedder turns texts into vectors, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reason explains a suppressed disposition.
type Reason string

const (
	// ReasonNearDuplicate marks a distinct candidate dropped by the guard band.
	ReasonNearDuplicate Reason = "near_duplicate"
	// ReasonCooldown marks a candidate shown too recently.
	ReasonCooldown Reason = "cooldown"
)

// PlanEntry is the diagnostic record of one candidate.
type PlanEntry struct {
	CandidateID string              `json:"candidate_id"`
	Title       string              `json:"title"`
	Disposition novelty.Disposition `json:"disposition"`
	Reason      Reason              `json:"reason,omitempty"`
	Relation    models.Relation     `json:"relation"`
	MatchID     string              `json:"match_id,omitempty"`
	ConceptHash string              `json:"concept_hash"`
	Score       float64             `json:"score"`
}

// Request selects the surface, user and stream of one suggestion call.
type Request struct {
	Surface models.Surface
	UserID  string
	Mode    Mode
	// DryRun skips every side effect.
	DryRun bool
}

// Result is the response of one suggestion call.
type Result struct {
	Items   []models.SuggestedItem `json:"items"`
	Plan    []PlanEntry            `json:"plan"`
	Intents []novelty.Intent       `json:"intents"`
	// CooldownBypassed is set when the new-list cooldown was skipped to avoid an empty list.
	CooldownBypassed bool `json:"cooldown_bypassed"`
	// Fallback is set when only reinforcements were returned because nothing new survived.
	Fallback bool `json:"fallback"`
	// Failed counts side effects that did not persist.
	Failed int `json:"failed_side_effects"`
}

// Options configures an Engine.
type Options struct {
	Thresholds   novelty.Thresholds
	Windows      cooldown.Windows
	ApplyTimeout time.Duration
}

// Engine is the single suggestion engine shared by every surface.
type Engine struct {
	store    ItemStore
	embedder Embedder
	memory   *cooldown.Memory
	applier  *Applier
	metrics  *Metrics
	logger   zerolog.Logger

	mu       sync.RWMutex
	resolver *novelty.Resolver
	windows  cooldown.Windows
}

// NewEngine creates an engine.
func NewEngine(store ItemStore, embedder Embedder, memory *cooldown.Memory, opts Options, logger zerolog.Logger) *Engine {
	log := logger.With().Str("component", "suggest").Logger()
	metrics := NewMetrics(log)

	e := &Engine{
		store:    store,
		embedder: embedder,
		memory:   memory,
		metrics:  metrics,
		applier:  NewApplier(store, memory, metrics, opts.ApplyTimeout, logger),
		logger:   log,
	}
	e.Configure(opts.Thresholds, opts.Windows)
	return e
}

// Configure swaps thresholds and cooldown windows. Zero windows keep their defaults.
func (e *Engine) Configure(thresholds novelty.Thresholds, windows cooldown.Windows) {
	def := cooldown.DefaultWindows()
	if windows.New <= 0 {
		windows.New = def.New
	}
	if windows.Reinforcement <= 0 {
		windows.Reinforcement = def.Reinforcement
	}

	e.mu.Lock()
	e.resolver = novelty.NewResolver(thresholds)
	e.windows = windows
	e.mu.Unlock()
}

func (e *Engine) settings() (*novelty.Resolver, cooldown.Windows) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolver, e.windows
}

// candidateEntry is a surfaced candidate keyed for the "new" cooldown stream.
type candidateEntry struct {
	item models.SuggestedItem
	hash string
}

func (c candidateEntry) ConceptKey() string { return c.hash }

// reinforcementEntry is a reinforcement record keyed for the reinforcement stream.
type reinforcementEntry struct {
	item models.SuggestedItem
	hash string
}

func (r reinforcementEntry) ConceptKey() string { return r.hash }

// Suggest runs the full pipeline for one surface and user.
//
// Read and embedding failures fail the request. Side-effect failures are logged,
// counted in Result.Failed and never change the returned items.
func (e *Engine) Suggest(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	surface, err := SurfaceFor(req.Surface)
	if err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = ModeNew
	}
	if req.Mode != ModeNew && req.Mode != ModeReinforcements {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	resolver, windows := e.settings()

	existing, err := e.store.ActiveItems(ctx, surface.Name, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load active items: %w", err)
	}
	candidates, err := e.store.PendingCandidates(ctx, surface.Name, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	result := &Result{Items: []models.SuggestedItem{}, Plan: []PlanEntry{}}
	if len(candidates) == 0 {
		return result, nil
	}

	candTexts := make([]string, len(candidates))
	for i, c := range candidates {
		candTexts[i] = surface.Text(c.Title, c.Description)
	}
	candTexts = similarity.NormalizeAll(candTexts)
	for i := range candidates {
		candidates[i].Text = candTexts[i]
	}
	existingTexts := make([]string, len(existing))
	for i, item := range existing {
		existingTexts[i] = surface.Text(item.Title, item.Description)
	}
	existingTexts = similarity.NormalizeAll(existingTexts)
	for i := range existing {
		existing[i].Text = existingTexts[i]
	}

	candVecs, err := e.embedder.EmbedBatch(ctx, candTexts)
	if err != nil {
		return nil, fmt.Errorf("embed candidates: %w", err)
	}
	existingVecs, err := e.embedder.EmbedBatch(ctx, existingTexts)
	if err != nil {
		return nil, fmt.Errorf("embed existing items: %w", err)
	}

	res, err := resolver.Resolve(candidates, candVecs, existing, existingVecs)
	if err != nil {
		return nil, err
	}

	scored := make(map[string]novelty.Scored, len(res.New)+len(res.Reinforce))
	for _, s := range res.Reinforce {
		scored[s.Candidate.ID] = s
	}
	for _, s := range res.New {
		scored[s.Candidate.ID] = s
	}

	// Surviving candidates keep their input order.
	var newStream []candidateEntry
	for _, c := range candidates {
		s, ok := scored[c.ID]
		if !ok {
			continue
		}
		var item models.SuggestedItem
		if s.Related != nil {
			item = models.NewSuggestedFromCandidate(c, models.KindReinforce, s.Decision.Score, s.Related.ID, s.Related.Title)
		} else {
			item = models.NewSuggestedFromCandidate(c, models.KindNew, s.Decision.Score, "", "")
		}
		newStream = append(newStream, candidateEntry{item: item, hash: similarity.ConceptHash(c.Title)})
	}

	reinforcements := make([]reinforcementEntry, 0, len(res.Reinforcements))
	for _, r := range res.Reinforcements {
		reinforcements = append(reinforcements, reinforcementEntry{
			item: models.NewSuggestedFromReinforcement(r),
			hash: similarity.ConceptHash(r.ExistingTitle),
		})
	}

	newKind := cooldown.Kind(surface.Name, cooldown.StreamNew)
	reinKind := cooldown.Kind(surface.Name, cooldown.StreamReinforcement)
	newFiltered := cooldown.Filter(ctx, e.memory, req.UserID, newKind, windows.New, newStream, cooldown.GuardNonEmpty)
	reinFiltered := cooldown.Filter(ctx, e.memory, req.UserID, reinKind, windows.Reinforcement, reinforcements, cooldown.AllowEmpty)

	var shownNew []candidateEntry
	var shownRein []reinforcementEntry
	switch req.Mode {
	case ModeReinforcements:
		shownRein = reinFiltered.Kept
	default:
		switch {
		case len(newFiltered.Kept) > 0:
			shownRein = reinFiltered.Kept
			shownNew = newFiltered.Kept
			result.CooldownBypassed = newFiltered.Bypassed
		case len(reinforcements) > 0:
			shownRein = reinforcements
			result.Fallback = true
		}
	}

	for _, r := range shownRein {
		result.Items = append(result.Items, r.item)
	}
	for _, n := range shownNew {
		result.Items = append(result.Items, n.item)
	}

	result.Plan = buildPlan(candidates, res, newFiltered.Suppressed)

	result.Intents = append(result.Intents, res.Intents...)
	for _, r := range shownRein {
		result.Intents = append(result.Intents, novelty.MarkShownIntent(req.UserID, reinKind, r.hash, r.item.ExistingID))
	}
	for _, n := range shownNew {
		result.Intents = append(result.Intents, novelty.MarkShownIntent(req.UserID, newKind, n.hash, n.item.ID))
	}

	if !req.DryRun {
		result.Failed = e.applier.Apply(ctx, surface.Name, result.Intents)
	}

	if result.CooldownBypassed {
		e.metrics.recordBypass(ctx, surface.Name)
	}
	if result.Fallback {
		e.metrics.recordFallback(ctx, surface.Name)
	}
	e.metrics.recordDispositions(ctx, surface.Name, result.Plan)
	e.metrics.recordLatency(ctx, surface.Name, started)

	e.logger.Debug().
		Str("surface", string(surface.Name)).
		Str("user_id", req.UserID).
		Str("mode", string(req.Mode)).
		Int("candidates", len(candidates)).
		Int("existing", len(existing)).
		Int("items", len(result.Items)).
		Int("archived", len(res.Intents)).
		Int("cooldown_suppressed", len(newFiltered.Suppressed)).
		Bool("dry_run", req.DryRun).
		Msg("Suggestions resolved")

	return result, nil
}

func buildPlan(candidates []models.Candidate, res *novelty.Resolution, cooled []candidateEntry) []PlanEntry {
	suppressedByCooldown := make(map[string]bool, len(cooled))
	for _, c := range cooled {
		suppressedByCooldown[c.item.ID] = true
	}

	decisions := make(map[string]models.SimilarityDecision, len(candidates))
	for _, group := range [][]novelty.Scored{res.Duplicates, res.Reinforce, res.New, res.NearDuplicates} {
		for _, s := range group {
			decisions[s.Candidate.ID] = s.Decision
		}
	}

	plan := make([]PlanEntry, 0, len(candidates))
	for _, c := range candidates {
		entry := PlanEntry{
			CandidateID: c.ID,
			Title:       c.Title,
			Disposition: res.Dispositions[c.ID],
			ConceptHash: similarity.ConceptHash(c.Title),
		}
		if d, ok := decisions[c.ID]; ok {
			entry.Relation = d.Relation
			entry.MatchID = d.MatchID
			entry.Score = models.RoundSimilarity(d.Score)
		}
		switch {
		case entry.Disposition == novelty.DispositionSuppressed:
			entry.Reason = ReasonNearDuplicate
		case suppressedByCooldown[c.ID]:
			entry.Disposition = novelty.DispositionSuppressed
			entry.Reason = ReasonCooldown
		}
		plan = append(plan, entry)
	}
	return plan
}
