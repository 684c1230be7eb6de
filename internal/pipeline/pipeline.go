// Package pipeline composes the admission gate, the idempotency ledger,
// the taxonomy and the corpus matcher into the ingestion flow the
// transport client drives. There is one consumer: messages are admitted
// one at a time, in delivery order, under a mutex.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/gate"
	"github.com/notekeep/gatehouse/internal/match"
	"github.com/notekeep/gatehouse/internal/state"
	"github.com/notekeep/gatehouse/internal/taxonomy"
)

// ErrNoMessageID rejects deliveries the transport failed to stamp. Without
// an id there is nothing to deduplicate on.
var ErrNoMessageID = errors.New("message id is required")

// AdmitResult is everything the caller needs to act on one admission.
type AdmitResult struct {
	Decision  gate.Decision
	Duplicate bool

	// Tags are the taxonomy tags detected in the sanitized content.
	Tags         []string
	GoodCoverage bool

	// Mentions reconciles the transport's flagged tag and person
	// mentions against the corpus; nil when the message flagged none.
	Mentions *match.BatchResult
}

// ProcessFunc turns an admitted message into its written output paths.
type ProcessFunc func(ctx context.Context, msg *gate.Message, res *AdmitResult) ([]string, error)

// Pipeline owns the ingestion order. Admit and Process serialize on the
// mutex; Complete and Fail arrive asynchronously from the external writer
// and go straight to the store.
type Pipeline struct {
	mu      sync.Mutex
	gate    *gate.Gate
	store   state.Store
	loader  *taxonomy.Loader
	matcher *match.Matcher
	logger  *zap.Logger
}

func New(g *gate.Gate, store state.Store, loader *taxonomy.Loader, matcher *match.Matcher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		gate:    g,
		store:   store,
		loader:  loader,
		matcher: matcher,
		logger:  logger,
	}
}

// Admit runs the gate, the duplicate guard, and the enrichment passes for
// one message. A refused or duplicate message causes no state change
// beyond the gate's audit entry.
func (p *Pipeline) Admit(ctx context.Context, msg *gate.Message) (*AdmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admit(ctx, msg)
}

func (p *Pipeline) admit(ctx context.Context, msg *gate.Message) (*AdmitResult, error) {
	if msg.ID == "" {
		return nil, ErrNoMessageID
	}

	decision := p.gate.Check(msg)
	if !decision.Allowed {
		p.logger.Warn("message refused",
			zap.String("message_id", msg.ID),
			zap.String("action", string(decision.Action)),
			zap.String("reason", decision.Reason),
		)
		return &AdmitResult{Decision: decision}, nil
	}

	processed, err := p.store.IsProcessed(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("Admit: %w", err)
	}
	if processed {
		p.logger.Info("duplicate delivery skipped", zap.String("message_id", msg.ID))
		return &AdmitResult{Decision: decision, Duplicate: true}, nil
	}

	if err := p.store.MarkProcessing(ctx, msg.ID, msg.ContentType); err != nil {
		return nil, fmt.Errorf("Admit: %w", err)
	}

	res := &AdmitResult{Decision: decision}
	tax := p.loader.Load()
	res.Tags = tax.MatchKeywordTags(decision.SanitizedText)
	res.GoodCoverage = taxonomy.HasGoodKeywordCoverage(res.Tags)

	if len(msg.TagMentions) > 0 || len(msg.PersonMentions) > 0 {
		batch, err := p.matcher.MatchBatch(ctx, msg.TagMentions, msg.PersonMentions)
		if err != nil {
			p.recordFailure(msg.ID, err)
			return nil, fmt.Errorf("Admit: %w", err)
		}
		res.Mentions = batch
	}

	p.logger.Info("message admitted",
		zap.String("message_id", msg.ID),
		zap.String("action", string(decision.Action)),
		zap.Int("tags", len(res.Tags)),
	)
	return res, nil
}

// Complete records the external writer's outputs for an admitted message.
func (p *Pipeline) Complete(ctx context.Context, messageID string, outputPaths []string) error {
	if err := p.store.MarkCompleted(ctx, messageID, outputPaths); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	p.logger.Info("message completed",
		zap.String("message_id", messageID),
		zap.Int("outputs", len(outputPaths)),
	)
	return nil
}

// Fail records a processing failure reported by the external writer. The
// row keeps its history: the retry count grows, completed rows stay put.
func (p *Pipeline) Fail(ctx context.Context, messageID string, cause error) error {
	if err := p.store.MarkFailed(ctx, messageID, cause); err != nil {
		return fmt.Errorf("Fail: %w", err)
	}
	p.logger.Warn("message failed",
		zap.String("message_id", messageID),
		zap.NamedError("cause", cause),
	)
	return nil
}

// Process runs the whole flow in-process: admit, hand the message to fn,
// record the outcome. The mutex spans all of it, so messages are processed
// strictly one at a time. fn is never called for a refused or duplicate
// message.
func (p *Pipeline) Process(ctx context.Context, msg *gate.Message, fn ProcessFunc) (*AdmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.admit(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !res.Decision.Allowed || res.Duplicate {
		return res, nil
	}

	outputs, err := fn(ctx, msg, res)
	if err != nil {
		p.logger.Warn("processing failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		p.recordFailure(msg.ID, err)
		return res, err
	}

	if err := p.store.MarkCompleted(ctx, msg.ID, outputs); err != nil {
		return res, fmt.Errorf("Process: %w", err)
	}
	return res, nil
}

// recordFailure moves the row to failed so it does not sit in processing
// forever. It runs on a fresh context: the request context may be the very
// thing that failed. The caller keeps the original error; a failure here
// only warns.
func (p *Pipeline) recordFailure(messageID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.MarkFailed(ctx, messageID, cause); err != nil {
		p.logger.Warn("could not record failure",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}
