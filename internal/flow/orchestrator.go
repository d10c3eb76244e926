package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// recordNamespace scopes deterministic record IDs derived from inbound message IDs.
var recordNamespace = uuid.MustParse("6f1c2f0e-8d4b-5a57-9a43-2f6a3c1d9e70")

// RecordID returns the record ID for a turn. With a message ID the result is
// stable, so a redelivered message maps onto the same record.
func RecordID(conversationID, messageID string) string {
	if messageID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(recordNamespace, []byte(conversationID+"/"+messageID)).String()
}

// TurnResult is the outcome of one processed parent message.
type TurnResult struct {
	Bundle models.TurnBundle
	Record models.InteractionRecord
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers an observer for turn and generation events.
func WithObserver(o TurnObserver) Option {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observer = o
		}
	}
}

// WithClock overrides the time source used for record timestamps and latencies.
func WithClock(now func() time.Time) Option {
	return func(orc *Orchestrator) {
		if now != nil {
			orc.now = now
		}
	}
}

// WithConversationLocks makes the orchestrator serialize turns on locks shared
// with other orchestrators over the same store.
func WithConversationLocks(l *ConversationLocks) Option {
	return func(orc *Orchestrator) {
		if l != nil {
			orc.locks = l
		}
	}
}

// Orchestrator runs parent turns for the conversations of one scenario configuration.
type Orchestrator struct {
	store      store.InteractionStore
	cfg        *scenario.Config
	gen        Generator
	classifier *Classifier
	dispatcher *Dispatcher
	observer   TurnObserver
	now        func() time.Time
	locks      *ConversationLocks
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.InteractionStore, gen Generator, cfg *scenario.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		cfg:      cfg,
		observer: noopObserver{},
		now:      time.Now,
		locks:    NewConversationLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gen = &observedGenerator{next: gen, observer: o.observer, now: o.now}
	o.classifier = NewClassifier(o.gen)
	o.dispatcher = NewDispatcher(o.gen)
	slog.Debug("NewOrchestrator: created", "language", cfg.Language, "scenario", cfg.Scenario.Name)
	return o
}

// Scenario returns the configuration the orchestrator runs.
func (o *Orchestrator) Scenario() *scenario.Config {
	return o.cfg
}

// ProcessTurn handles one inbound parent message and persists exactly one record.
// A redelivered messageID returns the stored turn without generating again.
// Nothing is persisted when the turn fails.
func (o *Orchestrator) ProcessTurn(ctx context.Context, conversationID, message, messageID string) (TurnResult, error) {
	if conversationID == "" {
		return TurnResult{}, models.ErrEmptyConversationID
	}
	if message == "" {
		return TurnResult{}, models.ErrEmptyMessage
	}

	unlock := o.locks.Lock(conversationID)
	defer unlock()

	start := o.now()
	tag, rec, err := o.runTurn(ctx, conversationID, message, messageID)
	outcome := TurnOutcome{Flow: tag, Duration: o.now().Sub(start), Err: err}
	if err != nil {
		o.observer.ObserveTurn(outcome)
		return TurnResult{}, err
	}
	outcome.Record = &rec
	o.observer.ObserveTurn(outcome)

	slog.Info("Orchestrator.ProcessTurn: turn processed", "conversationID", conversationID, "flow", tag, "stage", rec.Stage, "blocked", rec.BlockedMessage)
	return TurnResult{Bundle: FormatBundle(rec, o.cfg.StaticMessages), Record: rec}, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, conversationID, message, messageID string) (FlowTag, models.InteractionRecord, error) {
	history, err := o.store.FetchHistory(ctx, conversationID)
	if err != nil {
		slog.Error("Orchestrator.ProcessTurn: fetch history failed", "conversationID", conversationID, "error", err)
		return "", models.InteractionRecord{}, &StoreUnavailableError{Op: "fetch history", Err: err}
	}

	id := RecordID(conversationID, messageID)
	if messageID != "" {
		for _, prev := range history {
			if prev.ID == id {
				slog.Debug("Orchestrator.ProcessTurn: redelivered message, replaying stored turn", "conversationID", conversationID, "messageID", messageID)
				return FlowReplay, prev, nil
			}
		}
	}

	tag, err := DetermineFlow(history)
	if err != nil {
		slog.Error("Orchestrator.ProcessTurn: cannot determine flow", "conversationID", conversationID, "error", err)
		return "", models.InteractionRecord{}, err
	}
	p := Project(history, o.cfg.Scenario.ConversationInitiator)
	slog.Debug("Orchestrator.ProcessTurn: running flow", "conversationID", conversationID, "flow", tag, "turn", p.TurnCount)

	var rec models.InteractionRecord
	switch tag {
	case FlowFeedbackQ1:
		rec = o.feedbackQuestion1(message)
	case FlowFeedbackQ2:
		rec, err = o.feedbackQuestion2(ctx, message, history[len(history)-1], p)
	default:
		rec, err = o.normalTurn(ctx, message, p)
	}
	if err != nil {
		return tag, models.InteractionRecord{}, err
	}

	rec.ID = id
	rec.ConversationID = conversationID
	rec.CreatedAt = o.now().UTC()
	if err := o.store.AppendOrReplace(ctx, rec); err != nil {
		slog.Error("Orchestrator.ProcessTurn: persist failed", "conversationID", conversationID, "recordID", rec.ID, "error", err)
		return tag, models.InteractionRecord{}, &StoreUnavailableError{Op: "append", Err: err}
	}
	return tag, rec, nil
}

func (o *Orchestrator) normalTurn(ctx context.Context, message string, p Projections) (models.InteractionRecord, error) {
	cls, err := o.classifier.Classify(ctx, message, p)
	if err != nil {
		return models.InteractionRecord{}, err
	}
	rec, err := o.dispatcher.Dispatch(ctx, message, cls, p)
	if err != nil {
		return models.InteractionRecord{}, err
	}
	if cls.Decision == models.DecisionEndConversation {
		rec.Stage = models.StageFeedbackQuestion1
		rec.Message = o.cfg.StaticMessages.PositiveQuestion
	}
	return rec, nil
}

func (o *Orchestrator) feedbackQuestion1(message string) models.InteractionRecord {
	return models.InteractionRecord{
		ParentMessage:    message,
		PositiveFeedback: message,
		Stage:            models.StageFeedbackQuestion2,
		Message:          o.cfg.StaticMessages.NegativeQuestion,
	}
}

func (o *Orchestrator) feedbackQuestion2(ctx context.Context, message string, last models.InteractionRecord, p Projections) (models.InteractionRecord, error) {
	summary, err := o.gen.GenerateSummary(ctx, SummaryRequest{
		FullHistory:      p.FullHistory,
		PositiveFeedback: last.PositiveFeedback,
		NegativeFeedback: message,
	})
	if err != nil {
		slog.Error("Orchestrator.ProcessTurn: summary generation failed", "error", err)
		return models.InteractionRecord{}, &GenerationError{Capability: CapabilitySummary, Err: err}
	}
	return models.InteractionRecord{
		ParentMessage:    message,
		PositiveFeedback: last.PositiveFeedback,
		NegativeFeedback: message,
		Summary:          summary,
		Stage:            models.StageFeedbackQuestion2,
	}, nil
}

// LatestBundle formats the last stored record of a conversation.
func (o *Orchestrator) LatestBundle(ctx context.Context, conversationID string) (models.TurnBundle, error) {
	history, err := o.History(ctx, conversationID)
	if err != nil {
		return models.TurnBundle{}, err
	}
	if len(history) == 0 {
		return models.TurnBundle{}, models.ErrNoHistory
	}
	return FormatBundle(history[len(history)-1], o.cfg.StaticMessages), nil
}

// History returns the stored records of a conversation in append order.
func (o *Orchestrator) History(ctx context.Context, conversationID string) ([]models.InteractionRecord, error) {
	if conversationID == "" {
		return nil, models.ErrEmptyConversationID
	}
	history, err := o.store.FetchHistory(ctx, conversationID)
	if err != nil {
		slog.Error("Orchestrator.History: fetch failed", "conversationID", conversationID, "error", err)
		return nil, &StoreUnavailableError{Op: "fetch history", Err: err}
	}
	return history, nil
}

// ConversationLocks serializes turns per conversation ID. Entries are dropped
// once no turn holds or waits on them.
type ConversationLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewConversationLocks creates an empty lock table.
func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *ConversationLocks) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *ConversationLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
