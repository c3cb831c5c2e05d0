package researcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"research/internals/backoff"
	"research/internals/schemas"
	"research/internals/store"
	"research/sdk"
)

var (
	// ErrCancelled is the distinct outcome of a local interrupt. The remote
	// interaction is left running and may still complete; the record keeps
	// its last observed non-terminal status.
	ErrCancelled = errors.New("cancelled locally, remote interaction may still complete")
	// ErrNoContent marks an interaction that reached COMPLETED but returned
	// no report text. The record is persisted COMPLETED with a null report.
	ErrNoContent = errors.New("interaction completed without report content")
)

// Update is a progress notification emitted during observation. Thought
// text is informational only; Delta fragments are provisional and may be
// superseded by the authoritative report.
type Update struct {
	TaskID        int64
	InteractionID string
	Status        schemas.TaskStatus
	Thought       string
	Delta         string
}

// Request describes one research run. ContextRefs and MCPServers are opaque
// values passed through to the service unmodified.
type Request struct {
	Query       string
	Model       string
	ParentID    string
	ContextRefs []string
	MCPServers  []string
}

// Outcome reports where a run ended up. TaskID is always set once a local
// record exists, so failures can be inspected later via show.
type Outcome struct {
	TaskID        int64
	InteractionID string
	Status        schemas.TaskStatus
	Report        string
}

type Option func(*Researcher)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Researcher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithBackoff(cfg backoff.Config) Option {
	return func(r *Researcher) {
		r.backoff = cfg
	}
}

func WithProgress(fn func(Update)) Option {
	return func(r *Researcher) {
		r.progress = fn
	}
}

// Researcher owns the interaction lifecycle: submission, observation over
// the live stream with a one-time polling fallback, report extraction and
// persistence.
type Researcher struct {
	client   *sdk.Client
	store    *store.Store
	logger   *slog.Logger
	backoff  backoff.Config
	progress func(Update)
}

func New(client *sdk.Client, st *store.Store, opts ...Option) *Researcher {
	r := &Researcher{
		client:  client,
		store:   st,
		logger:  slog.Default(),
		backoff: backoff.Poll(10 * time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives one interaction from submission to a terminal state. The
// record moves PENDING before submission, IN_PROGRESS once the remote id is
// known, and exactly one of COMPLETED/FAILED/ERROR afterwards; terminal
// status and report are persisted in a single write.
func (r *Researcher) Run(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("query must not be empty")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("model must not be empty")
	}

	taskID, err := r.store.Create(ctx, req.Query, req.Model, req.ParentID)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{TaskID: taskID, Status: schemas.TaskStatusPending}
	logger := r.logger.With(slog.Int64("task_id", taskID))

	interaction, err := r.client.CreateInteraction(ctx, schemas.InteractionRequest{
		Query:       req.Query,
		Model:       req.Model,
		ParentID:    req.ParentID,
		ContextRefs: req.ContextRefs,
		MCPServers:  req.MCPServers,
	})
	if err != nil {
		// Submission never happened remotely; the record stays PENDING.
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("task %d: %w", taskID, ErrCancelled)
		}
		return outcome, fmt.Errorf("task %d: submit interaction: %w", taskID, err)
	}

	outcome.InteractionID = interaction.ID
	outcome.Status = schemas.TaskStatusInProgress
	logger = logger.With(slog.String("interaction_id", interaction.ID))
	logger.Info("Interaction submitted", slog.String("status", string(interaction.Status)))

	writer := newRecordWriter(r.store, logger)
	defer writer.Close()
	writer.Enqueue(store.UpdateParams{
		ID:            taskID,
		Status:        schemas.TaskStatusInProgress,
		InteractionID: interaction.ID,
	})
	r.notify(Update{TaskID: taskID, InteractionID: interaction.ID, Status: schemas.TaskStatusInProgress})

	final, err := r.observe(ctx, logger, taskID, interaction.ID)
	if err != nil {
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("task %d: %w", taskID, ErrCancelled)
		}
		// A non-retryable failure during observation is persisted
		// truthfully before being re-raised.
		outcome.Status = schemas.TaskStatusError
		writer.Enqueue(store.UpdateParams{
			ID:          taskID,
			Status:      schemas.TaskStatusError,
			ErrorDetail: err.Error(),
		})
		if cerr := writer.Close(); cerr != nil {
			logger.Error("Failed to persist error state", slog.String("error", cerr.Error()))
		}
		return outcome, fmt.Errorf("task %d: %w", taskID, err)
	}

	outcome.Status = final.Status
	switch final.Status {
	case schemas.TaskStatusCompleted:
		outcome.Report = final.Report
		writer.Enqueue(store.UpdateParams{
			ID:     taskID,
			Status: schemas.TaskStatusCompleted,
			Report: final.Report,
		})
		// A run only succeeds if its terminal state actually landed.
		if cerr := writer.Close(); cerr != nil {
			return outcome, fmt.Errorf("task %d: %w", taskID, cerr)
		}
		if final.Report == "" {
			return outcome, fmt.Errorf("task %d: %w", taskID, ErrNoContent)
		}
		logger.Info("Interaction completed", slog.Int("report_bytes", len(final.Report)))
		return outcome, nil
	default:
		detail := final.ErrorDetail
		if detail == "" {
			detail = "interaction reported " + string(final.Status)
		}
		writer.Enqueue(store.UpdateParams{
			ID:          taskID,
			Status:      final.Status,
			ErrorDetail: detail,
		})
		if cerr := writer.Close(); cerr != nil {
			return outcome, fmt.Errorf("task %d: %w", taskID, cerr)
		}
		return outcome, fmt.Errorf("task %d: interaction %s: %s", taskID, strings.ToLower(string(final.Status)), detail)
	}
}

// observe watches the interaction until a terminal status is known, then
// returns the authoritative final payload. The live stream is tried first;
// on the first disconnect without a terminal event it falls back to polling
// exactly once. No stream reconnect is ever attempted.
func (r *Researcher) observe(ctx context.Context, logger *slog.Logger, taskID int64, interactionID string) (*schemas.Interaction, error) {
	err := r.consumeStream(ctx, logger, taskID, interactionID)
	switch {
	case err == nil:
		// Terminal event seen on the stream. The final report is still
		// extracted from the authoritative status payload, not from the
		// accumulated deltas.
	case errors.Is(err, sdk.ErrStreamDisconnected):
		logger.Warn("Stream ended without terminal event, falling back to polling")
	default:
		return nil, err
	}
	return r.pollUntilTerminal(ctx, logger, taskID, interactionID)
}

// consumeStream drains the event feed. It returns nil once a terminal event
// arrives, ErrStreamDisconnected on any transport failure, or the context
// error on cancellation.
func (r *Researcher) consumeStream(ctx context.Context, logger *slog.Logger, taskID int64, interactionID string) error {
	stream, err := r.client.StreamInteraction(ctx, interactionID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("Stream connection failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", sdk.ErrStreamDisconnected, err)
	}
	defer stream.Close()

	var provisional strings.Builder
	for {
		event, err := stream.Next()
		if err != nil {
			if provisional.Len() > 0 {
				logger.Debug("Discarding provisional stream content", slog.Int("bytes", provisional.Len()))
			}
			return err
		}

		switch event.Kind {
		case schemas.EventThought:
			logger.Debug("Thought", slog.String("text", event.Text))
			r.notify(Update{TaskID: taskID, InteractionID: interactionID, Thought: event.Text})
		case schemas.EventContentDelta:
			provisional.WriteString(event.Text)
			r.notify(Update{TaskID: taskID, InteractionID: interactionID, Delta: event.Text})
		case schemas.EventTerminal:
			logger.Info("Stream reported terminal status", slog.String("status", string(event.Status)))
			return nil
		}
	}
}

// pollUntilTerminal issues get-status requests under the capped backoff
// schedule until a terminal status is observed. Transient failures advance
// the same schedule as a normal "still in progress" response.
func (r *Researcher) pollUntilTerminal(ctx context.Context, logger *slog.Logger, taskID int64, interactionID string) (*schemas.Interaction, error) {
	var final *schemas.Interaction
	var last schemas.TaskStatus
	errStillRunning := errors.New("interaction still running")

	err := retry.Do(ctx, r.backoff.Backoff(), func(ctx context.Context) error {
		interaction, err := r.client.GetInteraction(ctx, interactionID)
		if err != nil {
			if sdk.Retryable(err) {
				logger.Debug("Transient poll failure", slog.String("error", err.Error()))
				return retry.RetryableError(err)
			}
			return err
		}

		if interaction.Status != last {
			logger.Info("Interaction status", slog.String("status", string(interaction.Status)))
			r.notify(Update{TaskID: taskID, InteractionID: interactionID, Status: interaction.Status})
			last = interaction.Status
		}
		if !interaction.Status.Terminal() {
			return retry.RetryableError(errStillRunning)
		}
		final = interaction
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (r *Researcher) notify(update Update) {
	if r.progress != nil {
		r.progress(update)
	}
}
