package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	jobmetrics "github.com/odyssey-erp/odyssey-hr/internal/jobs"
)

// CarryForwarder is the ledger slice used by the job.
type CarryForwarder interface {
	CarryForwardAll(ctx context.Context, fromYear, toYear, maxDays int) (budget.CarryForwardSummary, error)
	MaxCarryOver() int
}

// CarryForwardJob moves leftover days of every active user.
type CarryForwardJob struct {
	Budget  CarryForwarder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCarryForwardJob initialises the carry-forward handler.
func NewCarryForwardJob(ledger CarryForwarder, logger *slog.Logger, metrics *jobmetrics.Metrics) *CarryForwardJob {
	return &CarryForwardJob{
		Budget:  ledger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the carry-forward for the payload years.
func (j *CarryForwardJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Budget == nil {
		return errors.New("carry forward: handler not configured")
	}
	var payload CarryForwardPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("carry forward: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run executes the carry-forward directly. Failed users make the run fail so
// the task is retried; users already carried are overwritten with the same
// value.
func (j *CarryForwardJob) Run(ctx context.Context, payload CarryForwardPayload) (summary budget.CarryForwardSummary, resultErr error) {
	from, to := payload.FromYear, payload.ToYear
	if from == 0 {
		from = j.clock().Year() - 1
	}
	if to == 0 {
		to = from + 1
	}
	maxDays := j.Budget.MaxCarryOver()
	if payload.MaxDays != nil {
		maxDays = *payload.MaxDays
	}

	tracker := j.Metrics.Track(TaskBudgetCarryForward)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("from_year", from), slog.Int("to_year", to), slog.Int("max_days", maxDays))
	logger.Info("starting carry forward")
	start := time.Now()

	summary, err := j.Budget.CarryForwardAll(ctx, from, to, maxDays)
	j.Metrics.AddUsers(TaskBudgetCarryForward, "processed", summary.Processed)
	j.Metrics.AddUsers(TaskBudgetCarryForward, "skipped", len(summary.Skipped))
	j.Metrics.AddUsers(TaskBudgetCarryForward, "failed", len(summary.Failed))
	if err != nil {
		logger.Error("carry forward failed", slog.Any("error", err))
		return summary, err
	}
	if len(summary.Failed) > 0 {
		logger.Error("carry forward incomplete", slog.Any("failed_users", summary.Failed))
		return summary, fmt.Errorf("carry forward: %d users failed", len(summary.Failed))
	}
	logger.Info("completed carry forward",
		slog.Int("processed", summary.Processed),
		slog.Int("skipped", len(summary.Skipped)),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *CarryForwardJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
