package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-hr/internal/jobs"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/internal/users"
)

// UserLookup resolves the recipient of a notice.
type UserLookup interface {
	LookupUser(ctx context.Context, id int64) (users.User, error)
}

// DecisionNoticeJob tells requesters about approvals, rejections and
// cancellations.
type DecisionNoticeJob struct {
	Users   UserLookup
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDecisionNoticeJob initialises the notice handler.
func NewDecisionNoticeJob(lookup UserLookup, logger *slog.Logger, metrics *jobmetrics.Metrics) *DecisionNoticeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionNoticeJob{Users: lookup, Logger: logger, Metrics: metrics}
}

// Handle processes TaskVacationDecisionNotice tasks.
func (j *DecisionNoticeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload DecisionNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decision notice: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskVacationDecisionNotice)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	user, err := j.Users.LookupUser(ctx, payload.UserID)
	if errors.Is(err, shared.ErrNotFound) {
		j.Logger.Warn("decision notice recipient missing", slog.Int64("user_id", payload.UserID))
		return fmt.Errorf("decision notice: %w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	// Placeholder: mail delivery.
	j.Logger.Info("vacation decision notice",
		slog.String("notice_id", payload.NoticeID),
		slog.Int64("request_id", payload.RequestID),
		slog.String("to", user.Email),
		slog.String("status", string(payload.Status)),
		slog.Int("days", payload.Days),
		slog.String("reason", payload.Reason),
	)
	return nil
}
