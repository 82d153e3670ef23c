package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-hr/internal/vacation"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBudgetCarryForward moves leftover days into the next year.
	TaskBudgetCarryForward = "budget:carry_forward"
	// TaskVacationDecisionNotice informs a requester about a decision.
	TaskVacationDecisionNotice = "vacation:decision_notice"
	// TaskIdempotencyCleanup prunes expired submission keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// CarryForwardCron runs the carry-forward on January 1st, 01:00 UTC.
const CarryForwardCron = "0 1 1 1 *"

// IdempotencyCleanupCron runs the key cleanup daily at 02:30 UTC.
const IdempotencyCleanupCron = "30 2 * * *"

// CarryForwardPayload configures a carry-forward run. A zero FromYear means
// the year before the run date; a nil MaxDays means the configured cap.
type CarryForwardPayload struct {
	FromYear int  `json:"from_year,omitempty"`
	ToYear   int  `json:"to_year,omitempty"`
	MaxDays  *int `json:"max_days,omitempty"`
}

// DecisionNoticePayload carries a decision to the notification worker.
type DecisionNoticePayload struct {
	NoticeID string `json:"notice_id"`
	vacation.Decision
}

// NewCarryForwardTask constructs an Asynq task.
func NewCarryForwardTask(payload CarryForwardPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBudgetCarryForward, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewDecisionNoticeTask constructs an Asynq task with a fresh notice id.
func NewDecisionNoticeTask(d vacation.Decision) (*asynq.Task, error) {
	payload := DecisionNoticePayload{NoticeID: uuid.NewString(), Decision: d}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVacationDecisionNotice, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(payload.NoticeID),
		asynq.MaxRetry(5),
	), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task without payload.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// TaskByName builds a task for manual triggering.
func TaskByName(name string, payload CarryForwardPayload) (*asynq.Task, error) {
	switch name {
	case TaskBudgetCarryForward, "carry-forward":
		return NewCarryForwardTask(payload)
	case TaskIdempotencyCleanup, "idempotency-cleanup":
		return NewIdempotencyCleanupTask(), nil
	}
	return nil, fmt.Errorf("jobs: unknown task %q", name)
}
