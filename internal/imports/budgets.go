package imports

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/internal/users"
)

var budgetColumns = []string{"username", "year", "entitlement_days", "carry_over_days"}

// ErrMalformed marks an import file that could not be parsed.
var ErrMalformed = fmt.Errorf("imports: malformed file: %w", shared.ErrValidation)

// UserFinder resolves usernames to active users.
type UserFinder interface {
	FindActiveByLogin(ctx context.Context, login string) (users.User, error)
}

// EntitlementSetter applies a parsed row.
type EntitlementSetter interface {
	SetEntitlement(ctx context.Context, in budget.EntitlementInput) (budget.Record, error)
}

// BudgetRow is one parsed line of the import file.
type BudgetRow struct {
	Line            int
	Username        string
	Year            int
	EntitlementDays int
	CarryOverDays   int
}

// SkippedRow reports a row that was not applied.
type SkippedRow struct {
	Line     int    `json:"line"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// BudgetSummary reports the outcome of an import.
type BudgetSummary struct {
	Applied int          `json:"applied"`
	Skipped []SkippedRow `json:"skipped"`
}

// BudgetImporter loads budget records from CSV.
type BudgetImporter struct {
	users  UserFinder
	ledger EntitlementSetter
	retry  db.RetryPolicy
	logger *slog.Logger
}

// NewBudgetImporter constructs BudgetImporter.
func NewBudgetImporter(finder UserFinder, ledger EntitlementSetter, retry db.RetryPolicy, logger *slog.Logger) *BudgetImporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetImporter{users: finder, ledger: ledger, retry: retry, logger: logger}
}

// ParseBudgets reads every row before anything is written. Any malformed
// row aborts the whole file.
func ParseBudgets(r io.Reader) ([]BudgetRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range budgetColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: header must contain %s", ErrMalformed, strings.Join(budgetColumns, ","))
		}
	}

	var rows []BudgetRow
	var problems []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			problems = append(problems, err.Error())
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			break
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		row, err := parseBudgetRow(record, index)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		row.Line = line
		rows = append(rows, row)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(problems, "; "))
	}
	return rows, nil
}

func parseBudgetRow(record []string, index map[string]int) (BudgetRow, error) {
	field := func(name string) string {
		i := index[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	row := BudgetRow{Username: field("username")}
	if row.Username == "" {
		return BudgetRow{}, errors.New("username is empty")
	}
	var err error
	if row.Year, err = parseInt(field("year"), "year", 1, 9999); err != nil {
		return BudgetRow{}, err
	}
	if row.EntitlementDays, err = parseInt(field("entitlement_days"), "entitlement_days", 0, 366); err != nil {
		return BudgetRow{}, err
	}
	if row.CarryOverDays, err = parseInt(field("carry_over_days"), "carry_over_days", 0, 366); err != nil {
		return BudgetRow{}, err
	}
	return row, nil
}

func parseInt(raw, name string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", name, raw)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s %d out of range %d..%d", name, v, lo, hi)
	}
	return v, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Import parses r and applies each row on behalf of actorID. Unknown and
// inactive users are skipped; ledger errors stop the import.
func (i *BudgetImporter) Import(ctx context.Context, actorID int64, r io.Reader) (BudgetSummary, error) {
	rows, err := ParseBudgets(r)
	if err != nil {
		return BudgetSummary{}, err
	}
	summary := BudgetSummary{Skipped: []SkippedRow{}}
	for _, row := range rows {
		user, err := i.users.FindActiveByLogin(ctx, row.Username)
		if errors.Is(err, shared.ErrNotFound) {
			summary.Skipped = append(summary.Skipped, SkippedRow{Line: row.Line, Username: row.Username, Reason: "unknown or inactive user"})
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("imports: line %d: %w", row.Line, err)
		}
		in := budget.EntitlementInput{
			UserID:          user.ID,
			Year:            row.Year,
			EntitlementDays: row.EntitlementDays,
			CarryOverDays:   row.CarryOverDays,
			ActorID:         actorID,
		}
		err = db.Retry(ctx, i.retry, func(ctx context.Context) error {
			_, err := i.ledger.SetEntitlement(ctx, in)
			return err
		})
		if err != nil {
			return summary, fmt.Errorf("imports: line %d (%s %d): %w", row.Line, row.Username, row.Year, err)
		}
		summary.Applied++
	}
	i.logger.Info("budget import finished", slog.Int("applied", summary.Applied), slog.Int("skipped", len(summary.Skipped)))
	return summary, nil
}
