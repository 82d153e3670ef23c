package cli

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-hr/internal/auth"
	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/markets"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/internal/users"
)

//go:embed fixtures/seed.json
var defaultFixtures []byte

// Fixtures describe seed data. Keys are generated by the database; users
// and budgets refer to markets and users by name.
type Fixtures struct {
	Markets []markets.MarketForm `json:"markets"`
	Users   []FixtureUser        `json:"users"`
	Budgets []FixtureBudget      `json:"budgets"`
}

// FixtureUser is a user without credentials; a password is generated.
type FixtureUser struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Role       string `json:"role"`
	Market     string `json:"market"`
	Department string `json:"department"`
}

// FixtureBudget seeds the budget of the seed year.
type FixtureBudget struct {
	Username        string `json:"username"`
	EntitlementDays int    `json:"entitlement_days"`
	CarryOverDays   int    `json:"carry_over_days"`
}

// LoadFixtures parses r, or the embedded fixtures when r is nil.
func LoadFixtures(r io.Reader) (Fixtures, error) {
	var data []byte
	var err error
	if r == nil {
		data = defaultFixtures
	} else if data, err = io.ReadAll(r); err != nil {
		return Fixtures{}, err
	}
	var f Fixtures
	if err := json.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("seed: parse fixtures: %w", err)
	}
	return f, nil
}

// MarketCreator creates markets.
type MarketCreator interface {
	Create(ctx context.Context, actorID int64, form markets.MarketForm) (markets.Market, error)
	FindByName(ctx context.Context, name string) (markets.Market, error)
}

// UserCreator creates users.
type UserCreator interface {
	CreateUser(ctx context.Context, actorID int64, in users.CreateInput) (users.User, error)
	FindActiveByLogin(ctx context.Context, login string) (users.User, error)
}

// Seeder loads fixtures through the services so every rule applies.
type Seeder struct {
	Markets MarketCreator
	Users   UserCreator
	Budgets interface {
		SetEntitlement(ctx context.Context, in budget.EntitlementInput) (budget.Record, error)
	}
	Out io.Writer
}

// Seed creates the fixtures for year. Markets and users that already exist
// are kept, so seeding twice is harmless.
func (s Seeder) Seed(ctx context.Context, f Fixtures, year int) error {
	marketIDs := make(map[string]int64, len(f.Markets))
	for _, form := range f.Markets {
		m, err := s.Markets.Create(ctx, 0, form)
		if errors.Is(err, shared.ErrConflict) {
			if m, err = s.Markets.FindByName(ctx, form.Name); err != nil {
				return fmt.Errorf("seed: market %s: %w", form.Name, err)
			}
			marketIDs[form.Name] = m.ID
			fmt.Fprintf(s.Out, "market  %-20s exists, id=%d\n", m.Name, m.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed: market %s: %w", form.Name, err)
		}
		marketIDs[form.Name] = m.ID
		fmt.Fprintf(s.Out, "market  %-20s id=%d\n", m.Name, m.ID)
	}

	for _, fu := range f.Users {
		in := users.CreateInput{
			Username:   fu.Username,
			Email:      fu.Email,
			FullName:   fu.FullName,
			Role:       fu.Role,
			Department: fu.Department,
		}
		if fu.Market != "" {
			id, ok := marketIDs[fu.Market]
			if !ok {
				return fmt.Errorf("seed: user %s: unknown market %q", fu.Username, fu.Market)
			}
			in.MarketID = &id
		}
		password, err := auth.GeneratePassword(auth.GeneratedLength)
		if err != nil {
			return err
		}
		in.Password = password
		u, err := s.Users.CreateUser(ctx, 0, in)
		if errors.Is(err, shared.ErrConflict) {
			fmt.Fprintf(s.Out, "user    %-20s exists, skipped\n", fu.Username)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed: user %s: %w", fu.Username, err)
		}
		fmt.Fprintf(s.Out, "user    %-20s id=%d password=%s\n", u.Username, u.ID, password)
	}

	for _, fb := range f.Budgets {
		u, err := s.Users.FindActiveByLogin(ctx, fb.Username)
		if err != nil {
			return fmt.Errorf("seed: budget %s: %w", fb.Username, err)
		}
		rec, err := s.Budgets.SetEntitlement(ctx, budget.EntitlementInput{
			UserID:          u.ID,
			Year:            year,
			EntitlementDays: fb.EntitlementDays,
			CarryOverDays:   fb.CarryOverDays,
		})
		if err != nil {
			return fmt.Errorf("seed: budget %s: %w", fb.Username, err)
		}
		fmt.Fprintf(s.Out, "budget  %-20s %d: %d+%d days\n", fb.Username, year, rec.EntitlementDays, rec.CarryOverDays)
	}
	return nil
}
