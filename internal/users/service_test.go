package users

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	users  []User
	nextID int64
}

func (r *memoryRepo) Create(ctx context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.IsActive && (shared.NormalizeLogin(existing.Username) == shared.NormalizeLogin(u.Username) ||
			shared.NormalizeLogin(existing.Email) == shared.NormalizeLogin(u.Email)) {
			return User{}, fmt.Errorf("%w: duplicate", shared.ErrConflict)
		}
	}
	r.nextID++
	u.ID = r.nextID
	r.users = append(r.users, u)
	return u, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepo) FindActiveByLogin(ctx context.Context, login string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.IsActive && (shared.NormalizeLogin(u.Username) == login || shared.NormalizeLogin(u.Email) == login) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepo) ActiveLoginTaken(ctx context.Context, usernameNorm, emailNorm string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.IsActive && (shared.NormalizeLogin(u.Username) == usernameNorm || shared.NormalizeLogin(u.Email) == emailNorm) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) Deactivate(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].IsActive = false
			return r.users[i], nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepo) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].PasswordHash = hash
			return nil
		}
	}
	return ErrUserNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter, window shared.ListFilters) ([]User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []User
	for _, u := range r.users {
		if filter.ActiveOnly && !u.IsActive {
			continue
		}
		if filter.MarketID != nil && (u.MarketID == nil || *u.MarketID != *filter.MarketID) {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

type fakeMarkets map[int64]bool

func (m fakeMarkets) Exists(_ context.Context, id int64) (bool, error) {
	return m[id], nil
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func newTestService() (*Service, *memoryRepo) {
	repo := &memoryRepo{}
	return NewService(repo, fakeMarkets{1: true}, plainHasher{}, nil, nil, nil, nil), repo
}

func validInput() CreateInput {
	market := int64(1)
	return CreateInput{
		Username:   "anna.k",
		Email:      "anna@example.com",
		FullName:   "Anna Kowalski",
		Password:   "s3cret-pass",
		Role:       shared.RoleEmployee,
		MarketID:   &market,
		Department: "Bakery",
	}
}

func TestCreateUserStoresOnlyHash(t *testing.T) {
	svc, repo := newTestService()
	u, err := svc.CreateUser(t.Context(), 1, validInput())
	require.NoError(t, err)
	require.True(t, u.IsActive)
	require.Equal(t, "hashed:s3cret-pass", repo.users[0].PasswordHash)
}

func TestCreateUserConflictsAmongActiveUsers(t *testing.T) {
	svc, _ := newTestService()
	first, err := svc.CreateUser(t.Context(), 1, validInput())
	require.NoError(t, err)

	dup := validInput()
	dup.Username = "ANNA.K"
	dup.Email = "other@example.com"
	_, err = svc.CreateUser(t.Context(), 1, dup)
	require.ErrorIs(t, err, shared.ErrConflict)

	dup = validInput()
	dup.Username = "someone"
	dup.Email = "Anna@Example.com"
	_, err = svc.CreateUser(t.Context(), 1, dup)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.DeactivateUser(t.Context(), 1, first.ID)
	require.NoError(t, err)
	again, err := svc.CreateUser(t.Context(), 1, validInput())
	require.NoError(t, err)
	require.NotEqual(t, first.ID, again.ID)
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newTestService()

	in := validInput()
	in.Email = "nope"
	_, err := svc.CreateUser(t.Context(), 1, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = validInput()
	in.Role = "superuser"
	_, err = svc.CreateUser(t.Context(), 1, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = validInput()
	in.Password = strings.Repeat("€", 40)
	_, err = svc.CreateUser(t.Context(), 1, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = validInput()
	missing := int64(7)
	in.MarketID = &missing
	_, err = svc.CreateUser(t.Context(), 1, in)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeactivateUser(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.CreateUser(t.Context(), 1, validInput())
	require.NoError(t, err)

	out, err := svc.DeactivateUser(t.Context(), 1, u.ID)
	require.NoError(t, err)
	require.False(t, out.IsActive)
	out, err = svc.DeactivateUser(t.Context(), 1, u.ID)
	require.NoError(t, err)
	require.False(t, out.IsActive)

	kept, err := svc.LookupUser(t.Context(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "anna.k", kept.Username)

	_, err = svc.DeactivateUser(t.Context(), 1, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.LookupUser(t.Context(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHandlerCreateAndGet(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	router := chi.NewRouter()
	router.Route("/users", h.MountRoutes)

	send := func(method, path, body string, id int64, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: id, Role: role}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	body := `{"username":"ben","email":"ben@example.com","full_name":"Ben","password":"longenough","role":"employee"}`
	require.Equal(t, http.StatusForbidden, send(http.MethodPost, "/users", body, 5, shared.RoleEmployee).Code)
	rr := send(http.MethodPost, "/users", body, 9, shared.RoleAdmin)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.NotContains(t, rr.Body.String(), "longenough")
	require.Equal(t, http.StatusConflict, send(http.MethodPost, "/users", body, 9, shared.RoleAdmin).Code)

	require.Equal(t, http.StatusOK, send(http.MethodGet, "/users/1", "", 1, shared.RoleEmployee).Code)
	require.Equal(t, http.StatusForbidden, send(http.MethodGet, "/users/1", "", 2, shared.RoleEmployee).Code)
	require.Equal(t, http.StatusOK, send(http.MethodPost, "/users/1/deactivate", "", 9, shared.RoleAdmin).Code)
}
