package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

func TestResetFlowGeneratedPath(t *testing.T) {
	var f ResetFlow
	require.Equal(t, ResetIdle, f.State())
	_, ok := f.Password()
	require.False(t, ok)

	f, err := f.ShowGenerated("Abcdefgh2345")
	require.NoError(t, err)
	pw, ok := f.Password()
	require.True(t, ok)
	require.Equal(t, "Abcdefgh2345", pw)

	f, err = f.Submit("")
	require.NoError(t, err)
	require.Equal(t, ResetSubmitting, f.State())

	_, err = f.Cancel()
	require.ErrorIs(t, err, ErrIllegalTransition)

	back, err := f.Finish(errors.New("db down"))
	require.NoError(t, err)
	require.Equal(t, ResetShowingGenerated, back.State())

	done, err := f.Finish(nil)
	require.NoError(t, err)
	require.Equal(t, ResetIdle, done.State())
}

func TestResetFlowCustomPath(t *testing.T) {
	var f ResetFlow
	f, err := f.ChooseCustom()
	require.NoError(t, err)
	_, ok := f.Password()
	require.False(t, ok)

	_, err = f.Submit("")
	require.ErrorIs(t, err, ErrIllegalTransition)

	f, err = f.Submit("my-own-pass")
	require.NoError(t, err)
	require.False(t, f.Generated())

	back, err := f.Finish(errors.New("rejected"))
	require.NoError(t, err)
	require.Equal(t, ResetEnteringCustom, back.State())
}

func TestResetFlowRejectsIllegalEvents(t *testing.T) {
	var f ResetFlow
	_, err := f.Submit("x")
	require.ErrorIs(t, err, ErrIllegalTransition)
	_, err = f.Finish(nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
	_, err = f.ShowGenerated("")
	require.ErrorIs(t, err, ErrIllegalTransition)

	custom, err := f.ChooseCustom()
	require.NoError(t, err)
	_, err = custom.ShowGenerated("pw")
	require.ErrorIs(t, err, ErrIllegalTransition)
	idle, err := custom.Cancel()
	require.NoError(t, err)
	require.Equal(t, ResetIdle, idle.State())
}

func TestGeneratePassword(t *testing.T) {
	a, err := GeneratePassword(4)
	require.NoError(t, err)
	require.Len(t, a, MinGeneratedLength)
	b, err := GeneratePassword(20)
	require.NoError(t, err)
	require.Len(t, b, 20)
	require.NotEqual(t, a, b[:MinGeneratedLength])
}

func TestTokenManagerRejectsExpiredTokens(t *testing.T) {
	m, err := NewTokenManager("0123456789abcdef-test", time.Minute)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC) }
	tok, err := m.Issue(shared.Principal{UserID: 7, Role: shared.RoleEmployee})
	require.NoError(t, err)

	p, err := m.Parse(tok.AccessToken)
	require.NoError(t, err)
	require.EqualValues(t, 7, p.UserID)

	m.now = func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC) }
	_, err = m.Parse(tok.AccessToken)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = NewTokenManager("short", time.Minute)
	require.Error(t, err)
}

func TestHasherVerify(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	require.NoError(t, h.Verify(hash, "correct horse"))
	require.ErrorIs(t, h.Verify(hash, "battery staple"), shared.ErrInvalidCredentials)

	_, err = h.Hash(strings.Repeat("€", 40))
	require.ErrorIs(t, err, shared.ErrValidation)
}
