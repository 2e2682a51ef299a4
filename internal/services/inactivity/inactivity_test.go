package inactivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avdeevlv/clubgate/internal/models"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) FindInactiveCandidates(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *mockUsers) SetUserStatus(ctx context.Context, telegramID int64, status string) error {
	return m.Called(ctx, telegramID, status).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_MarksCandidatesInactive(t *testing.T) {
	users := new(mockUsers)
	now := time.Date(2026, 4, 1, 13, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -30)

	users.On("FindInactiveCandidates", mock.Anything, cutoff).Return([]*models.User{
		{TelegramID: 1}, {TelegramID: 2},
	}, nil)
	users.On("SetUserStatus", mock.Anything, int64(1), models.UserStatusInactive).Return(nil)
	users.On("SetUserStatus", mock.Anything, int64(2), models.UserStatusInactive).Return(nil)

	svc := New(users, 30, newNoopLogger())
	require.NoError(t, svc.Run(context.Background(), now))
	users.AssertExpectations(t)
}

func TestRun_MarkFailureDoesNotStopPass(t *testing.T) {
	users := new(mockUsers)
	now := time.Date(2026, 4, 1, 13, 0, 0, 0, time.UTC)

	users.On("FindInactiveCandidates", mock.Anything, mock.Anything).Return([]*models.User{
		{TelegramID: 1}, {TelegramID: 2},
	}, nil)
	users.On("SetUserStatus", mock.Anything, int64(1), models.UserStatusInactive).
		Return(errors.New("db error"))
	users.On("SetUserStatus", mock.Anything, int64(2), models.UserStatusInactive).Return(nil)

	svc := New(users, 30, newNoopLogger())
	require.NoError(t, svc.Run(context.Background(), now))
	users.AssertExpectations(t)
}

func TestRun_QueryError(t *testing.T) {
	users := new(mockUsers)
	users.On("FindInactiveCandidates", mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))

	svc := New(users, 30, newNoopLogger())
	require.Error(t, svc.Run(context.Background(), time.Now()))
}
