package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avdeevlv/clubgate/internal/telegram"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) ListBroadcastRecipients(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

type mockMessenger struct{ mock.Mock }

func (m *mockMessenger) Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error) {
	args := m.Called(ctx, userID, text)
	return args.Get(0).(telegram.DeliveryStatus), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_AllDelivered(t *testing.T) {
	users := new(mockUsers)
	messenger := new(mockMessenger)

	users.On("ListBroadcastRecipients", mock.Anything).Return([]int64{1, 2, 3}, nil)
	for _, id := range []int64{1, 2, 3} {
		messenger.On("Send", mock.Anything, id, "hello").
			Return(telegram.Delivered, nil).Once()
	}

	svc := New(users, messenger, time.Millisecond, newNoopLogger())
	report, err := svc.Send(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, &Report{Total: 3, Delivered: 3, Failed: 0}, report)
	messenger.AssertExpectations(t)
}

func TestSend_UnreachableRecipientDoesNotStopBroadcast(t *testing.T) {
	users := new(mockUsers)
	messenger := new(mockMessenger)

	recipients := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	users.On("ListBroadcastRecipients", mock.Anything).Return(recipients, nil)
	for _, id := range recipients {
		status := telegram.Delivered
		if id == 4 {
			// Получатель №4 заблокировал бота: доставка помечается как
			// недоступная, но рассылка остальным продолжается.
			status = telegram.Unreachable
		}
		messenger.On("Send", mock.Anything, id, "news").Return(status, nil).Once()
	}

	svc := New(users, messenger, time.Millisecond, newNoopLogger())
	report, err := svc.Send(context.Background(), "news")

	require.NoError(t, err)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 9, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	messenger.AssertExpectations(t)
}

func TestSend_TransientErrorCountedAsFailed(t *testing.T) {
	users := new(mockUsers)
	messenger := new(mockMessenger)

	users.On("ListBroadcastRecipients", mock.Anything).Return([]int64{1, 2}, nil)
	messenger.On("Send", mock.Anything, int64(1), "hi").
		Return(telegram.TransientError, errors.New("timeout")).Once()
	messenger.On("Send", mock.Anything, int64(2), "hi").
		Return(telegram.Delivered, nil).Once()

	svc := New(users, messenger, time.Millisecond, newNoopLogger())
	report, err := svc.Send(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Failed)
}

func TestSend_RecipientsQueryError(t *testing.T) {
	users := new(mockUsers)
	messenger := new(mockMessenger)

	users.On("ListBroadcastRecipients", mock.Anything).Return(nil, errors.New("db down"))

	svc := New(users, messenger, time.Millisecond, newNoopLogger())
	_, err := svc.Send(context.Background(), "hi")

	require.Error(t, err)
	messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_ContextCancelledStopsBroadcast(t *testing.T) {
	users := new(mockUsers)
	messenger := new(mockMessenger)

	users.On("ListBroadcastRecipients", mock.Anything).Return([]int64{1, 2, 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := New(users, messenger, time.Second, newNoopLogger())
	report, err := svc.Send(ctx, "hi")

	require.Error(t, err)
	assert.Equal(t, 0, report.Delivered)
	messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}
