package approval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avdeevlv/clubgate/internal/models"
	"github.com/avdeevlv/clubgate/internal/storage/repository"
	"github.com/avdeevlv/clubgate/internal/telegram"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockUsers) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockUsers) SetUserActive(ctx context.Context, telegramID int64) error {
	return m.Called(ctx, telegramID).Error(0)
}

type mockSubs struct{ mock.Mock }

func (m *mockSubs) FindCurrentByUser(ctx context.Context, userID int64) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *mockSubs) CreateSubscription(ctx context.Context, sub models.Subscription) (int, error) {
	args := m.Called(ctx, sub)
	return args.Int(0), args.Error(1)
}

func (m *mockSubs) RenewSubscription(ctx context.Context, id, durationDays int, now time.Time) (int, error) {
	args := m.Called(ctx, id, durationDays, now)
	return args.Int(0), args.Error(1)
}

type mockPlans struct{ mock.Mock }

func (m *mockPlans) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Plan), args.Error(1)
}

type mockMembership struct{ mock.Mock }

func (m *mockMembership) CreateInvite(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	args := m.Called(ctx, userID, ttl)
	return args.String(0), args.Error(1)
}

type mockMessenger struct{ mock.Mock }

func (m *mockMessenger) Send(ctx context.Context, userID int64, text string) (telegram.DeliveryStatus, error) {
	args := m.Called(ctx, userID, text)
	return args.Get(0).(telegram.DeliveryStatus), args.Error(1)
}

type mockAwarder struct{ mock.Mock }

func (m *mockAwarder) Award(ctx context.Context, approvedUserID int64, now time.Time) error {
	return m.Called(ctx, approvedUserID, now).Error(0)
}

type mockAuditor struct{ mock.Mock }

func (m *mockAuditor) Record(ctx context.Context, entry models.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(users *mockUsers, subs *mockSubs, plans *mockPlans,
	membership *mockMembership, messenger *mockMessenger,
	awarder *mockAwarder, auditor *mockAuditor) *Service {
	return New(users, subs, plans, membership, messenger, awarder, auditor,
		time.Hour, newNoopLogger())
}

func TestApprove_NewUserNewSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)
	membership := new(mockMembership)
	messenger := new(mockMessenger)
	awarder := new(mockAwarder)
	auditor := new(mockAuditor)

	plan := &models.Plan{Name: "monthly", DurationDays: 30, Price: 500}
	plans.On("GetPlanByName", mock.Anything, "monthly").Return(plan, nil)

	users.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.TelegramID == int64(42) && u.ReferralCode != "" && u.ReferredBy == nil
	})).Return(&models.User{TelegramID: 42, Username: "alice"}, nil)

	subs.On("FindCurrentByUser", mock.Anything, int64(42)).Return(nil, repository.ErrNotFound)
	subs.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
		return s.UserID == 42 &&
			s.Status == models.SubscriptionStatusActive &&
			s.ExpiryDate.Equal(now.AddDate(0, 0, 30))
	})).Return(7, nil)

	users.On("SetUserActive", mock.Anything, int64(42)).Return(nil)
	membership.On("CreateInvite", mock.Anything, int64(42), time.Hour).
		Return("https://t.me/+invite42", nil)
	messenger.On("Send", mock.Anything, int64(42), mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "https://t.me/+invite42")
	})).Return(telegram.Delivered, nil)
	awarder.On("Award", mock.Anything, int64(42), now).Return(nil)
	auditor.On("Record", mock.Anything, mock.MatchedBy(func(e models.AuditEntry) bool {
		return e.Action == models.AuditActionApproval && e.Details["is_renewal"] == false
	})).Return(nil)

	svc := newTestService(users, subs, plans, membership, messenger, awarder, auditor)
	result, err := svc.Approve(context.Background(), Request{
		UserID: 42, Username: "alice", PlanName: "monthly", ActorID: 1, ApprovedBy: "admin",
	}, now)

	require.NoError(t, err)
	assert.Equal(t, 7, result.SubscriptionID)
	assert.False(t, result.IsRenewal)
	assert.Equal(t, "https://t.me/+invite42", result.InviteLink)
	subs.AssertExpectations(t)
	auditor.AssertExpectations(t)
}

func TestApprove_ExistingSubscriptionRenewed(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)
	membership := new(mockMembership)
	messenger := new(mockMessenger)
	awarder := new(mockAwarder)
	auditor := new(mockAuditor)

	plan := &models.Plan{Name: "monthly", DurationDays: 30, Price: 500}
	plans.On("GetPlanByName", mock.Anything, "monthly").Return(plan, nil)
	users.On("UpsertUser", mock.Anything, mock.Anything).
		Return(&models.User{TelegramID: 42}, nil)

	// Текущая подписка истекает через 5 дней: продление пристыковывается к ней.
	current := &models.Subscription{ID: 3, UserID: 42, ExpiryDate: now.AddDate(0, 0, 5)}
	subs.On("FindCurrentByUser", mock.Anything, int64(42)).Return(current, nil)
	subs.On("RenewSubscription", mock.Anything, 3, 30, now).Return(1, nil)

	users.On("SetUserActive", mock.Anything, int64(42)).Return(nil)
	membership.On("CreateInvite", mock.Anything, int64(42), time.Hour).Return("link", nil)
	messenger.On("Send", mock.Anything, int64(42), mock.Anything).
		Return(telegram.Delivered, nil)
	awarder.On("Award", mock.Anything, int64(42), now).Return(nil)
	auditor.On("Record", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(users, subs, plans, membership, messenger, awarder, auditor)
	result, err := svc.Approve(context.Background(), Request{
		UserID: 42, PlanName: "monthly",
	}, now)

	require.NoError(t, err)
	assert.True(t, result.IsRenewal)
	assert.Equal(t, 3, result.SubscriptionID)
	assert.Equal(t, now.AddDate(0, 0, 35), result.ExpiryDate)
	subs.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
}

func TestApprove_GraceRenewalStartsFromToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)
	membership := new(mockMembership)
	messenger := new(mockMessenger)
	awarder := new(mockAwarder)
	auditor := new(mockAuditor)

	plan := &models.Plan{Name: "monthly", DurationDays: 30}
	plans.On("GetPlanByName", mock.Anything, "monthly").Return(plan, nil)
	users.On("UpsertUser", mock.Anything, mock.Anything).
		Return(&models.User{TelegramID: 42}, nil)

	// Подписка уже просрочена: новый срок отсчитывается от сегодня.
	current := &models.Subscription{ID: 3, UserID: 42,
		ExpiryDate: now.AddDate(0, 0, -2), Status: models.SubscriptionStatusGrace}
	subs.On("FindCurrentByUser", mock.Anything, int64(42)).Return(current, nil)
	subs.On("RenewSubscription", mock.Anything, 3, 30, now).Return(1, nil)

	users.On("SetUserActive", mock.Anything, int64(42)).Return(nil)
	membership.On("CreateInvite", mock.Anything, mock.Anything, mock.Anything).Return("link", nil)
	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(telegram.Delivered, nil)
	awarder.On("Award", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("Record", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(users, subs, plans, membership, messenger, awarder, auditor)
	result, err := svc.Approve(context.Background(), Request{UserID: 42, PlanName: "monthly"}, now)

	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 30), result.ExpiryDate)
}

func TestApprove_ReferralCodeResolved(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)
	membership := new(mockMembership)
	messenger := new(mockMessenger)
	awarder := new(mockAwarder)
	auditor := new(mockAuditor)

	plans.On("GetPlanByName", mock.Anything, "monthly").
		Return(&models.Plan{Name: "monthly", DurationDays: 30}, nil)
	users.On("GetUserByReferralCode", mock.Anything, "ref-code").
		Return(&models.User{TelegramID: 99}, nil)
	users.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.ReferredBy != nil && *u.ReferredBy == int64(99)
	})).Return(&models.User{TelegramID: 42}, nil)

	subs.On("FindCurrentByUser", mock.Anything, int64(42)).Return(nil, repository.ErrNotFound)
	subs.On("CreateSubscription", mock.Anything, mock.Anything).Return(1, nil)
	users.On("SetUserActive", mock.Anything, int64(42)).Return(nil)
	membership.On("CreateInvite", mock.Anything, mock.Anything, mock.Anything).Return("link", nil)
	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(telegram.Delivered, nil)
	awarder.On("Award", mock.Anything, int64(42), now).Return(nil)
	auditor.On("Record", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(users, subs, plans, membership, messenger, awarder, auditor)
	_, err := svc.Approve(context.Background(), Request{
		UserID: 42, PlanName: "monthly", ReferralCode: "ref-code",
	}, now)

	require.NoError(t, err)
	users.AssertExpectations(t)
}

func TestApprove_SelfReferralIgnored(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)
	membership := new(mockMembership)
	messenger := new(mockMessenger)
	awarder := new(mockAwarder)
	auditor := new(mockAuditor)

	plans.On("GetPlanByName", mock.Anything, "monthly").
		Return(&models.Plan{Name: "monthly", DurationDays: 30}, nil)
	users.On("GetUserByReferralCode", mock.Anything, "own-code").
		Return(&models.User{TelegramID: 42}, nil)
	users.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.ReferredBy == nil
	})).Return(&models.User{TelegramID: 42}, nil)

	subs.On("FindCurrentByUser", mock.Anything, int64(42)).Return(nil, repository.ErrNotFound)
	subs.On("CreateSubscription", mock.Anything, mock.Anything).Return(1, nil)
	users.On("SetUserActive", mock.Anything, int64(42)).Return(nil)
	membership.On("CreateInvite", mock.Anything, mock.Anything, mock.Anything).Return("link", nil)
	messenger.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(telegram.Delivered, nil)
	awarder.On("Award", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("Record", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(users, subs, plans, membership, messenger, awarder, auditor)
	_, err := svc.Approve(context.Background(), Request{
		UserID: 42, PlanName: "monthly", ReferralCode: "own-code",
	}, now)

	require.NoError(t, err)
	users.AssertExpectations(t)
}

func TestApprove_InviteFailureDoesNotFailApproval(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)
	membership := new(mockMembership)
	messenger := new(mockMessenger)
	awarder := new(mockAwarder)
	auditor := new(mockAuditor)

	plans.On("GetPlanByName", mock.Anything, "monthly").
		Return(&models.Plan{Name: "monthly", DurationDays: 30}, nil)
	users.On("UpsertUser", mock.Anything, mock.Anything).
		Return(&models.User{TelegramID: 42}, nil)
	subs.On("FindCurrentByUser", mock.Anything, int64(42)).Return(nil, repository.ErrNotFound)
	subs.On("CreateSubscription", mock.Anything, mock.Anything).Return(1, nil)
	users.On("SetUserActive", mock.Anything, int64(42)).Return(nil)
	membership.On("CreateInvite", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("api down"))
	messenger.On("Send", mock.Anything, int64(42), mock.Anything).
		Return(telegram.Delivered, nil)
	awarder.On("Award", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("Record", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(users, subs, plans, membership, messenger, awarder, auditor)
	result, err := svc.Approve(context.Background(), Request{UserID: 42, PlanName: "monthly"}, now)

	require.NoError(t, err)
	assert.Empty(t, result.InviteLink)
}

func TestApprove_UnknownPlan(t *testing.T) {
	users := new(mockUsers)
	subs := new(mockSubs)
	plans := new(mockPlans)

	plans.On("GetPlanByName", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)

	svc := newTestService(users, subs, plans,
		new(mockMembership), new(mockMessenger), new(mockAwarder), new(mockAuditor))
	_, err := svc.Approve(context.Background(), Request{UserID: 42, PlanName: "ghost"}, time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	users.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything)
}
