package approve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/avdeevlv/clubgate/internal/services/approval"
	"github.com/avdeevlv/clubgate/internal/storage/cache"
)

// MockService реализует интерфейс approve.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Approve(ctx context.Context, req approval.Request, now time.Time) (*approval.Result, error) {
	args := m.Called(ctx, req, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*approval.Result), args.Error(1)
}

// MockGuard реализует интерфейс approve.ActionGuard
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) SetPendingAction(ctx context.Context, action cache.PendingAction, ttl time.Duration) error {
	return m.Called(ctx, action, ttl).Error(0)
}

func (m *MockGuard) GetPendingAction(ctx context.Context, actorID int64) (*cache.PendingAction, bool, error) {
	args := m.Called(ctx, actorID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*cache.PendingAction), args.Bool(1), args.Error(2)
}

func (m *MockGuard) ClearPendingAction(ctx context.Context, actorID int64) error {
	return m.Called(ctx, actorID).Error(0)
}

func TestApproveHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	validBody := Request{
		UserID:     42,
		Username:   "alice",
		PlanName:   "monthly",
		ActorID:    1,
		ApprovedBy: "admin",
	}

	tests := []struct {
		name           string
		requestBody    interface{}
		setupService   func(*MockService)
		setupGuard     func(*MockGuard)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "успешное одобрение заявки",
			requestBody: validBody,
			setupService: func(m *MockService) {
				m.On("Approve", mock.Anything, mock.AnythingOfType("approval.Request"), mock.Anything).
					Return(&approval.Result{
						SubscriptionID: 7,
						ExpiryDate:     time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC),
						InviteLink:     "https://t.me/+invite",
					}, nil)
			},
			setupGuard: func(m *MockGuard) {
				m.On("GetPendingAction", mock.Anything, int64(1)).Return(nil, false, nil)
				m.On("SetPendingAction", mock.Anything, mock.Anything, cache.DefaultActionTTL).Return(nil)
				m.On("ClearPendingAction", mock.Anything, int64(1)).Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"subscription_id":7`,
		},
		{
			name:           "некорректный JSON",
			requestBody:    "not a json",
			setupService:   func(_ *MockService) {},
			setupGuard:     func(_ *MockGuard) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `failed to decode request`,
		},
		{
			name:           "ошибка валидации",
			requestBody:    Request{Username: "alice"},
			setupService:   func(_ *MockService) {},
			setupGuard:     func(_ *MockGuard) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `field UserID is a required field`,
		},
		{
			name:         "одобрение уже выполняется",
			requestBody:  validBody,
			setupService: func(_ *MockService) {},
			setupGuard: func(m *MockGuard) {
				m.On("GetPendingAction", mock.Anything, int64(1)).
					Return(&cache.PendingAction{ActorID: 1, Kind: "approve"}, true, nil)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `approval already in progress`,
		},
		{
			name:        "ошибка сервиса",
			requestBody: validBody,
			setupService: func(m *MockService) {
				m.On("Approve", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New("db down"))
			},
			setupGuard: func(m *MockGuard) {
				m.On("GetPendingAction", mock.Anything, int64(1)).Return(nil, false, nil)
				m.On("SetPendingAction", mock.Anything, mock.Anything, cache.DefaultActionTTL).Return(nil)
				m.On("ClearPendingAction", mock.Anything, int64(1)).Return(nil)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `could not approve access request`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			guard := new(MockGuard)
			tt.setupService(service)
			tt.setupGuard(guard)

			var body bytes.Buffer
			switch v := tt.requestBody.(type) {
			case string:
				body.WriteString(v)
			default:
				assert.NoError(t, json.NewEncoder(&body).Encode(v))
			}

			req := httptest.NewRequest(http.MethodPost, "/approve", &body)
			rec := httptest.NewRecorder()

			New(logger, service, guard).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.True(t, strings.Contains(rec.Body.String(), tt.expectedBody),
				"body %q does not contain %q", rec.Body.String(), tt.expectedBody)
			service.AssertExpectations(t)
			guard.AssertExpectations(t)
		})
	}
}
