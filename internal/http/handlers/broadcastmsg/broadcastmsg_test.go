package broadcastmsg

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/avdeevlv/clubgate/internal/services/broadcast"
)

// MockService реализует интерфейс broadcastmsg.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Send(ctx context.Context, text string) (*broadcast.Report, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broadcast.Report), args.Error(1)
}

func TestBroadcastHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		requestBody    interface{}
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "успешная рассылка",
			requestBody: Request{Text: "важная новость"},
			setupMock: func(m *MockService) {
				m.On("Send", mock.Anything, "важная новость").
					Return(&broadcast.Report{Total: 10, Delivered: 9, Failed: 1}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"delivered":9`,
		},
		{
			name:           "пустой текст",
			requestBody:    Request{Text: ""},
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `field Text is a required field`,
		},
		{
			name:        "ошибка сервиса",
			requestBody: Request{Text: "hi"},
			setupMock: func(m *MockService) {
				m.On("Send", mock.Anything, "hi").Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `broadcast failed`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setupMock(service)

			var body bytes.Buffer
			assert.NoError(t, json.NewEncoder(&body).Encode(tt.requestBody))

			req := httptest.NewRequest(http.MethodPost, "/broadcast", &body)
			rec := httptest.NewRecorder()

			New(logger, service).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.True(t, strings.Contains(rec.Body.String(), tt.expectedBody),
				"body %q does not contain %q", rec.Body.String(), tt.expectedBody)
			service.AssertExpectations(t)
		})
	}
}
