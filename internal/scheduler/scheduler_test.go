package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseDailySpec(t *testing.T) {
	tests := []struct {
		name    string
		at      string
		want    string
		wantErr bool
	}{
		{name: "morning", at: "10:00", want: "0 10 * * *"},
		{name: "just after midnight", at: "00:30", want: "30 0 * * *"},
		{name: "late evening", at: "23:00", want: "0 23 * * *"},
		{name: "missing minutes", at: "10", wantErr: true},
		{name: "hour out of range", at: "24:00", wantErr: true},
		{name: "minute out of range", at: "10:61", wantErr: true},
		{name: "not a number", at: "ab:cd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDailySpec(tt.at)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddJob_RejectsInvalidTime(t *testing.T) {
	s := New(time.UTC, prometheus.NewRegistry(), newNoopLogger())
	err := s.AddJob(context.Background(), Job{
		Name: "reminders",
		At:   "25:00",
		Run:  func(ctx context.Context, now time.Time) error { return nil },
	})
	require.Error(t, err)
}

func TestAddJob_AcceptsValidTime(t *testing.T) {
	s := New(time.UTC, prometheus.NewRegistry(), newNoopLogger())
	err := s.AddJob(context.Background(), Job{
		Name: "reminders",
		At:   "10:00",
		Run:  func(ctx context.Context, now time.Time) error { return nil },
	})
	require.NoError(t, err)
}
