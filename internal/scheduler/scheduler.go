// Package scheduler запускает ежедневные проходы движков по расписанию.
//
// Каждый движок регистрируется как задание с фиксированным временем
// суток вида "HH:MM". Задания выполняются последовательно внутри
// своего запуска; пропущенный из-за простоя запуск не навёрстывается,
// следующий проход покрывает накопившихся кандидатов сам.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/avdeevlv/clubgate/internal/lib/sl"
)

// Job одно ежедневное задание планировщика.
type Job struct {
	Name string
	At   string // Время суток в формате "HH:MM"
	Run  func(ctx context.Context, now time.Time) error
}

// Scheduler обёртка над cron для ежедневных заданий движков.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// New создает новый экземпляр Scheduler в часовом поясе loc.
func New(loc *time.Location, reg prometheus.Registerer, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clubgate_scheduler_runs_total",
			Help: "Number of scheduled job runs by job name and result.",
		}, []string{"job", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clubgate_scheduler_run_duration_seconds",
			Help:    "Duration of scheduled job runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	reg.MustRegister(s.runsTotal, s.runDuration)
	return s
}

// AddJob регистрирует ежедневное задание.
func (s *Scheduler) AddJob(ctx context.Context, job Job) error {
	const op = "scheduler.AddJob"

	spec, err := ParseDailySpec(job.At)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.cron.AddFunc(spec, func() {
		s.runJob(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("job scheduled", slog.String("job", job.Name), slog.String("at", job.At))
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	started := time.Now()
	s.log.Info("job run started", slog.String("job", job.Name))

	err := job.Run(ctx, started)

	s.runDuration.WithLabelValues(job.Name).Observe(time.Since(started).Seconds())
	if err != nil {
		s.runsTotal.WithLabelValues(job.Name, "error").Inc()
		s.log.Error("job run failed", slog.String("job", job.Name), sl.Err(err))
		return
	}
	s.runsTotal.WithLabelValues(job.Name, "ok").Inc()
	s.log.Info("job run finished", slog.String("job", job.Name),
		slog.Duration("took", time.Since(started)))
}

// Start запускает планировщик и блокируется до отмены контекста.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// ParseDailySpec переводит время суток "HH:MM" в cron-выражение
// ежедневного запуска.
func ParseDailySpec(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time of day %q, expected HH:MM", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", at)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
