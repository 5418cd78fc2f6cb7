package chrono

import (
	"context"
	"fmt"
	"racemap-backend/internal/components/telemetry"
	"time"

	"github.com/robfig/cron/v3"
)

// CronAPI runs named background jobs (such as the cache sweep) on cron schedules.
type CronAPI interface {
	Schedule(name, spec string, job func(ctx context.Context)) error
}

// StandardCron runs jobs with github.com/robfig/cron/v3. A job whose previous run has not
// finished is skipped, and a panicking job is reported instead of crashing the process.
type StandardCron struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	tel    telemetry.API
}

// NewStandardCron starts an empty scheduler in the clock's location.
func NewStandardCron(clock API, tel telemetry.API) StandardCron {
	tel = telemetry.NewScopedAPI("cron", tel)
	logger := cronLogger{tel: tel}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(clock.Location()),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)
	scheduler.Start()

	ctx, cancel := context.WithCancel(context.Background())
	return StandardCron{
		cron:   scheduler,
		ctx:    ctx,
		cancel: cancel,
		tel:    tel,
	}
}

func (s StandardCron) Schedule(name, spec string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		runJob(s.ctx, s.tel, name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// Stop cancels the context handed to jobs and waits for running jobs to return.
func (s StandardCron) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func runJob(ctx context.Context, tel telemetry.API, name string, job func(ctx context.Context)) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			tel.ReportBroken("job", fmt.Errorf("%s: panic: %v", name, r))
			return
		}
		tel.ReportDebug("job finished", name, time.Since(start).String())
	}()
	job(ctx)
}

// cronLogger forwards robfig/cron's logr style logs to telemetry.
type cronLogger struct {
	tel telemetry.API
}

func pairs(keysAndValues []any) []any {
	out := make([]any, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, fmt.Sprintf("%v=%v", keysAndValues[i], keysAndValues[i+1]))
	}
	return out
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	params := append([]any{fmt.Errorf("%s: %w", msg, err)}, pairs(keysAndValues)...)
	l.tel.ReportBroken("scheduler", params...)
}
