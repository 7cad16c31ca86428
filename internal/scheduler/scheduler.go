package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily usage report on a cron spec.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
}

func New(spec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetReportFunction sets the function invoked on each tick.
func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

func (s *Scheduler) Start() error {
	if s.reportFunc == nil {
		log.Println("⚠️ Report function not set, scheduler will not generate reports")
		return nil
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		log.Printf("🕘 Triggered usage report (%s)", s.spec)
		if err := s.reportFunc(s.ctx); err != nil {
			log.Printf("❌ Usage report failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("📅 Scheduler started - usage reports on %q (UTC)", s.spec)
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("📅 Scheduler stopped")
}
