package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/reelpick/pkg/logger"
)

// Flusher persists pending library writes.
type Flusher interface {
	Flush() error
}

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep()
}

type Scheduler struct {
	cron    *cron.Cron
	library Flusher
	cache   Sweeper

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
}

func New(library Flusher, cache Sweeper) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		library: library,
		cache:   cache,
	}
}

// Start begins the scheduled job
func (s *Scheduler) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := s.schedule(cronExpr); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	logger.Infof("⏰ Scheduler: %s", cronExpr)

	return nil
}

// Reschedule replaces the job's cron expression; used on config reload.
func (s *Scheduler) Reschedule(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.entry
	if err := s.schedule(cronExpr); err != nil {
		return err
	}
	s.cron.Remove(old)

	logger.Infof("⏰ Scheduler rescheduled: %s", cronExpr)
	return nil
}

// schedule must be called with the lock held.
func (s *Scheduler) schedule(cronExpr string) error {
	// Convert standard cron (5 fields) to cron with seconds (6 fields)
	id, err := s.cron.AddFunc("0 "+cronExpr, s.runJob)
	if err != nil {
		return err
	}
	s.entry = id
	return nil
}

// Stop waits for a running job, then flushes the library one last time.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
	}

	s.flushLibrary()
}

// RunNow runs the flush and sweep job once in the background.
func (s *Scheduler) RunNow() {
	go s.runJob()
}

func (s *Scheduler) runJob() {
	s.flushLibrary()
	if s.cache != nil {
		s.cache.Sweep()
	}
}

func (s *Scheduler) flushLibrary() {
	if s.library == nil {
		return
	}
	if err := s.library.Flush(); err != nil {
		logger.Errorf("❌ Library flush failed: %v", err)
	}
}

// IsRunning returns whether the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
