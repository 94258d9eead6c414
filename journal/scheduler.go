package journal

import (
	"sync"
	"time"

	"github.com/intakehq/journalstore/utils/log"
)

// job is one periodic background task.
type job struct {
	name         string
	initialDelay time.Duration
	period       time.Duration
	run          func()
}

// scheduler drives the journal's periodic jobs on plain goroutines. A job
// body that panics is logged and swallowed; the job resumes on its next
// tick. Panics during shutdown are dropped silently.
type scheduler struct {
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	shuttingDown func() bool
}

func newScheduler(shuttingDown func() bool) *scheduler {
	return &scheduler{
		stop:         make(chan struct{}),
		shuttingDown: shuttingDown,
	}
}

func (sc *scheduler) schedule(j job) {
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()

		initial := time.NewTimer(j.initialDelay)
		select {
		case <-sc.stop:
			initial.Stop()
			return
		case <-initial.C:
		}
		sc.runSafely(j)

		ticker := time.NewTicker(j.period)
		defer ticker.Stop()
		for {
			select {
			case <-sc.stop:
				return
			case <-ticker.C:
				sc.runSafely(j)
			}
		}
	}()
}

func (sc *scheduler) runSafely(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			if sc.shuttingDown() {
				return
			}
			log.Error("background job %s failed, will try again: %v", j.name, rec)
		}
	}()
	j.run()
}

// shutdown cancels all jobs and waits for in-flight runs to finish.
func (sc *scheduler) shutdown() {
	sc.stopOnce.Do(func() { close(sc.stop) })
	sc.wg.Wait()
}
