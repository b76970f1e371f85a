package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/metrics"
)

// CallReaper discards call sessions that finished more than ttl ago.
type CallReaper interface {
	ReapFinished(ttl time.Duration) int
}

// CleanupJob periodically evicts stale call sessions from the in-memory registry.
type CleanupJob struct {
	calls    CallReaper
	callTTL  time.Duration
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCleanupJob(calls CallReaper, callTTL, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		calls:    calls,
		callTTL:  callTTL,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start sweeps once immediately and then on every tick until Stop.
func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			j.sweep()
			select {
			case <-j.stop:
				return
			case <-ticker.C:
			}
		}
	}()

	log.Info().Dur("interval", j.interval).Dur("callTtl", j.callTTL).Msg("call cleanup started")
}

// Stop ends the loop and waits for an in-flight sweep. Safe to call twice.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	j.wg.Wait()
	log.Info().Msg("call cleanup stopped")
}

func (j *CleanupJob) sweep() {
	reaped := j.calls.ReapFinished(j.callTTL)
	if reaped == 0 {
		return
	}
	metrics.CallsReapedTotal.Add(float64(reaped))
	log.Info().Int("count", reaped).Msg("reaped stale call sessions")
}
