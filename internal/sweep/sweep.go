// Package sweep schedules the fabric's periodic maintenance jobs — the
// scheduled-cospace expiry and any other recurring sweeps — on cron
// expressions, so operators control cadence with the same syntax they
// use everywhere else instead of a fixed ticker interval.
package sweep

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one recurring maintenance task.
type Job struct {
	// Name appears in logs.
	Name string
	// Spec is a standard five-field cron expression.
	Spec string
	// Run executes one sweep pass.
	Run func()
}

// Scheduler owns the cron runner for a node's sweep jobs.
type Scheduler struct {
	c   *cron.Cron
	log zerolog.Logger
}

// NewScheduler registers jobs and returns a stopped scheduler; call
// Start once wiring is complete. A job with a bad spec is logged and
// skipped rather than failing the node, since every sweep is a
// tightening of behavior the fabric survives without.
func NewScheduler(jobs []Job, log zerolog.Logger) *Scheduler {
	s := &Scheduler{c: cron.New(), log: log}
	for _, job := range jobs {
		job := job
		_, err := s.c.AddFunc(job.Spec, func() {
			log.Debug().Str("job", job.Name).Msg("sweep_run")
			job.Run()
		})
		if err != nil {
			log.Error().Err(err).Str("job", job.Name).Str("spec", job.Spec).
				Msg("sweep_job_invalid_spec")
			continue
		}
		log.Info().Str("job", job.Name).Str("spec", job.Spec).Msg("sweep_job_registered")
	}
	return s
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts scheduling; running jobs finish.
func (s *Scheduler) Stop() { s.c.Stop() }
