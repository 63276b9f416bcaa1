package work

import (
	"fmt"

	"github.com/Daskott/guardian/server/cron"
	"github.com/Daskott/guardian/server/models"
	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
)

const MAX_CONCURRENCY = 1

// WorkerPoolAdapter ties together the cron scheduler, the db-backed
// worker pool & the requeuers that move stuck/scheduled jobs back into
// the queue.
type WorkerPoolAdapter struct {
	cronScheduler *gocron.Scheduler
	pool          *WorkerPool
	requeuers     []*requeuer
}

func NewWorkerAdapter(timeZoneArg string) *WorkerPoolAdapter {
	pool, err := newWorkerPool(MAX_CONCURRENCY)
	if err != nil {
		logg.Panic(err)
	}

	adapter := WorkerPoolAdapter{
		cronScheduler: cron.NewCronScheduler(timeZoneArg),
		pool:          pool,
	}

	for _, queue := range []string{models.IN_PROGRESS_JOB, models.SCHEDULED_JOB} {
		rq, err := newRequeuer(queue)
		if err != nil {
			logg.Panic(err)
		}
		adapter.requeuers = append(adapter.requeuers, rq)
	}

	return &adapter
}

// Start starts the cron scheduler, worker pool & requeuers
func (adapter *WorkerPoolAdapter) Start() error {
	logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.start()

	for _, rq := range adapter.requeuers {
		rq.start()
	}

	return nil
}

// Stop stops the cron scheduler, worker pool & requeuers
func (adapter *WorkerPoolAdapter) Stop() error {
	logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.pool.stop()

	for _, rq := range adapter.requeuers {
		rq.stop()
	}

	return nil
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.registerHandler(name, handler)
}

// Perform sends a new job to the queue, now - to be executed as soon as a worker is available
func (adapter *WorkerPoolAdapter) Perform(job JobParams) error {
	logg.Infof("Enqueuing job: %v", job.Name)

	err := adapter.pool.enqueue(job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Warnf("Duplicate job already in queue for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error enqueuing job: %v, %v", job.Name, err)
	}

	return nil
}

// PerformIn schedules a job to enter the queue after 'delayInSeconds'
func (adapter *WorkerPoolAdapter) PerformIn(delayInSeconds int64, job JobParams) error {
	logg.Infof("Scheduling job: %v to run in %vs", job.Name, delayInSeconds)

	err := adapter.pool.enqueueIn(delayInSeconds, job)
	if err != nil {
		return fmt.Errorf("error scheduling job: %v, %v", job.Name, err)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue (to be executed)
// periodically, based on the 'cronExpression' expression provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).
		Do(
			func(job JobParams) {
				err := adapter.Perform(job)
				if err != nil {
					logg.Error(err)
				}
			},
			job,
		)

	return err
}
