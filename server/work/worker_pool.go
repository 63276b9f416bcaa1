package work

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Daskott/guardian/server/models"
	"github.com/pkg/errors"
)

type WorkerPool struct {
	handlers    map[string]Handler
	workers     []*worker
	concurrency int
	started     bool
}

func newWorkerPool(concurrency int) (*WorkerPool, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %v", concurrency)
	}

	wp := WorkerPool{handlers: make(map[string]Handler), concurrency: concurrency}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker([]int64{0, 10, 100, 120}))
	}

	return &wp, nil
}

// registerHandler binds a name to a job handler for all workers in pool
func (wp *WorkerPool) registerHandler(name string, handler Handler) error {
	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}
	wp.handlers[name] = handler

	for _, worker := range wp.workers {
		err := worker.registerHandler(name, handler)

		// Only panic if we get an error that is unexpected i.e !ErrDuplicateHandler
		if err != nil && !errors.Is(err, ErrDuplicateHandler) {
			logg.Panic(err)
		}
	}
	return nil
}

// enqueue adds a job to the queue(to be executed) by creating a DB record based on 'JobParams' provided
func (wp *WorkerPool) enqueue(job JobParams) error {
	argsAsJson, err := marshalJobArgs(job)
	if err != nil {
		return err
	}

	if job.Unique {
		return models.CreateUniqueJobByName(job.Name, job.Handler, argsAsJson)
	}

	return models.CreateJobByName(job.Name, job.Handler, argsAsJson)
}

// enqueueIn schedules a job to enter the queue after the given delay
func (wp *WorkerPool) enqueueIn(delayInSeconds int64, job JobParams) error {
	argsAsJson, err := marshalJobArgs(job)
	if err != nil {
		return err
	}

	enqueueAt := time.Now().Add(time.Duration(delayInSeconds) * time.Second)
	return models.CreateScheduledJobByName(job.Name, job.Handler, argsAsJson, enqueueAt)
}

// start starts all workers in pool i.e the workers can start processing jobs
func (wp *WorkerPool) start() {
	if wp.started {
		return
	}
	wp.started = true

	for _, worker := range wp.workers {
		worker.start()
	}
}

// stop stops all workers in pool i.e jobs will stop being processed
func (wp *WorkerPool) stop() {
	if !wp.started {
		return
	}

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			w.stop()
			wg.Done()
		}(w)
	}
	wg.Wait()
	wp.started = false
}

func marshalJobArgs(job JobParams) (string, error) {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return "", fmt.Errorf("both a name & handler is required for a job")
	}

	argsAsJson, err := json.Marshal(job.Args)
	if err != nil {
		return "", err
	}

	return string(argsAsJson), nil
}
