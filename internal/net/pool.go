package net

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

type TaskFunc = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of workers draining a shared task
// channel under one tomb. Here a task is a client session and a worker
// owns it for the session's whole life, so the pool size bounds the
// number of concurrently served connections. The channel is unbuffered
// so a task is only ever accepted by an idle worker; nothing sits in a
// queue with no one committed to serving it.
type WorkerPool struct {
	n     int
	tasks chan any
	work  TaskFunc
}

func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		n:     size,
		tasks: make(chan any),
	}
}

func (pool *WorkerPool) Run(t *tomb.Tomb, work TaskFunc) {
	pool.work = work
	for i := 0; i < pool.n; i++ {
		i := i
		t.Go(func() error {
			return pool.worker(t, i)
		})
	}
}

// Workers wait on queued tasks and action them. Any error returned
// from the work function is fatal to the pool.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := pool.work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}

// Add hands a task to an idle worker without blocking; reports false
// when every worker is busy.
func (pool *WorkerPool) Add(task any) bool {
	select {
	case pool.tasks <- task:
		return true
	default:
		return false
	}
}
