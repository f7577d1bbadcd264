package host

import (
	"net"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

// WorkerFunction reads and forwards whatever is pending on a connection.
type WorkerFunction = func(t *tomb.Tomb, conn net.Conn) error

// WorkerPool fans connection reads out over a fixed number of goroutines.
// Connections are re-queued after every message so a slow client never
// pins a worker.
type WorkerPool struct {
	n     int           // number of workers
	tasks chan net.Conn // task connection pool
	work  WorkerFunction
}

func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan net.Conn, TASK_CHAN_SIZE),
		n:     size,
	}
}

// Setup maintains a full pool of workers under t until t dies.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("activeWorkers", pool.n).Msg("adding workers")
	pool.work = work
	for i := 0; i < pool.n; i++ {
		t.Go(func() error {
			return pool.worker(t)
		})
	}
}

// worker waits on connections in the task pool and actions them until the
// tomb dies.
func (pool *WorkerPool) worker(t *tomb.Tomb) error {
	log.Info().Msg("worker starting")
	for {
		select {
		case <-t.Dying():
			return nil
		case conn := <-pool.tasks:
			if err := pool.work(t, conn); err != nil {
				log.Error().Err(err).Msg("worker exiting")
				return err
			}
		}
	}
}

// AddTask queues a connection for the next free worker.
func (pool *WorkerPool) AddTask(conn net.Conn) {
	pool.tasks <- conn
}
