package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/corvusec/magpie/pkg/log"
	"github.com/corvusec/magpie/pkg/queue"
	"github.com/corvusec/magpie/pkg/types"
)

// Worker processes one document event to a terminal job state.
type Worker interface {
	Process(ctx context.Context, ev types.DocumentEvent) error
}

// Pool runs a fixed number of workers against the shared queue. The size
// is set once at construction; there is no scaling at runtime.
type Pool struct {
	queue  *queue.Queue
	proc   Worker
	size   int
	logger zerolog.Logger
}

// NewPool builds a pool of size workers. Sizes below one are raised to one.
func NewPool(q *queue.Queue, proc Worker, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		queue:  q,
		proc:   proc,
		size:   size,
		logger: log.WithComponent("workers"),
	}
}

// Size reports the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Run blocks until every worker has exited. Workers stop when the queue
// is closed and drained, or when ctx ends. Run itself never fails; job
// errors stay on their job rows.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().Int("count", p.size).Msg("starting workers")

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info().Msg("all workers stopped")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	logger := p.logger.With().Int("worker", id).Logger()
	logger.Debug().Msg("worker started")

	for {
		ev, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				logger.Debug().Msg("queue drained, worker exiting")
			} else {
				logger.Debug().Err(err).Msg("worker context ended")
			}
			return
		}

		// Process records failures on the job row and in the job_failed
		// event; here the error only marks the loop iteration.
		if err := p.proc.Process(ctx, ev); err != nil {
			logger.Debug().Err(err).Str("ref", ev.Ref.String()).Msg("job ended with error")
		}
	}
}
