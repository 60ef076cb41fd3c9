package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// ReportProcessor runs the full per-report sequence.
type ReportProcessor interface {
	ProcessReport(ctx context.Context, report *model.PositionReport) error
}

const processTimeout = 10 * time.Second

// Dispatcher fans incoming reports out to hash-sharded workers. A vehicle
// always hashes to the same shard, so its reports process in arrival order,
// while different vehicles run in parallel across shards. Submit blocks when
// a shard's queue is full, pushing backpressure to the transport instead of
// dropping reports.
type Dispatcher struct {
	processor ReportProcessor
	shards    []chan *model.PositionReport
	done      chan struct{}
}

// NewDispatcher builds a dispatcher with the given worker and queue sizing.
func NewDispatcher(processor ReportProcessor, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	shards := make([]chan *model.PositionReport, workers)
	for i := range shards {
		shards[i] = make(chan *model.PositionReport, queueSize)
	}
	return &Dispatcher{
		processor: processor,
		shards:    shards,
		done:      make(chan struct{}),
	}
}

// Submit hands one report to its vehicle's shard, blocking while that shard's
// queue is full until ctx is cancelled.
func (d *Dispatcher) Submit(ctx context.Context, report *model.PositionReport) error {
	h := fnv.New32a()
	h.Write([]byte(report.VehicleID))
	shard := d.shards[h.Sum32()%uint32(len(d.shards))]

	select {
	case shard <- report:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts one worker per shard and blocks until all of them have drained
// their queues after ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	var wg sync.WaitGroup
	for _, shard := range d.shards {
		wg.Add(1)
		go func(queue chan *model.PositionReport) {
			defer wg.Done()
			for {
				select {
				case report := <-queue:
					d.process(report)
				case <-ctx.Done():
					for {
						select {
						case report := <-queue:
							d.process(report)
						default:
							return
						}
					}
				}
			}
		}(shard)
	}
	wg.Wait()
}

// Wait blocks until Run has drained every shard and returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) process(report *model.PositionReport) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if err := d.processor.ProcessReport(ctx, report); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			// Already counted by the rejection metrics.
			return
		}
		log.Printf("[Dispatcher] Processing failed for %s: %v", report.VehicleID, err)
	}
}
