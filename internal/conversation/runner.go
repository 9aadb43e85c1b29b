package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/messaging"
	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/cespare/xxhash/v2"
)

// Runner defaults.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64
)

// RunnerOpts holds configuration options for a Runner.
type RunnerOpts struct {
	Workers   int
	QueueSize int
	Clock     func() time.Time
}

// RunnerOption defines a functional option for configuring a Runner.
type RunnerOption func(*RunnerOpts)

// WithWorkers sets the number of shard workers.
func WithWorkers(n int) RunnerOption {
	return func(o *RunnerOpts) {
		o.Workers = n
	}
}

// WithQueueSize sets the per-shard queue length.
func WithQueueSize(n int) RunnerOption {
	return func(o *RunnerOpts) {
		o.QueueSize = n
	}
}

// WithRunnerClock overrides the time passed to the dispatcher.
func WithRunnerClock(clock func() time.Time) RunnerOption {
	return func(o *RunnerOpts) {
		o.Clock = clock
	}
}

// Runner pumps a messaging.Service's inbound channel through a Dispatcher and sends the replies.
// Messages are sharded by user id so each user's messages are handled in arrival order,
// while different users proceed in parallel.
type Runner struct {
	dispatcher *Dispatcher
	service    messaging.Service
	shards     []chan models.InboundMessage
	clock      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(d *Dispatcher, svc messaging.Service, opts ...RunnerOption) *Runner {
	cfg := RunnerOpts{Workers: DefaultWorkers, QueueSize: DefaultQueueSize, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	shards := make([]chan models.InboundMessage, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan models.InboundMessage, cfg.QueueSize)
	}
	return &Runner{dispatcher: d, service: svc, shards: shards, clock: cfg.Clock}
}

// Run blocks until ctx is done or the service's inbound channel is closed.
// Queued messages are drained before it returns.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, ch := range r.shards {
		wg.Add(1)
		go func(id int, ch <-chan models.InboundMessage) {
			defer wg.Done()
			r.work(ctx, id, ch)
		}(i, ch)
	}
	defer func() {
		for _, ch := range r.shards {
			close(ch)
		}
		wg.Wait()
		slog.Debug("Runner.Run: workers stopped")
	}()

	inbound := r.service.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				slog.Info("Runner.Run: inbound channel closed")
				return nil
			}
			select {
			case r.shardFor(msg.UserID) <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *Runner) shardFor(userID models.UserID) chan models.InboundMessage {
	return r.shards[xxhash.Sum64String(userID.String())%uint64(len(r.shards))]
}

func (r *Runner) work(ctx context.Context, id int, ch <-chan models.InboundMessage) {
	// In-flight and queued messages finish even after shutdown starts.
	ctx = context.WithoutCancel(ctx)
	for msg := range ch {
		reply := r.dispatcher.Handle(ctx, msg, r.clock())
		if reply.Empty() {
			continue
		}
		if err := r.service.SendReply(ctx, reply); err != nil {
			slog.Error("Runner: failed to send reply", "worker", id, "user_id", reply.To, "error", err)
		}
	}
}
