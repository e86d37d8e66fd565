package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var schedulerItemsAdded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_scheduler_items_added",
	Help: "Number of gateway events queued for handling",
})

var schedulerItemsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_scheduler_items_processed",
	Help: "Number of gateway events handled",
})

var schedulerWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_scheduler_workers_active",
	Help: "Number of event handler workers",
})

const handlerTimeout = time.Minute

// Runs event handlers on a fixed number of workers. Events sharing a key (eg,
// messages in one channel) are handled in arrival order, one at a time;
// events with distinct keys run in parallel.
type Scheduler struct {
	maxConcurrency int

	do func(context.Context, *Event) error

	feeder chan *task
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*task

	log *slog.Logger
}

type task struct {
	key     string
	val     *Event
	control string
}

func NewScheduler(maxC int, do func(context.Context, *Event) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxC <= 0 {
		maxC = 1
	}
	p := &Scheduler{
		maxConcurrency: maxC,
		do:             do,
		feeder:         make(chan *task),
		active:         make(map[string][]*task),
		out:            make(chan struct{}),
		log:            logger.With("system", "scheduler"),
	}

	for i := 0; i < maxC; i++ {
		go p.worker()
	}
	schedulerWorkersActive.Set(float64(maxC))
	return p
}

// Stops workers after the events already queued have been handled.
func (p *Scheduler) Shutdown() {
	p.log.Info("shutting down event scheduler")

	for i := 0; i < p.maxConcurrency; i++ {
		p.feeder <- &task{
			control: "stop",
		}
	}
	close(p.feeder)

	for i := 0; i < p.maxConcurrency; i++ {
		<-p.out
	}
	schedulerWorkersActive.Set(0)
	p.log.Info("event scheduler shutdown complete")
}

func (p *Scheduler) AddWork(ctx context.Context, key string, val *Event) error {
	schedulerItemsAdded.Inc()
	t := &task{
		key: key,
		val: val,
	}
	p.lk.Lock()

	a, ok := p.active[key]
	if ok {
		p.active[key] = append(a, t)
		p.lk.Unlock()
		return nil
	}

	p.active[key] = []*task{}
	p.lk.Unlock()

	select {
	case p.feeder <- t:
		return nil
	case <-ctx.Done():
		p.lk.Lock()
		delete(p.active, key)
		p.lk.Unlock()
		return ctx.Err()
	}
}

func (p *Scheduler) run(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			gatewayHandlerErrors.WithLabelValues(t.val.Type).Inc()
			p.log.Error("event handler panic", "type", t.val.Type, "err", fmt.Sprint(r))
		}
	}()
	if err := p.do(ctx, t.val); err != nil {
		gatewayHandlerErrors.WithLabelValues(t.val.Type).Inc()
		p.log.Error("event handler failed", "type", t.val.Type, "err", err)
	}
}

func (p *Scheduler) worker() {
	for work := range p.feeder {
		for work != nil {
			if work.control == "stop" {
				p.out <- struct{}{}
				return
			}

			p.run(work)
			schedulerItemsProcessed.Inc()

			p.lk.Lock()
			rem, ok := p.active[work.key]
			if !ok {
				p.log.Error("should always have an 'active' entry if a worker is processing a job")
			}

			if len(rem) == 0 {
				delete(p.active, work.key)
				work = nil
			} else {
				work = rem[0]
				p.active[work.key] = rem[1:]
			}
			p.lk.Unlock()
		}
	}
}
