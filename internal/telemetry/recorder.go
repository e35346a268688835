package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/touchlink/gateway/internal/logger"
	"github.com/touchlink/gateway/internal/metrics"
	"github.com/touchlink/gateway/internal/workers"
	"go.uber.org/zap"
)

// recordableEvents lists what the recorder persists. High-frequency noise
// like vibration frames is deliberately left out.
var recordableEvents = map[string]struct{}{
	"device:command":             {},
	"device:status:update":       {},
	"presence:changed":           {},
	"sync:story:progress:update": {},
}

// Recorder subscribes to router publishes and persists a durable history
// of them. It is an external consumer of the router: losing it never
// affects delivery, and writes go through a worker pool so they can never
// block a publish.
type Recorder struct {
	store *Store
	pool  *workers.WorkerPool
	log   *zap.Logger
}

// NewRecorder wires a recorder to its store and worker pool.
func NewRecorder(store *Store, pool *workers.WorkerPool) *Recorder {
	return &Recorder{
		store: store,
		pool:  pool,
		log:   logger.New("recorder"),
	}
}

// Tap is the hook handed to the router. It filters, marshals, and hands
// the write off without blocking.
func (r *Recorder) Tap(topic, event string, data any) {
	if _, ok := recordableEvents[event]; !ok {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		r.log.Warn("Failed to marshal telemetry payload",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	if ok := r.pool.AddJob(func() { r.write(topic, event, payload) }); !ok {
		r.log.Warn("Telemetry queue full, dropping record",
			zap.String("topic", topic),
			zap.String("event", event))
	}
}

// Recordable reports whether an event would be persisted.
func Recordable(event string) bool {
	_, ok := recordableEvents[event]
	return ok
}

func (r *Recorder) write(topic, event string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.store.Pool.Exec(ctx,
		`INSERT INTO gateway_events (topic, event, payload) VALUES ($1, $2, $3)`,
		topic, event, payload)
	if err != nil {
		r.log.Warn("Telemetry write failed",
			zap.String("topic", topic),
			zap.String("event", event),
			zap.Error(err))
		return
	}
	metrics.TelemetryWrites.Inc()
}
