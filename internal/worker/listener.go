package worker

import (
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Listener feeds enqueue requests from the bus into the worker queue.
type Listener struct {
	bus    *bus.Client
	worker *Worker
	sub    *nats.Subscription
	logger *slog.Logger
}

func NewListener(client *bus.Client, w *Worker, log *slog.Logger) *Listener {
	return &Listener{
		bus:    client,
		worker: w,
		logger: log.With(slog.String("component", "enqueue-listener")),
	}
}

func (l *Listener) Start() error {
	sub, err := l.bus.Conn().Subscribe(protocol.SubjectEnqueue, l.handle)
	if err != nil {
		return err
	}
	l.sub = sub
	return nil
}

func (l *Listener) Close() {
	if l.sub != nil {
		_ = l.sub.Drain()
	}
}

func (l *Listener) Healthy() bool { return l.sub != nil && l.sub.IsValid() }

func (l *Listener) handle(msg *nats.Msg) {
	var req protocol.EnqueueRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		l.logger.Warn("failed to decode enqueue request", slogError(err))
		return
	}
	id := manuscript.IDFromPath(req.ID)
	l.worker.Enqueue(id)
	l.logger.Info("enqueued from bus", slog.String("id", id), slog.String("source", req.Source))
	if msg.Reply != "" {
		_ = msg.Respond([]byte(`{"queued":true}`))
	}
}
