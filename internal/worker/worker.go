// Package worker owns the generation queue. A single goroutine drains it,
// turning each identifier into a narrated manuscript; readers only ever see
// the catalog and never wait for generation.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/normalize"
	"github.com/loqalabs/loqa-narrator/internal/segment"
	"github.com/loqalabs/loqa-narrator/internal/speech"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Catalog is the manuscript store the worker reads and writes.
type Catalog interface {
	Get(ctx context.Context, id string) (manuscript.Manuscript, bool, error)
	Upsert(ctx context.Context, m manuscript.Manuscript) error
	InsertIfAbsent(ctx context.Context, m manuscript.Manuscript) (bool, error)
	MarkGenerating(ctx context.Context, m manuscript.Manuscript) error
	SetProgress(ctx context.Context, id string, progress float64) error
	SetCompleteAudio(ctx context.Context, id, path, url string) error
}

// Source fetches article documents.
type Source interface {
	ArticleURL(id string) string
	Fetch(ctx context.Context, id string) (segment.Document, error)
}

// Synthesizer turns text into audio and character timings.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice speech.Voice) (speech.Result, error)
}

// Publisher sends bus events. It may be nil.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type Options struct {
	Generate      bool
	Regeneration  manuscript.Regeneration
	SystemVoice   string
	ListItemRules bool
	Silence       map[manuscript.Kind]time.Duration
	DefaultPause  time.Duration
}

type Deps struct {
	Catalog    Catalog
	Source     Source
	Speech     Synthesizer
	Voices     speech.Voices
	Policy     *manuscript.Policy
	Normalizer *normalize.Normalizer
	Corrector  *alignment.Corrector
	Layout     *storage.Layout
	// Concat builds complete audio files. Nil disables them.
	Concat audio.Concatenator
	Bus    Publisher
}

// Worker consumes the queue on exactly one goroutine.
type Worker struct {
	opts    Options
	deps    Deps
	queue   *Queue
	rng     *rand.Rand
	clock   func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

func New(parent context.Context, opts Options, deps Deps, log *slog.Logger) (*Worker, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("worker: catalog is required")
	case deps.Source == nil:
		return nil, errors.New("worker: source is required")
	case deps.Speech == nil:
		return nil, errors.New("worker: speech client is required")
	case deps.Policy == nil, deps.Normalizer == nil, deps.Corrector == nil, deps.Layout == nil:
		return nil, errors.New("worker: policy, normalizer, corrector and layout are required")
	}
	ctx, cancel := context.WithCancel(parent)
	logger := log.With(slog.String("component", "worker"))
	queue := NewQueue()
	return &Worker{
		opts:    opts,
		deps:    deps,
		queue:   queue,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6e617272)),
		clock:   time.Now,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newMetrics(queue, logger),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Queue exposes the worker's queue to producers.
func (w *Worker) Queue() *Queue { return w.queue }

// Enqueue schedules id for processing.
func (w *Worker) Enqueue(id string) {
	w.queue.Push(id)
	w.logger.Debug("enqueued", slog.String("id", id), slog.Int("depth", w.queue.Len()))
}

func (w *Worker) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker already started")
	}
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("worker started", slog.Bool("generate", w.opts.Generate))
	return nil
}

func (w *Worker) Close() {
	w.cancel()
	w.wg.Wait()
	w.metrics.close()
}

func (w *Worker) Healthy() bool { return w.running.Load() && w.ctx.Err() == nil }

func (w *Worker) loop() {
	defer w.wg.Done()
	defer w.running.Store(false)
	for {
		id, err := w.queue.Pop(w.ctx)
		if err != nil {
			return
		}
		w.processSafely(id)
	}
}

// processSafely keeps one item's failure from stopping the loop.
func (w *Worker) processSafely(id string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing", slog.String("id", id), slog.Any("panic", r))
		}
	}()
	if err := w.Process(w.ctx, id); err != nil && w.ctx.Err() == nil {
		w.logger.Error("processing failed", slog.String("id", id), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
