package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/loqalabs/loqa-narrator/internal/speech"

type ClientOptions struct {
	TransientDelay    time.Duration
	Quota             BackoffPolicy
	RequestsPerMinute int
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		TransientDelay: 10 * time.Second,
		Quota:          BackoffPolicy{Initial: time.Hour, Multiplier: 2, Max: 24 * time.Hour},
	}
}

// Client retries a Provider until it succeeds. It only gives up on malformed
// requests and context cancellation.
type Client struct {
	provider Provider
	keyring  *Keyring
	opts     ClientOptions
	limiter  *rate.Limiter
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger

	mu           sync.Mutex
	current      *Credential
	quotaAttempt int

	tracer  trace.Tracer
	retries metric.Int64Counter
	latency metric.Float64Histogram
}

// NewClient builds a client. A nil keyring sends requests without a
// credential.
func NewClient(provider Provider, keyring *Keyring, opts ClientOptions, log *slog.Logger) *Client {
	c := &Client{
		provider: provider,
		keyring:  keyring,
		opts:     opts,
		sleep:    sleepContext,
		logger:   log.With(slog.String("component", "speech-client")),
		tracer:   otel.Tracer(instrumentationName),
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), 1)
	}
	meter := otel.Meter(instrumentationName)
	if counter, err := meter.Int64Counter("narrator.provider.retries",
		metric.WithDescription("Speech provider retries by reason")); err == nil {
		c.retries = counter
	} else {
		c.logger.Warn("failed to create retry counter", slogError(err))
	}
	if hist, err := meter.Float64Histogram("narrator.synthesis.duration",
		metric.WithDescription("Successful synthesis latency"),
		metric.WithUnit("s")); err == nil {
		c.latency = hist
	} else {
		c.logger.Warn("failed to create synthesis histogram", slogError(err))
	}
	return c
}

// Synthesize returns audio and character timings for text in voice.
func (c *Client) Synthesize(ctx context.Context, text string, voice Voice) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "speech.synthesize", trace.WithAttributes(
		attribute.String("voice", voice.Name),
		attribute.Int("chars", len(text)),
	))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		err := wrap(ErrMalformedRequest, "empty text")
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if voice.ID == "" {
		err := wrap(ErrMalformedRequest, "voice %q has no id", voice.Name)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	for {
		cred, err := c.credential(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Result{}, ctx.Err()
			}
		}

		started := time.Now()
		res, err := c.provider.Synthesize(ctx, Request{Text: text, Voice: voice, Credential: cred})
		if err == nil {
			c.mu.Lock()
			c.quotaAttempt = 0
			c.mu.Unlock()
			if c.latency != nil {
				c.latency.Record(ctx, time.Since(started).Seconds())
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		reason, retry := classify(err)
		if !retry {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
		if c.retries != nil {
			c.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
		}
		span.AddEvent("retry", trace.WithAttributes(attribute.String("reason", string(reason))))

		switch reason {
		case reasonUnauthorized:
			c.logger.Warn("credential rejected, rotating", slog.String("credential", cred.ID), slogError(err))
			if err := c.rotate(ctx, cred); err != nil {
				return Result{}, err
			}
		case reasonQuota:
			c.mu.Lock()
			delay := c.opts.Quota.Delay(c.quotaAttempt)
			c.quotaAttempt++
			c.mu.Unlock()
			c.logger.Warn("provider quota exceeded, backing off", slog.Duration("delay", delay), slogError(err))
			if err := c.sleep(ctx, delay); err != nil {
				return Result{}, err
			}
		default:
			c.logger.Warn("provider unavailable, retrying", slog.Duration("delay", c.opts.TransientDelay), slogError(err))
			if err := c.sleep(ctx, c.opts.TransientDelay); err != nil {
				return Result{}, err
			}
		}
	}
}

func (c *Client) credential(ctx context.Context) (Credential, error) {
	if c.keyring == nil {
		return Credential{}, nil
	}
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil {
		return *cur, nil
	}
	cred, err := c.keyring.Active(ctx)
	if err != nil {
		return Credential{}, err
	}
	c.mu.Lock()
	c.current = &cred
	c.mu.Unlock()
	return cred, nil
}

func (c *Client) rotate(ctx context.Context, failed Credential) error {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	if c.keyring == nil {
		return c.sleep(ctx, c.opts.TransientDelay)
	}
	next, err := c.keyring.Rotate(ctx, failed)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.current = &next
	c.mu.Unlock()
	return nil
}
