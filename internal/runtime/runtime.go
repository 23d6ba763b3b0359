// Package runtime wires the narrator daemon together from configuration and
// serves its HTTP API.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/catalog"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/natsserver"
	"github.com/loqalabs/loqa-narrator/internal/normalize"
	"github.com/loqalabs/loqa-narrator/internal/source"
	"github.com/loqalabs/loqa-narrator/internal/speech"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"github.com/loqalabs/loqa-narrator/internal/worker"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	metrics        http.Handler
	ready          atomic.Bool
	wg             sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *catalog.Store
	layout    *storage.Layout
	worker    *worker.Worker
	service   *worker.Service
	listener  *worker.Listener
	stopWatch context.CancelFunc
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry
	r.metrics = metricHandler

	if err := r.open(ctx); err != nil {
		r.close()
		return err
	}
	if err := r.worker.Start(); err != nil {
		r.close()
		return err
	}
	if r.listener != nil {
		if err := r.listener.Start(); err != nil {
			r.close()
			return fmt.Errorf("subscribe to enqueue requests: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.close()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Handler is the API served by Start. It is only valid after open.
func (r *Runtime) Handler() http.Handler {
	return NewAPIHandler(APIOptions{
		Reader:  r.service,
		Catalog: r.store,
		Sitemap: manuscript.SitemapOptions{
			BaseURL:     r.cfg.Sitemap.BaseURL,
			ArticlePath: r.cfg.Sitemap.ArticlePath,
			ChangeFreq:  r.cfg.Sitemap.ChangeFreq,
		},
		Files:   http.FileServer(http.Dir(r.layout.WebDir())),
		Metrics: r.metrics,
		Ready:   r.healthy,
	}, r.logger)
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() || !r.worker.Healthy() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.store.Ping(ctx); err != nil {
		r.logger.Warn("catalog not answering", slogError(err))
		return false
	}
	return true
}

// open builds every component from the configuration.
func (r *Runtime) open(ctx context.Context) error {
	cfg := r.cfg

	store, err := catalog.Open(ctx, cfg.Catalog, r.logger)
	if err != nil {
		return err
	}
	r.store = store
	r.layout = storage.New(cfg.Storage.WebDir)

	src, err := source.NewHTTPSource(source.Options{
		BaseURL:     cfg.Source.BaseURL,
		SiteURL:     cfg.Source.SiteURL,
		ContentID:   cfg.Source.ContentID,
		UserAgent:   cfg.Source.UserAgent,
		Timeout:     time.Duration(cfg.Source.TimeoutMS) * time.Millisecond,
		TLSInsecure: cfg.Source.TLSInsecure,
	})
	if err != nil {
		return err
	}

	voices, err := r.loadVoices()
	if err != nil {
		return err
	}
	client, err := r.speechClient(ctx)
	if err != nil {
		return err
	}

	normRules := make([]normalize.Rule, 0, len(cfg.Normalize.Rules))
	for _, rule := range cfg.Normalize.Rules {
		normRules = append(normRules, normalize.Rule{Pattern: rule.Pattern, Replacement: rule.Replacement})
	}
	normalizer, err := normalize.New(normRules...)
	if err != nil {
		return err
	}
	corrRules := make([]alignment.Rule, 0, len(cfg.Alignment.Rules))
	for _, rule := range cfg.Alignment.Rules {
		corrRules = append(corrRules, alignment.Rule{
			Pattern:     rule.Pattern,
			Replacement: rule.Replacement,
			Offset:      rule.Offset,
			Regex:       rule.Regex,
		})
	}
	corrector, err := alignment.NewCorrector(corrRules...)
	if err != nil {
		return err
	}
	r.logger.Debug("text rules loaded", slog.Int("normalize", normalizer.Len()), slog.Int("alignment", len(corrRules)))
	policy, err := manuscript.NewPolicy(cfg.Worker.Disallow, cfg.Worker.Allow)
	if err != nil {
		return err
	}
	policy.MaxSections = cfg.Worker.MaxSections

	var concat audio.Concatenator
	if cfg.Audio.Enabled {
		c, err := audio.NewExecConcatenator(cfg.Audio.Command, cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		concat = c
	}

	var publisher worker.Publisher
	if cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return err
		}
		publisher = r.bus
	}

	silence := make(map[manuscript.Kind]time.Duration, len(cfg.Audio.SilenceMS))
	for kind, ms := range cfg.Audio.SilenceMS {
		silence[manuscript.Kind(kind)] = time.Duration(ms) * time.Millisecond
	}
	w, err := worker.New(ctx, worker.Options{
		Generate: cfg.Worker.Generate,
		Regeneration: manuscript.Regeneration{
			Refresh:       cfg.Worker.Refresh,
			AlwaysUpdate:  cfg.Worker.AlwaysUpdate,
			AlwaysRefresh: cfg.Worker.AlwaysRefresh,
		},
		SystemVoice:   cfg.Speech.SystemVoice,
		ListItemRules: cfg.Alignment.ListItems,
		Silence:       silence,
		DefaultPause:  time.Duration(cfg.Audio.DefaultSilenceMS) * time.Millisecond,
	}, worker.Deps{
		Catalog:    store,
		Source:     src,
		Speech:     client,
		Voices:     voices,
		Policy:     policy,
		Normalizer: normalizer,
		Corrector:  corrector,
		Layout:     r.layout,
		Concat:     concat,
		Bus:        publisher,
	}, r.logger)
	if err != nil {
		return err
	}
	r.worker = w
	r.service = worker.NewService(w, r.logger)
	if r.bus != nil {
		r.listener = worker.NewListener(r.bus, w, r.logger)
	}
	return nil
}

// loadVoices falls back to the system voice alone when no voices file
// exists, which is enough for the mock provider.
func (r *Runtime) loadVoices() (speech.Voices, error) {
	voices, err := speech.LoadVoices(r.cfg.Speech.VoicesPath)
	if err == nil {
		return voices, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	r.logger.Warn("voices file not found, using the system voice only", slog.String("path", r.cfg.Speech.VoicesPath))
	name := r.cfg.Speech.SystemVoice
	return speech.Voices{{ID: name, Name: name, Use: true}}, nil
}

func (r *Runtime) speechClient(ctx context.Context) (*speech.Client, error) {
	cfg := r.cfg.Speech
	provider, err := speech.NewProvider(speech.ProviderOptions{
		Kind:     cfg.Provider,
		Endpoint: cfg.Endpoint,
		Command:  cfg.Command,
		Timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	keyring, err := r.keyring(ctx)
	if err != nil {
		return nil, err
	}
	opts := speech.DefaultClientOptions()
	if cfg.TransientDelayMS > 0 {
		opts.TransientDelay = time.Duration(cfg.TransientDelayMS) * time.Millisecond
	}
	if cfg.QuotaBackoffInitialSeconds > 0 {
		opts.Quota.Initial = time.Duration(cfg.QuotaBackoffInitialSeconds) * time.Second
	}
	if cfg.QuotaBackoffMultiplier > 0 {
		opts.Quota.Multiplier = cfg.QuotaBackoffMultiplier
	}
	if cfg.QuotaBackoffMaxSeconds > 0 {
		opts.Quota.Max = time.Duration(cfg.QuotaBackoffMaxSeconds) * time.Second
	}
	opts.RequestsPerMinute = cfg.RequestsPerMinute
	r.logger.Info("speech provider configured", slog.String("provider", cfg.Provider), slog.Bool("credentials", keyring != nil))
	return speech.NewClient(provider, keyring, opts, r.logger), nil
}

// keyring prefers an inline api key, then the credentials file. The mock and
// exec providers run without credentials.
func (r *Runtime) keyring(ctx context.Context) (*speech.Keyring, error) {
	cfg := r.cfg.Speech
	poll := time.Duration(cfg.CredentialPollSeconds) * time.Second
	if cfg.APIKey != "" {
		store := speech.NewStaticCredentials(speech.Credential{ID: "config", Keys: []string{cfg.APIKey}, Enabled: true})
		return speech.NewKeyring(store, poll, r.logger), nil
	}
	if cfg.CredentialsPath != "" {
		if _, err := os.Stat(cfg.CredentialsPath); err == nil {
			file := speech.NewFileCredentials(cfg.CredentialsPath)
			keyring := speech.NewKeyring(file, poll, r.logger)
			watchCtx, cancel := context.WithCancel(ctx)
			wake, err := file.Watch(watchCtx, r.logger)
			if err != nil {
				cancel()
				r.logger.Warn("cannot watch credentials file, relying on polling", slogError(err))
			} else {
				r.stopWatch = cancel
				keyring.SetWake(wake)
			}
			return keyring, nil
		}
	}
	switch cfg.Provider {
	case speech.ProviderElevenLabs, speech.ProviderElevenLabsHTTP:
		return nil, fmt.Errorf("speech provider %s needs speech.api_key or a credentials file at %s", cfg.Provider, cfg.CredentialsPath)
	}
	return nil, nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// close releases components in reverse order of open. It tolerates a
// partially opened runtime.
func (r *Runtime) close() {
	if r.listener != nil {
		r.listener.Close()
	}
	if r.worker != nil {
		r.worker.Close()
	}
	if r.stopWatch != nil {
		r.stopWatch()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("catalog close error", slogError(err))
		}
	}
}
