package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/prn-tf/alexander-client/internal/auth"
	"github.com/prn-tf/alexander-client/internal/cache"
	"github.com/prn-tf/alexander-client/internal/cache/memory"
	"github.com/prn-tf/alexander-client/internal/cache/redis"
	"github.com/prn-tf/alexander-client/internal/config"
	"github.com/prn-tf/alexander-client/internal/credentials"
	"github.com/prn-tf/alexander-client/internal/lock"
	"github.com/prn-tf/alexander-client/internal/metrics"
	"github.com/prn-tf/alexander-client/internal/pkg/crypto"
	"github.com/prn-tf/alexander-client/internal/progress"
	"github.com/prn-tf/alexander-client/internal/repository"
	"github.com/prn-tf/alexander-client/internal/resource"
	"github.com/prn-tf/alexander-client/internal/transfer"
)

const (
	tracerName = "github.com/prn-tf/alexander-client"

	// cacheKeyInfo separates the cache encryption key from other keys
	// derived from the same passphrase.
	cacheKeyInfo = "alexander-client credential cache"
)

// app holds the components a command needs, built from the configuration.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	provider *auth.Provider
	client   *http.Client
	locker   lock.Locker
	journal  *repository.Journal

	closers []func() error
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// newApp wires credentials, signing, metrics and the journal. withJournal
// skips opening the database for commands that never transfer.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withJournal bool) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		tracer:   otel.Tracer(tracerName),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(a.metrics),
		auth.WithTracer(a.tracer),
	}
	opts = append(opts, signingOptions(cfg.Signing)...)

	creds, fetcher, err := a.credentialSource(ctx)
	if err != nil {
		return nil, err
	}
	if creds != nil {
		opts = append(opts, auth.WithCredentials(creds))
	}
	if fetcher != nil {
		opts = append(opts, auth.WithCredentialsProvider(fetcher))
	}
	a.provider = auth.NewProvider(opts...)

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = cfg.Endpoint.Timeout
	signing := &auth.Transport{
		Provider:       a.provider,
		Base:           base,
		RetryForbidden: cfg.Signing.RetryForbidden,
	}
	var rt http.RoundTripper = signing
	if cfg.Endpoint.UserAgent != "" {
		rt = userAgent{value: cfg.Endpoint.UserAgent, base: signing}
	}
	a.client = &http.Client{Transport: rt}

	if withJournal {
		a.journal, err = repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		if a.journal != nil {
			a.closers = append(a.closers, a.journal.Close)
		}
	}

	if cfg.Metrics.Enabled {
		a.serveMetrics()
	}

	return a, nil
}

// signingOptions selects the signer and the request fields it covers.
func signingOptions(cfg config.SigningConfig) []auth.Option {
	var (
		signer auth.Signer
		rules  auth.SigningRules
	)
	switch cfg.Version {
	case config.SigningV4:
		signer = auth.NewV4Signer(cfg.Region, cfg.Service)
		rules = auth.V4SigningRules()
	default:
		signer = auth.HMACSigner{Scheme: cfg.Scheme}
		rules = auth.DefaultSigningRules()
	}

	if len(cfg.HeaderPrefixes) > 0 {
		rules.HeaderPrefixes = cfg.HeaderPrefixes
	}
	rules.Headers = append(rules.Headers, cfg.Headers...)
	if len(cfg.SubResources) > 0 {
		rules.SubResources = cfg.SubResources
	}

	return []auth.Option{auth.WithSigner(signer), auth.WithSigningRules(rules)}
}

// credentialSource returns either fixed credentials or a provider to fetch
// them from. Fetched credentials go through the shared cache when one is
// configured.
func (a *app) credentialSource(ctx context.Context) (credentials.Credentials, credentials.Provider, error) {
	cfg := a.cfg.Credentials

	var fetcher credentials.Provider
	switch cfg.Source {
	case config.SourceStatic:
		return credentials.Static{
			AccessKey: cfg.AccessKeyID,
			SecretKey: cfg.SecretAccessKey,
			Token:     cfg.SessionToken,
		}, nil, nil

	case config.SourceEndpoint:
		resOpts := []resource.Option{
			resource.WithLogger(a.logger),
			resource.WithTracer(a.tracer),
		}
		if ua := a.cfg.Endpoint.UserAgent; ua != "" {
			resOpts = append(resOpts, resource.WithHeader("User-Agent", ua))
		}
		if cfg.BearerToken != "" {
			resOpts = append(resOpts, resource.WithBearerToken(cfg.BearerToken))
		}
		res, err := resource.New(cfg.EndpointURL, resOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("configuring credentials endpoint: %w", err)
		}
		fetcher = credentials.NewResourceProvider(res, cfg.EndpointPath, credentials.JSONTransform,
			credentials.WithFetchTimeout(cfg.FetchTimeout),
			credentials.WithLogger(a.logger),
		)

	case config.SourceAWS:
		p, err := credentials.LoadAWSProvider(ctx, cfg.Profile, cfg.Region)
		if err != nil {
			return nil, nil, err
		}
		fetcher = p

	default:
		return nil, nil, fmt.Errorf("unknown credentials source %q", cfg.Source)
	}

	c, err := a.sharedCache(ctx)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return nil, fetcher, nil
	}

	var enc *crypto.Encryptor
	if key := a.cfg.Cache.EncryptionKey; key != "" {
		enc, err = crypto.NewEncryptorFromPassphrase(key, cacheKeyInfo)
		if err != nil {
			return nil, nil, fmt.Errorf("deriving cache key: %w", err)
		}
	}

	cc := a.cfg.Cache
	return nil, credentials.NewCachedProvider(fetcher, c, a.locker, enc, credentials.CachedConfig{
		Name:           cc.Name,
		DefaultTTL:     cc.DefaultTTL,
		ExpiryMargin:   cc.ExpiryMargin,
		LockTTL:        cc.LockTTL,
		LockRetries:    cc.LockRetries,
		LockRetryDelay: cc.LockRetryDelay,
	}, a.logger), nil
}

// sharedCache opens the configured credential cache and the matching locker.
func (a *app) sharedCache(ctx context.Context) (cache.Cache, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheMemory:
		c := memory.NewCache()
		a.closers = append(a.closers, func() error { c.Stop(); return nil })
		a.locker = lock.NewMemoryLocker()
		return c, nil

	case config.CacheRedis:
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:     a.cfg.Redis.Addr(),
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.locker = lock.NewRedisLocker(client)
		return redis.NewCache(client), nil

	default:
		return nil, nil
	}
}

// downloader builds a Downloader from the transfer section.
func (a *app) downloader(cfg config.TransferConfig) *transfer.Downloader {
	opts := []transfer.Option{
		transfer.WithLogger(a.logger),
		transfer.WithMetrics(a.metrics),
		transfer.WithTracer(a.tracer),
		transfer.WithChunkSize(cfg.ChunkSize),
		transfer.WithConcurrency(cfg.Concurrency),
		transfer.WithBandwidthLimit(cfg.BandwidthLimit),
		transfer.WithThroughputSmoothing(cfg.Alpha, cfg.SampleInterval),
		transfer.WithVerifyETag(cfg.VerifyETag),
	}
	if cfg.ProgressInterval > 0 {
		opts = append(opts, transfer.WithObserver(progress.LogObserver(a.logger, cfg.ProgressInterval)))
	}
	if a.journal != nil {
		opts = append(opts, transfer.WithJournal(a.journal.Transfers))
	}
	if a.locker != nil {
		opts = append(opts, transfer.WithLocker(a.locker, 0))
	}
	return transfer.NewDownloader(a.client, opts...)
}

// serveMetrics exposes the registry until the app is closed.
func (a *app) serveMetrics() {
	r := chi.NewRouter()
	r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server failed")
		}
	}()
	a.logger.Info().Str("addr", srv.Addr).Str("path", a.cfg.Metrics.Path).Msg("serving metrics")

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// userAgent sets the User-Agent header on every request.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.value)
	return u.base.RoundTrip(r)
}
