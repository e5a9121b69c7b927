package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-client/internal/cache"
	"github.com/prn-tf/alexander-client/internal/lock"
	"github.com/prn-tf/alexander-client/internal/pkg/crypto"
)

// CachedConfig configures a CachedProvider.
type CachedConfig struct {
	// Name scopes the cache and lock keys.
	Name string

	// DefaultTTL applies to credentials without an expiry.
	DefaultTTL time.Duration

	// ExpiryMargin is subtracted from the credentials' expiry when computing
	// the cache TTL, so cached entries are dropped before they stop working.
	ExpiryMargin time.Duration

	// LockTTL bounds how long one process may hold the refresh lock.
	LockTTL time.Duration

	// LockRetries and LockRetryDelay control waiting for another refresher.
	LockRetries    int
	LockRetryDelay time.Duration
}

// CachedProvider shares fetched credentials through a cache.Cache so several
// processes refresh once between them. The secret key is stored encrypted
// when an Encryptor is given.
type CachedProvider struct {
	next   Provider
	cache  cache.Cache
	locker lock.Locker
	enc    *crypto.Encryptor
	cfg    CachedConfig
	logger zerolog.Logger
	now    func() time.Time
}

// cachedEntry is the cache wire format.
type cachedEntry struct {
	AccessKey string    `json:"accessKey"`
	SecretKey string    `json:"secretKey"`
	Token     string    `json:"token,omitempty"`
	Expires   time.Time `json:"expires,omitempty"`
	Encrypted bool      `json:"encrypted,omitempty"`
}

// NewCachedProvider decorates next. enc may be nil.
func NewCachedProvider(next Provider, c cache.Cache, locker lock.Locker, enc *crypto.Encryptor, cfg CachedConfig, logger zerolog.Logger) *CachedProvider {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 100 * time.Millisecond
	}
	if locker == nil {
		locker = lock.NewNoOpLocker()
	}

	return &CachedProvider{
		next:   next,
		cache:  c,
		locker: locker,
		enc:    enc,
		cfg:    cfg,
		logger: logger.With().Str("component", "credentials_cache").Logger(),
		now:    time.Now,
	}
}

// Fetch implements Provider.
func (p *CachedProvider) Fetch(ctx context.Context) (Credentials, error) {
	if creds, ok := p.load(ctx); ok {
		return creds, nil
	}

	lockKey := lock.Keys.CredentialRefresh(p.cfg.Name)
	acquired, err := p.locker.AcquireWithRetry(ctx, lockKey, p.cfg.LockTTL, p.cfg.LockRetries, p.cfg.LockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &FetchError{Err: err}
		}
		p.logger.Warn().Err(err).Msg("refresh lock unavailable, fetching without it")
	}
	if acquired {
		defer func() {
			if _, err := p.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
				p.logger.Warn().Err(err).Msg("failed to release refresh lock")
			}
		}()
	}

	// Another process may have refreshed while we waited for the lock.
	if creds, ok := p.load(ctx); ok {
		return creds, nil
	}

	creds, err := p.next.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	p.store(ctx, creds)
	return creds, nil
}

func (p *CachedProvider) key() string {
	return cache.Keys.Credentials(p.cfg.Name)
}

func (p *CachedProvider) load(ctx context.Context) (Credentials, bool) {
	data, err := p.cache.Get(ctx, p.key())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn().Err(err).Msg("credential cache read failed")
		}
		return nil, false
	}

	creds, err := p.decode(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("discarding unreadable cached credentials")
		return nil, false
	}

	if !creds.ValidAt(p.now().Add(p.cfg.ExpiryMargin)) {
		return nil, false
	}

	p.logger.Debug().Object("credentials", creds).Msg("using cached credentials")
	return creds, true
}

func (p *CachedProvider) store(ctx context.Context, creds Credentials) {
	ttl := p.cfg.DefaultTTL
	if exp, ok := creds.Expiration(); ok {
		ttl = exp.Sub(p.now()) - p.cfg.ExpiryMargin
	}
	if ttl <= 0 {
		return
	}

	data, err := p.encode(creds)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode credentials for cache")
		return
	}

	if err := p.cache.Set(ctx, p.key(), data, ttl); err != nil {
		p.logger.Warn().Err(err).Msg("credential cache write failed")
	}
}

func (p *CachedProvider) encode(creds Credentials) ([]byte, error) {
	entry := cachedEntry{
		AccessKey: creds.AccessKeyID(),
		SecretKey: creds.SecretAccessKey(),
		Token:     creds.SessionToken(),
	}
	if exp, ok := creds.Expiration(); ok {
		entry.Expires = exp
	}

	if p.enc != nil {
		sealed, err := p.enc.Encrypt([]byte(entry.SecretKey))
		if err != nil {
			return nil, err
		}
		entry.SecretKey = sealed
		entry.Encrypted = true
	}

	return json.Marshal(entry)
}

func (p *CachedProvider) decode(data []byte) (Static, error) {
	var entry cachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Static{}, fmt.Errorf("decoding cached credentials: %w", err)
	}

	if entry.Encrypted {
		if p.enc == nil {
			return Static{}, errors.New("cached secret is encrypted but no key is configured")
		}
		secret, err := p.enc.Decrypt(entry.SecretKey)
		if err != nil {
			return Static{}, err
		}
		entry.SecretKey = string(secret)
	}

	return Static{
		AccessKey: entry.AccessKey,
		SecretKey: entry.SecretKey,
		Token:     entry.Token,
		Expires:   entry.Expires,
	}, nil
}

var _ Provider = (*CachedProvider)(nil)
