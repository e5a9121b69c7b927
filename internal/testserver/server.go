// Package testserver runs an in-process object store that verifies request
// signatures, serves objects with Range support and issues temporary
// credentials. It backs the tests of the client packages.
package testserver

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-client/internal/auth"
	"github.com/prn-tf/alexander-client/internal/credentials"
	"github.com/prn-tf/alexander-client/internal/pkg/crypto"
)

// CredentialsPath serves temporary credentials.
const CredentialsPath = "/credentials"

// Object is a stored object.
type Object struct {
	Body []byte

	// ETag defaults to the quoted hex MD5 of Body.
	ETag string

	ContentType  string
	LastModified time.Time

	// Filename is sent in Content-Disposition when set.
	Filename string
}

// Server is a fake object store.
type Server struct {
	*httptest.Server

	logger   zerolog.Logger
	rules    auth.SigningRules
	tokenTTL time.Duration
	bearer   string

	mu        sync.Mutex
	objects   map[string]*Object
	secrets   map[string]string
	interrupt map[string]int64

	credentialCalls atomic.Int32
	objectRequests  atomic.Int32
	ranges          chan string
}

// Option configures a Server.
type Option func(*Server)

// WithAccessKey registers a long-lived key pair.
func WithAccessKey(accessKey, secretKey string) Option {
	return func(s *Server) { s.secrets[accessKey] = secretKey }
}

// WithSigningRules sets the rules HMAC signatures are verified with.
func WithSigningRules(rules auth.SigningRules) Option {
	return func(s *Server) { s.rules = rules }
}

// WithCredentialTTL sets the lifetime of issued credentials.
func WithCredentialTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokenTTL = ttl }
}

// WithBearerToken protects the credentials endpoint.
func WithBearerToken(token string) Option {
	return func(s *Server) { s.bearer = token }
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New starts a server that is closed when the test ends.
func New(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	s := &Server{
		logger:    zerolog.Nop(),
		rules:     auth.DefaultSigningRules(),
		tokenTTL:  time.Hour,
		objects:   make(map[string]*Object),
		secrets:   make(map[string]string),
		interrupt: make(map[string]int64),
		ranges:    make(chan string, 1024),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(s.routes())
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	verifier := &auth.Verifier{Store: s, Rules: s.rules}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Get(CredentialsPath, s.handleCredentials)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, auth.MiddlewareConfig{}, s.logger))
		r.Get("/{bucket}/*", s.handleObject)
		r.Head("/{bucket}/*", s.handleObject)
	})

	return r
}

// SecretKey implements auth.SecretStore.
func (s *Server) SecretKey(_ context.Context, accessKeyID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[accessKeyID]
	if !ok {
		return "", auth.ErrInvalidAccessKeyID
	}
	return secret, nil
}

// Put stores an object under bucket/key.
func (s *Server) Put(bucket, key string, obj Object) {
	if obj.ETag == "" {
		sum := md5.Sum(obj.Body)
		obj.ETag = `"` + hex.EncodeToString(sum[:]) + `"`
	}
	if obj.LastModified.IsZero() {
		obj.LastModified = time.Now().UTC().Truncate(time.Second)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = &obj
}

// InterruptNext makes the next GET of bucket/key drop the connection after
// n body bytes.
func (s *Server) InterruptNext(bucket, key string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupt[bucket+"/"+key] = n
}

// Revoke invalidates an access key.
func (s *Server) Revoke(accessKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, accessKey)
}

// CredentialCalls returns how many times credentials were issued.
func (s *Server) CredentialCalls() int {
	return int(s.credentialCalls.Load())
}

// ObjectRequests returns how many authenticated object requests were served.
func (s *Server) ObjectRequests() int {
	return int(s.objectRequests.Load())
}

// Ranges returns the Range headers received so far, in arrival order. An
// empty string stands for a request without Range.
func (s *Server) Ranges() []string {
	var out []string
	for {
		select {
		case r := <-s.ranges:
			out = append(out, r)
		default:
			return out
		}
	}
}

// ObjectURL returns the URL of bucket/key.
func (s *Server) ObjectURL(bucket, key string) string {
	return s.URL + "/" + bucket + "/" + key
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if s.bearer != "" && r.Header.Get("Authorization") != "Bearer "+s.bearer {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	accessKey, secretKey, err := crypto.GenerateAccessKeyPair()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.secrets[accessKey] = secretKey
	s.mu.Unlock()
	s.credentialCalls.Add(1)

	writeJSON(w, credentialsDocument{
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		SessionToken: "session-" + accessKey,
		Expiration:   time.Now().Add(s.tokenTTL).UTC(),
	})
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "bucket") + "/" + chi.URLParam(r, "*")
	s.objectRequests.Add(1)

	s.mu.Lock()
	obj, ok := s.objects[key]
	cut, interrupted := s.interrupt[key]
	if interrupted && r.Method == http.MethodGet {
		delete(s.interrupt, key)
	}
	s.mu.Unlock()

	if r.Method == http.MethodGet {
		select {
		case s.ranges <- r.Header.Get("Range"):
		default:
		}
	}

	if !ok {
		writeError(w, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
		return
	}

	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Accept-Ranges", "bytes")
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+obj.Filename+`"`)
	}

	if interrupted && r.Method == http.MethodGet {
		w = &cuttingWriter{ResponseWriter: w, remaining: cut}
	}

	http.ServeContent(w, r, "", obj.LastModified, bytes.NewReader(obj.Body))
}

// cuttingWriter aborts the response after a number of body bytes.
type cuttingWriter struct {
	http.ResponseWriter
	remaining int64
}

func (c *cuttingWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.ResponseWriter.Write(p)
	c.remaining -= int64(n)
	if err == nil && c.remaining <= 0 {
		if f, ok := c.ResponseWriter.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	return n, err
}

// Credentials returns the key pair registered under accessKey.
func (s *Server) Credentials(accessKey string) credentials.Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	return credentials.Static{AccessKey: accessKey, SecretKey: s.secrets[accessKey]}
}
