package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/prn-tf/alexander-client/internal/config"
	"github.com/prn-tf/alexander-client/internal/repository"
	"github.com/prn-tf/alexander-client/internal/transfer"
)

func runGet(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Configuration file")
	chunkSize := fs.Int64("chunk-size", -1, "Chunk size in bytes, 0 disables chunking (default from config)")
	concurrency := fs.Int("concurrency", 0, "Parallel chunk requests (default from config)")
	limit := fs.Int64("limit", -1, "Bandwidth limit in bytes per second, 0 is unlimited (default from config)")
	single := fs.Bool("single", false, "Download as one stream regardless of size")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: alexander-client get [options] <bucket/key> [destination]

Download an object. An interrupted download is resumed on the next run as
long as the object has not changed. The destination defaults to the last
element of the key.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return ExitInvalidArgs
	}

	objectPath := strings.TrimPrefix(fs.Arg(0), "/")
	if !strings.Contains(objectPath, "/") {
		fmt.Fprintln(stderr, "Error: object must be given as <bucket>/<key>")
		return ExitInvalidArgs
	}
	dest := fs.Arg(1)
	if dest == "" {
		dest = path.Base(objectPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	if *chunkSize >= 0 {
		cfg.Transfer.ChunkSize = *chunkSize
	}
	if *concurrency > 0 {
		cfg.Transfer.Concurrency = *concurrency
	}
	if *limit >= 0 {
		cfg.Transfer.BandwidthLimit = *limit
	}

	logger := newLogger(cfg.Logging, stderr)
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return ExitGeneralError
	}
	defer a.Close()

	var opts []transfer.DownloadOption
	if *single {
		opts = append(opts, transfer.WithSingleFile())
	}

	res, err := a.downloader(cfg.Transfer).Download(ctx, objectURL(cfg.Endpoint.URL, objectPath), dest, opts...)
	if err != nil {
		logger.Error().Err(err).Str("object", objectPath).Msg("download failed")
		if transfer.Resumable(err) {
			fmt.Fprintln(stderr, "Run again to resume")
		}
		return ExitTransferError
	}

	fmt.Fprintf(stdout, "%s\t%s\t%s\n", res.Destination, humanize.IBytes(uint64(res.Size)), res.Mode)
	return ExitSuccess
}

func runSign(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Configuration file")
	contentType := fs.String("content-type", "", "Content-Type of the request")
	contentMD5 := fs.String("content-md5", "", "Content-MD5 of the request")
	var headers headerFlags
	fs.Var(&headers, "H", "Extra header as 'Name: value' (repeatable)")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: alexander-client sign [options] <METHOD> <path>

Print the headers that authenticate a request, using the configured
credentials and signing scheme. The path may carry a query string.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	logger := newLogger(cfg.Logging, stderr)
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return ExitGeneralError
	}
	defer a.Close()

	target := strings.TrimSuffix(cfg.Endpoint.URL, "/") + "/" + strings.TrimPrefix(fs.Arg(1), "/")
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(fs.Arg(0)), target, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *contentType != "" {
		req.Header.Set("Content-Type", *contentType)
	}
	if *contentMD5 != "" {
		req.Header.Set("Content-MD5", *contentMD5)
	}
	for _, h := range headers {
		name, value, _ := strings.Cut(h, ":")
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	signed, err := a.provider.Authenticate(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("signing failed")
		return ExitGeneralError
	}

	names := make([]string, 0, len(signed.Signature.Headers))
	for name := range signed.Signature.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "%s: %s\n", name, signed.Signature.Headers.Get(name))
	}
	return ExitSuccess
}

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	logger := newLogger(cfg.Logging, stderr)

	journal, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Msg("migration failed")
		return ExitGeneralError
	}
	if journal == nil {
		fmt.Fprintln(stderr, "Error: the resume journal is disabled (database.driver is none)")
		return ExitConfigError
	}
	defer journal.Close()

	if err := journal.Database.Health(ctx); err != nil {
		logger.Error().Err(err).Msg("journal health check failed")
		return ExitGeneralError
	}

	fmt.Fprintf(stdout, "Journal schema is up to date (%s)\n", cfg.Database.Driver)
	return ExitSuccess
}

// objectURL joins the endpoint and a bucket/key path, escaping each segment.
func objectURL(endpoint, objectPath string) string {
	u := url.URL{Path: "/" + objectPath}
	return strings.TrimSuffix(endpoint, "/") + u.EscapedPath()
}

// headerFlags collects repeated -H flags.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q must be 'Name: value'", v)
	}
	*h = append(*h, v)
	return nil
}
