// Command voxgate segments a raw PCM stream into utterances using
// energy-based voice activity detection. It reads 16-bit little-endian
// PCM from a file or stdin, logs every detected utterance, and serves
// Prometheus metrics plus health endpoints over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/segment"
	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/vad"
	"github.com/voxgate/voxgate/pkg/vad/energy"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"input", inputName(cfg.Input.Path),
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Detector ──────────────────────────────────────────────────────────────
	eng := &energy.Engine{
		Observer:       metrics.VADObserver(ctx),
		OnDrop:         metrics.VADDropHandler(ctx),
		OnSubscription: metrics.VADSubscriptionHook(ctx),
	}
	det, err := eng.NewDetector(cfg.Detector.VAD())
	if err != nil {
		slog.Error("failed to create detector", "err", err)
		return 1
	}
	defer det.Close()

	// ── Input ─────────────────────────────────────────────────────────────────
	in, closeInput, err := openInput(cfg.Input.Path)
	if err != nil {
		slog.Error("failed to open input", "err", err)
		return 1
	}
	defer closeInput()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	frames := make(chan audio.AudioFrame, 16)
	g.Go(func() error {
		defer close(frames)
		return readFrames(ctx, in, cfg.Input, frames)
	})

	normalized := audio.NormalizeStream(frames, cfg.Input.SampleRate)

	seg := segment.New(det, segment.Config{
		PreRoll:      cfg.Segmenter.PreRoll.Std(),
		MaxUtterance: cfg.Segmenter.MaxUtterance.Std(),
	})
	seg.Metrics = metrics

	utterances := make(chan segment.Utterance, 4)
	g.Go(func() error {
		return seg.Run(ctx, normalized, utterances)
	})

	g.Go(func() error {
		// Input drained: wind the observability server down too.
		defer cancel()
		return logUtterances(ctx, utterances)
	})

	// ── Observability server ──────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg.Server.ListenAddr, metrics, det)
		g.Go(func() error {
			slog.Info("observability server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newServer builds the /metrics and health HTTP server wrapped in the
// observability middleware.
func newServer(addr string, metrics *observe.Metrics, det vad.Detector) *http.Server {
	checks := health.New()
	checks.AddCheck("detector", func(context.Context) error {
		// A closed detector refuses subscriptions.
		_, cancel, err := det.Subscribe()
		if err != nil {
			return err
		}
		cancel()
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	checks.Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// readFrames reads fixed-size PCM chunks from r and sends them as frames
// stamped with their stream offset. Returns nil at end of input.
func readFrames(ctx context.Context, r io.Reader, in config.InputConfig, out chan<- audio.AudioFrame) error {
	chunkBytes := in.SampleRate * in.Channels * 2 * int(in.ChunkDuration.Std()/time.Millisecond) / 1000
	if chunkBytes <= 0 {
		return fmt.Errorf("input: chunk of %s at %dHz is too small", in.ChunkDuration.Std(), in.SampleRate)
	}

	var offset time.Duration
	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := audio.AudioFrame{
				Data:       buf[:n],
				SampleRate: in.SampleRate,
				Channels:   in.Channels,
				Timestamp:  offset,
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
			offset += in.ChunkDuration.Std()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("input: read: %w", err)
		}
	}
}

// logUtterances consumes completed utterances until the channel closes.
func logUtterances(ctx context.Context, utterances <-chan segment.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-utterances:
			if !ok {
				return nil
			}
			slog.Info("utterance",
				"id", u.ID,
				"start", u.Start.Sub(time.Time{}),
				"end", u.End.Sub(time.Time{}),
				"duration", u.End.Sub(u.Start),
				"bytes", len(u.PCM),
			)
		}
	}
}

// openInput opens the configured PCM source. "-" or empty selects stdin.
func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// inputName names the PCM source for logging.
func inputName(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
