package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"arena/netsync/internal/config"
	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/net/transport"
	"arena/netsync/internal/netsync"
	"arena/netsync/internal/recorder"
	"arena/netsync/internal/telemetry"
	"arena/netsync/logging"
	loggingSinks "arena/netsync/logging/sinks"
)

const (
	statsInterval     = 5 * time.Second
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
	shutdownTimeout   = 2 * time.Second
)

// Run connects a headless client to the configured server and keeps it
// synchronized until ctx is cancelled. Lost connections are retried with
// exponential backoff.
func Run(ctx context.Context, cfg config.Config, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	base := zerolog.New(out).With().Timestamp().Str("identity", cfg.Server.Identity).Logger()
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && level != zerolog.NoLevel {
		base = base.Level(level)
	}
	telemetryLogger := telemetry.WrapZerolog(&base, "netsync")

	logConfig := cfg.LoggingSettings()
	logConfig.Fallback = &base
	sinks, closeFiles, err := buildSinks(logConfig, out, base)
	if err != nil {
		return err
	}
	defer closeFiles()

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	counters := telemetry.NewCounters()
	var metrics telemetry.Metrics = counters
	if cfg.Metrics.Enabled {
		metrics = telemetry.Fanout(counters, telemetry.NewOtelMetrics(cfg.Server.Identity, func(err error) {
			telemetryLogger.Printf("metrics: %v", err)
		}))
	}

	rec, err := recorder.Open(cfg.RecorderSettings(), telemetryLogger, metrics)
	if err != nil {
		return fmt.Errorf("failed to open recorder: %w", err)
	}
	defer func() {
		if cerr := rec.Close(); cerr != nil {
			telemetryLogger.Printf("failed to close recorder: %v", cerr)
		}
	}()

	codec, err := proto.NewCodec(cfg.Transport.Codec)
	if err != nil {
		return err
	}
	transportCfg := cfg.TransportSettings()
	transportCfg.Probe = netsync.PingProbe(codec)
	transportCfg.Logger = telemetryLogger
	transportCfg.Metrics = metrics
	session := transport.NewSession(transportCfg)

	sup := &supervisor{
		ctx:      ctx,
		address:  cfg.Server.Address,
		identity: cfg.Server.Identity,
		logger:   telemetryLogger,
		clock:    logging.SystemClock{},
		delay:    minReconnectDelay,
	}
	syncer, err := netsync.New(cfg.SyncSettings(), netsync.Deps{
		Transport: session,
		Codec:     codec,
		Publisher: router,
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Recorder:  rec,
		OnFrame:   sup.onFrame,
	})
	if err != nil {
		return fmt.Errorf("failed to construct synchronizer: %w", err)
	}
	sup.sync = syncer

	telemetryLogger.Printf("connecting to %s (codec=%s, tick=%dHz)", cfg.Server.Address, codec.Name(), cfg.Sync.TickRate)
	sup.connect(sup.clock.Now())

	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("synchronizer stopped: %w", err)
	}
	telemetryLogger.Printf("shutdown complete: %s", formatStats(syncer.NetworkStats()))
	return nil
}

func buildSinks(cfg logging.Config, out io.Writer, base zerolog.Logger) ([]logging.NamedSink, func(), error) {
	var (
		sinks []logging.NamedSink
		files []*os.File
	)
	closeFiles := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, raw := range cfg.Sinks {
		switch name := strings.ToLower(strings.TrimSpace(raw)); name {
		case logging.SinkConsole:
			sinks = append(sinks, logging.NamedSink{Name: logging.SinkConsole, Sink: loggingSinks.NewConsoleSink(out, cfg.Console)})
		case logging.SinkZerolog:
			sinks = append(sinks, logging.NamedSink{Name: logging.SinkZerolog, Sink: loggingSinks.NewZerolog(base)})
		case logging.SinkJSON:
			f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				closeFiles()
				return nil, nil, fmt.Errorf("open json sink %s: %w", cfg.JSON.FilePath, err)
			}
			files = append(files, f)
			sinks = append(sinks, logging.NamedSink{Name: logging.SinkJSON, Sink: loggingSinks.NewJSON(f, cfg.JSON.FlushInterval)})
		case logging.SinkGELF:
			sink, err := loggingSinks.NewGELF(cfg.GELF)
			if err != nil {
				closeFiles()
				return nil, nil, fmt.Errorf("open gelf sink %s: %w", cfg.GELF.Address, err)
			}
			sinks = append(sinks, logging.NamedSink{Name: logging.SinkGELF, Sink: sink})
		default:
			closeFiles()
			return nil, nil, fmt.Errorf("unknown logging sink %q", raw)
		}
	}
	return sinks, closeFiles, nil
}
