package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/livecam-uploader/internal/api"
	"github.com/dj-oyu/livecam-uploader/internal/config"
	"github.com/dj-oyu/livecam-uploader/internal/encoder"
	"github.com/dj-oyu/livecam-uploader/internal/gate"
	"github.com/dj-oyu/livecam-uploader/internal/logger"
	"github.com/dj-oyu/livecam-uploader/internal/metrics"
	"github.com/dj-oyu/livecam-uploader/internal/mqtt"
	"github.com/dj-oyu/livecam-uploader/internal/pipeline"
	"github.com/dj-oyu/livecam-uploader/internal/recorder"
	"github.com/dj-oyu/livecam-uploader/internal/settings"
	"github.com/dj-oyu/livecam-uploader/internal/source"
	"github.com/dj-oyu/livecam-uploader/internal/uploader"
)

const shutdownTimeout = 5 * time.Second

var (
	// Command-line flags; when set they override the config file.
	configPath  = flag.String("config", "", "Path to YAML config file")
	hostAddr    = flag.String("host", "", "Upload host address, e.g. http://192.168.1.10:8000")
	interval    = flag.Int("interval", -1, "Minimum seconds between uploads")
	httpAddr    = flag.String("http", "", "Control API address")
	metricsAddr = flag.String("metrics", "", "Metrics server address")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
	logFile     = flag.String("log-file", "", "Also write logs to this file (rotated)")
	sourceKind  = flag.String("source", "", "Frame source (pattern, dir)")
	sourceDir   = flag.String("source-dir", "", "Image directory for the dir source")
	fps         = flag.Int("fps", 0, "Frames per second produced by the source")
	mqttEnabled = flag.Bool("mqtt", false, "Also publish frames over MQTT")
	recordPath  = flag.String("record-path", "", "Recording output path")
)

// App owns every running component.
type App struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	settings *settings.Store
	uploader *uploader.Uploader
	mqtt     *mqtt.Publisher
	recorder *recorder.Recorder
	pipeline *pipeline.Pipeline
	results  *api.ResultBroadcaster

	apiServer     *http.Server
	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	out, closer := logger.Output(logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Init(level, out, cfg.Log.Color)

	logger.Info("Main", "Live camera uploader starting...")
	logger.Info("Main", "Log level: %s", level)
	if cfgErr != nil {
		logger.Warn("Main", "Using default configuration: %v", cfgErr)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create uploader: %v", err)
	}
	app.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Main", "Received %s, shutting down...", sig)
	case <-app.Done():
		logger.Info("Main", "Producer finished, shutting down...")
	}

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
	closer.Close()
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Upload.HostAddress = *hostAddr
		case "interval":
			cfg.Upload.IntervalS = *interval
		case "http":
			cfg.API.Addr = *httpAddr
		case "metrics":
			cfg.Metrics.Addr = *metricsAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		case "log-file":
			cfg.Log.File = *logFile
		case "source":
			cfg.Source.Kind = *sourceKind
		case "source-dir":
			cfg.Source.Dir = *sourceDir
		case "fps":
			cfg.Source.FPS = *fps
		case "mqtt":
			cfg.MQTT.Enabled = *mqttEnabled
		case "record-path":
			cfg.Recorder.Path = *recordPath
		}
	})
}

// NewApp builds the components described by cfg without starting them.
func NewApp(cfg config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()
	store := settings.NewStore(cfg.Endpoint())
	m.IntervalSeconds.Store(uint64(cfg.Upload.IntervalS))
	store.Subscribe(func(old, updated settings.Endpoint) {
		m.IntervalSeconds.Store(uint64(updated.MinInterval))
		logger.Info("Main", "Upload endpoint %s -> %s, interval %ds -> %ds",
			old.HostAddress, updated.HostAddress, old.MinInterval, updated.MinInterval)
	})

	g := gate.New(func() time.Duration { return store.Get().Interval() })

	transports := []uploader.Transport{
		uploader.NewHTTPTransport(nil, cfg.Upload.Timeout, cfg.Upload.Path),
	}
	var pub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		pub = mqtt.New(cfg.MQTT, m)
		transports = append(transports, pub)
	}
	rec := recorder.NewRecorder(cfg.Recorder.Path)
	transports = append(transports, rec)

	results := api.NewResultBroadcaster()
	enc := encoder.New()
	enc.Overlay = cfg.Encoder.Overlay
	up := uploader.New(uploader.Options{
		Encoder:     enc,
		MaxInFlight: cfg.Upload.MaxInFlight,
		Metrics:     m,
		OnResult:    results.Publish,
	}, transports...)

	src, err := source.New(cfg.Source)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create frame source: %w", err)
	}

	apiSrv := api.NewServer(api.Options{
		Settings: store,
		Gate:     g,
		Metrics:  m,
		Results:  results,
		Recorder: rec,
		Uploads:  up,
	})

	return &App{
		cfg:      cfg,
		metrics:  m,
		settings: store,
		uploader: up,
		mqtt:     pub,
		recorder: rec,
		results:  results,
		pipeline: &pipeline.Pipeline{
			Source:   src,
			Gate:     g,
			Uploader: up,
			Settings: store,
			Metrics:  m,
		},
		apiServer: &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           apiSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		metricsServer: m.Server(cfg.Metrics.Addr),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the servers, the optional MQTT connection, the config
// watcher and the producer.
func (a *App) Start() {
	logger.Info("Main", "  Upload endpoint: %s (every >%ds)", a.settings.Get().UploadURL(a.cfg.Upload.Path), a.cfg.Upload.IntervalS)
	logger.Info("Main", "  Source: %s %dx%d @ %dfps", a.cfg.Source.Kind, a.cfg.Source.Width, a.cfg.Source.Height, a.cfg.Source.FPS)
	logger.Info("Main", "  Control API: %s", a.cfg.API.Addr)
	logger.Info("Main", "  Metrics server: %s", a.cfg.Metrics.Addr)

	if a.cfg.Recorder.AutoStart {
		if _, err := a.recorder.Start(); err != nil {
			logger.Warn("Main", "Recording not started: %v", err)
		}
	}

	a.serve("Control API", a.apiServer)
	a.serve("Metrics", a.metricsServer)

	if a.mqtt != nil {
		go func() {
			if err := a.mqtt.Connect(a.ctx); err != nil {
				logger.Warn("Main", "MQTT not connected yet, retrying in background: %v", err)
			}
		}()
	}

	if *configPath != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := config.Watch(a.ctx, *configPath, func(c config.Config) {
				applyFlags(&c)
				if err := a.settings.Set(c.Endpoint()); err != nil {
					logger.Warn("Config", "Ignoring upload settings: %v", err)
				}
			})
			if err != nil {
				logger.Warn("Config", "Hot reload disabled: %v", err)
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cancel()
		if err := a.pipeline.Run(a.ctx); err != nil {
			logger.Error("Pipeline", "Producer failed: %v", err)
		}
	}()

	logger.Info("Main", "Uploader started successfully")
}

func (a *App) serve(name string, srv *http.Server) {
	go func() {
		logger.Info("Main", "Starting %s server on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "%s server error: %v", name, err)
		}
	}()
}

// Done is closed once the producer stops.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Shutdown stops the producer, drains uploads and closes the servers.
func (a *App) Shutdown() error {
	a.cancel()
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.uploader.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("uploads: %w", err))
	}
	if err := a.pipeline.Source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}
	a.results.Close()
	if err := a.apiServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("control API: %w", err))
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	if a.recorder.IsRecording() {
		if _, err := a.recorder.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}

	m := a.metrics.Snapshot()
	logger.Info("Main", "Frames seen=%d accepted=%d rejected=%d dropped=%d, uploads ok=%d failed=%d rejected=%d",
		m.FramesSeen, m.FramesAccepted, m.FramesRejected, m.FramesDropped,
		m.UploadsSucceeded, m.UploadsFailed, m.UploadsRejected)

	return errors.Join(errs...)
}
