package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
	"github.com/asheshgoplani/panewatch/internal/config"
	"github.com/asheshgoplani/panewatch/internal/logging"
	"github.com/asheshgoplani/panewatch/internal/monitor"
	"github.com/asheshgoplani/panewatch/internal/notify"
	"github.com/asheshgoplani/panewatch/internal/speech"
	"github.com/asheshgoplani/panewatch/internal/statedb"
	"github.com/asheshgoplani/panewatch/internal/tmux"
	"github.com/asheshgoplani/panewatch/internal/web"
)

// handleServe runs the monitoring and notification daemon until SIGINT/SIGTERM.
func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir := fs.String("data-dir", baseDir(), "Data directory for config, state and logs")
	configPath := fs.String("config", "", "Config file path (default: <data-dir>/config.toml)")
	listenAddr := fs.String("listen", "", "Listen address override for the web server")
	token := fs.String("token", "", "Bearer token override for API/WS access")
	readOnly := fs.Bool("read-only", false, "Disable the send endpoint")
	pushEnabled := fs.Bool("push", false, "Enable web push notifications (auto-generates VAPID keys)")
	pushVAPIDSubject := fs.String("push-vapid-subject", "mailto:panewatch@localhost", "VAPID subject for web push")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Println("Usage: panewatch serve [options]")
		fmt.Println()
		fmt.Println("Run the pane monitoring and notification daemon.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  panewatch serve")
		fmt.Println("  panewatch serve --listen 127.0.0.1:9000 --token s3cret")
		fmt.Println("  panewatch serve --push")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	if err := runServe(serveOptions{
		dataDir:          *dataDir,
		configPath:       *configPath,
		listenAddr:       *listenAddr,
		token:            *token,
		readOnly:         *readOnly,
		pushEnabled:      *pushEnabled,
		pushVAPIDSubject: *pushVAPIDSubject,
		debug:            *debug,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serveOptions struct {
	dataDir          string
	configPath       string
	listenAddr       string
	token            string
	readOnly         bool
	pushEnabled      bool
	pushVAPIDSubject string
	debug            bool
}

func runServe(opts serveOptions) error {
	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(opts.dataDir, config.ConfigFileName)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Flags override the config file.
	if opts.listenAddr != "" {
		cfg.Web.ListenAddr = opts.listenAddr
	}
	if opts.token != "" {
		cfg.Web.Token = opts.token
	}
	if opts.readOnly {
		cfg.Web.ReadOnly = true
	}
	if opts.debug {
		cfg.Logging.Debug = true
		cfg.Logging.Level = "debug"
	}

	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = opts.dataDir
	}
	logging.Init(logging.Config{
		LogDir: logDir,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Debug:  cfg.Logging.Debug,
	})
	defer logging.Shutdown()

	log := logging.Logger()

	// SIGUSR1 dumps the ring buffer for post-mortem debugging.
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(opts.dataDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				log.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				log.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	if err := tmux.IsAvailable(); err != nil {
		return fmt.Errorf("panewatch requires tmux: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := statedb.Open(resolvePath(opts.dataDir, cfg.StateDB))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	go db.PrunePeriodically(ctx, time.Hour)

	apiKey := cfg.Speech.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	provider, err := speech.NewOpenAIProvider(speech.OpenAIConfig{
		APIKey:        apiKey,
		SummaryModel:  cfg.Speech.SummaryModel,
		Voice:         cfg.Speech.Voice,
		RatePerMinute: cfg.Speech.RatePerMinute,
	})
	if err != nil {
		return fmt.Errorf("speech provider: %w (set speech.api_key or OPENAI_API_KEY)", err)
	}

	var synthesizer speech.Synthesizer = provider
	if cfg.AudioCache.Dir != "" {
		cacheDir := resolvePath(opts.dataDir, cfg.AudioCache.Dir)
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			log.Warn("audio_cache_disabled", slog.String("error", err.Error()))
		} else {
			synthesizer = speech.NewCachingSynthesizer(provider, cacheDir, cfg.AudioCache.MaxPhraseLength)
		}
	}

	hub := broadcast.NewHub()
	defer hub.Close()

	runner := notify.NewRunner(notify.RunnerOptions{
		Workers:      cfg.Task.Workers,
		HardTimeout:  time.Duration(cfg.Task.HardTimeoutSeconds) * time.Second,
		SoftTimeout:  time.Duration(cfg.Task.SoftTimeoutSeconds) * time.Second,
		QueueExpiry:  time.Duration(cfg.Task.QueueExpirySeconds) * time.Second,
		MaxRetries:   cfg.Task.MaxRetries,
		RetryDelay:   time.Duration(cfg.Task.RetryDelaySeconds) * time.Second,
		SummaryLines: cfg.Task.SummaryLines,
		SpeechSpeed:  cfg.Speech.Speed,
	}, provider, synthesizer, hub)
	runner.Start()
	defer runner.Stop()

	mux := tmux.NewMux()
	mon := monitor.New(cfg.SnapshotLines)
	svc := notify.NewService(
		mux,
		mon,
		monitor.NewDispatchTracker(),
		notify.NewRouter(cfg.Notify.Allowlist, cfg.Notify.Blocklist, mux),
		notify.NewDedupCache(db, cfg.DedupTTL()),
		runner,
	)

	mon.Start(cfg.PollInterval(), func() {
		svc.PollTick(context.Background())
	})
	defer mon.Stop(5 * time.Second)

	pushPublic := cfg.Web.Push.VAPIDPublicKey
	pushPrivate := cfg.Web.Push.VAPIDPrivateKey
	pushSubject := cfg.Web.Push.VAPIDSubject
	if pushSubject == "" {
		pushSubject = opts.pushVAPIDSubject
	}
	if opts.pushEnabled && pushPublic == "" && pushPrivate == "" {
		var generated bool
		pushPublic, pushPrivate, generated, err = web.EnsurePushVAPIDKeys(opts.dataDir, pushSubject)
		if err != nil {
			return fmt.Errorf("prepare web push keys: %w", err)
		}
		if generated {
			fmt.Println("Push keys: generated new VAPID keypair")
		}
	}

	hooksDir := cfg.HooksDir
	if hooksDir == "" {
		hooksDir = filepath.Join(opts.dataDir, "hooks")
	}

	server := web.NewServer(web.Config{
		ListenAddr:          cfg.Web.ListenAddr,
		Token:               cfg.Web.Token,
		ReadOnly:            cfg.Web.ReadOnly,
		DataDir:             opts.dataDir,
		HooksDir:            hooksDir,
		PushVAPIDPublicKey:  pushPublic,
		PushVAPIDPrivateKey: pushPrivate,
		PushVAPIDSubject:    pushSubject,
	}, svc, hub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("daemon_started",
		slog.String("addr", server.Addr()),
		slog.String("data_dir", opts.dataDir),
		slog.Int("pid", os.Getpid()))
	fmt.Printf("panewatch v%s listening on %s\n", Version, server.Addr())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("daemon_stopping")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("shutdown_error", slog.String("error", err.Error()))
	}
	<-errCh
	return nil
}
