package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/PandasTableScraper/internal/api"
	"github.com/dgnsrekt/PandasTableScraper/internal/background"
	"github.com/dgnsrekt/PandasTableScraper/internal/browser"
	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/config"
	"github.com/dgnsrekt/PandasTableScraper/internal/content"
	"github.com/dgnsrekt/PandasTableScraper/internal/controller"
	"github.com/dgnsrekt/PandasTableScraper/internal/navwatch"
	"github.com/dgnsrekt/PandasTableScraper/internal/netutil"
	"github.com/dgnsrekt/PandasTableScraper/internal/offscreen"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
	"github.com/dgnsrekt/PandasTableScraper/internal/session"
	"github.com/dgnsrekt/PandasTableScraper/internal/storage"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
	"github.com/dgnsrekt/PandasTableScraper/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tablescraper config loaded",
		"bind_addr", cfg.BindAddr,
		"backend", cfg.Backend,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"python", cfg.Python,
		"resource_dir", cfg.ResourceDir,
		"run_timeout", cfg.RunTimeout,
		"journal_dir", cfg.JournalDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sessions := session.NewStore()
	broker := relay.NewBroker()

	// Execution host. Resources are unpacked once; the python process itself
	// starts with the first run.
	indexURL, err := worker.EnsureResources(cfg.ResourceDir)
	if err != nil {
		slog.Error("failed to prepare worker resources", "dir", cfg.ResourceDir, "error", err)
		os.Exit(1)
	}
	bg := background.NewWorker(func(context.Context) (background.Offscreen, error) {
		proc := worker.New(worker.Config{Python: cfg.Python, ResourceDir: indexURL}, broker)
		return offscreen.NewHost(proc, indexURL), nil
	}, sessions)
	defer func() {
		if err := bg.Close(); err != nil {
			slog.Debug("background close failed", "error", err)
		}
	}()

	backend, tabs, cleanup, err := openBackend(ctx, cfg, bg)
	if err != nil {
		slog.Error("failed to open content backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	handler := content.NewHandler(backend)
	handler.HighlightDuration = cfg.HighlightDuration()

	contentPort := relay.NewPort[relay.Message, relay.Reply]("content")
	backgroundPort := relay.NewPort[relay.Message, relay.Reply]("background")
	go serve(ctx, contentPort, handler.Handle)
	go serve(ctx, backgroundPort, bg.Handle)

	deps := controller.Deps{
		Tabs:       tabs,
		Content:    contentPort,
		Background: backgroundPort,
		Sessions:   sessions,
		RunTimeout: cfg.RunTimeout,
	}
	if cfg.JournalDir != "" {
		journal := storage.NewJournal(cfg.JournalDir, 1000, 50)
		defer func() {
			if err := journal.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
		deps.Journal = journal
		deps.Artifacts = storage.NewArtifactWriter(filepath.Join(cfg.JournalDir, "artifacts"))
	}
	svc := controller.NewService(deps)

	openStartupTabs(ctx, cfg.TabsFile, svc)

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}

	go func() {
		slog.Info("tablescraper listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("tablescraper server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tablescraper shutdown failed", "error", err)
	}
}

// openBackend builds the content backend named in cfg. The returned cleanup
// releases everything it started.
func openBackend(ctx context.Context, cfg *config.Config, bg *background.Worker) (content.Backend, controller.Tabs, func(), error) {
	if cfg.Backend == config.BackendStatic {
		static := content.NewStatic(tables.NewHTTPLoader(cfg.FetchTimeout()))
		static.SetMaxFrameDepth(cfg.MaxFrameDepth)
		static.OnNavigate = func(tabID string) { bg.OnBeforeNavigate(tabID, true) }
		return static, static, func() {
			if err := static.Close(); err != nil {
				slog.Debug("static backend close failed", "error", err)
			}
		}, nil
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			return nil, nil, nil, err
		}
	}
	stopBrowser := func() {
		if launcher != nil {
			launcher.Stop()
		}
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, cfg.EvalTimeout())
	client.SetMaxFrameDepth(cfg.MaxFrameDepth)
	if err := client.Connect(ctx); err != nil {
		stopBrowser()
		return nil, nil, nil, err
	}

	watcher := navwatch.New(cfg.CDPURL(), cfg.TabURLFilter, bg.OnBeforeNavigate)
	if err := watcher.Start(ctx); err != nil {
		// Detection still works without the watcher; stale tables are only
		// cleared on the next detect.
		slog.Warn("navigation watcher unavailable", "error", err)
		watcher = nil
	}

	return client, client, func() {
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				slog.Debug("navigation watcher close failed", "error", err)
			}
		}
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
		stopBrowser()
	}, nil
}

func serve(ctx context.Context, port *controller.MessagePort, h relay.Handler[relay.Message, relay.Reply]) {
	if err := port.Serve(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("relay port stopped", "port", port.Name(), "error", err)
	}
}

func openStartupTabs(ctx context.Context, path string, svc *controller.Service) {
	tabsCfg, err := config.LoadTabs(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("tabs config ignored", "path", path, "error", err)
		}
		return
	}
	for _, entry := range tabsCfg.Tabs {
		info, err := svc.OpenTab(ctx, entry.URL)
		if err != nil {
			slog.Warn("startup tab failed", "url", entry.URL, "error", err)
			continue
		}
		if entry.Code != "" {
			code := entry.Code
			if _, err := svc.PutSession(ctx, info.TabID, &code, nil); err != nil {
				slog.Warn("startup tab code not saved", "tab_id", info.TabID, "error", err)
			}
		}
		slog.Info("startup tab opened", "tab_id", info.TabID, "url", entry.URL)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
