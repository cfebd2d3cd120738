package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hara602/usbwatch/internal/blackwhitelist"
	"github.com/Hara602/usbwatch/internal/config"
	"github.com/Hara602/usbwatch/internal/enumerate"
	"github.com/Hara602/usbwatch/internal/metrics"
	"github.com/Hara602/usbwatch/internal/monitor"
	"github.com/Hara602/usbwatch/internal/publish"
	"github.com/Hara602/usbwatch/internal/sink"
	"github.com/Hara602/usbwatch/internal/store"
	"github.com/Hara602/usbwatch/internal/sysutil"
	"github.com/Hara602/usbwatch/internal/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config file")
	once := flag.Bool("once", false, "Scan once, report and exit")
	logLevel := flag.String("log-level", "", "Override logging.level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatal("Failed to load config", err)
		}
	}
	if *once {
		cfg.Mode = config.ModeOnce
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fatal("Invalid config", err)
	}

	// 初始化日志
	if err := sysutil.InitLogger(sysutil.LogOptions{Level: cfg.Logging.Level, Development: cfg.Logging.Development}); err != nil {
		fatal("Logger init failed", err)
	}
	defer sysutil.Log.Sync()

	sysutil.Log.Info("🛡️ USB Watch Agent Starting...")

	if err := enumerate.CheckAccess(cfg.SysfsRoot); err != nil {
		sysutil.Log.Fatal("Cannot read USB devices", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := enumerate.NewSysfsProvider(cfg.SysfsRoot, cfg.EnumerationTimeout.Std())
	opts := []monitor.Option{
		monitor.WithLogger(sysutil.Log),
		monitor.WithSink("log", sink.NewLogSink(sysutil.Log)),
	}

	cleanup, sinkOpts := buildSinks(ctx, cfg)
	defer cleanup()
	opts = append(opts, sinkOpts...)

	if cfg.HotplugWakeup && cfg.Mode == config.ModeContinuous {
		devWatcher := watcher.New()
		wake, err := devWatcher.Start()
		if err != nil {
			sysutil.Log.Warn("Hotplug wakeup unavailable, polling only", zap.Error(err))
		} else {
			defer devWatcher.Stop()
			opts = append(opts, monitor.WithTrigger(wake))
		}
	}

	sched, err := monitor.New(cfg, provider, opts...)
	if err != nil {
		sysutil.Log.Fatal("Monitor init failed", zap.Error(err))
	}

	if cfg.Metrics.Listen != "" {
		if err := metrics.RegisterStats(prometheus.DefaultRegisterer, sched.Stats); err != nil {
			sysutil.Log.Fatal("Metrics init failed", zap.Error(err))
		}
		srv := serveMetrics(cfg.Metrics.Listen)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := sched.Run(ctx); err != nil {
		sysutil.Log.Error("Monitor exited", zap.Error(err))
	}

	st := sched.Stats()
	sysutil.Log.Info("Shutting down...",
		zap.Uint64("scans", st.Scans),
		zap.Uint64("events", st.EventsEmitted),
		zap.Uint64("suppressed", st.EventsSuppressed),
		zap.Uint64("sink_errors", st.SinkErrors))
}

// buildSinks 按配置创建可选的 sink，返回的 cleanup 在监控结束后关闭资源
func buildSinks(ctx context.Context, cfg config.Config) (func(), []monitor.Option) {
	var closers []func() error
	var opts []monitor.Option

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path, 0)
		if err != nil {
			sysutil.Log.Fatal("Event store init failed", zap.Error(err))
		}
		closers = append(closers, st.Close)
		opts = append(opts, monitor.WithSink("store", st))
	}

	if cfg.Metrics.Listen != "" {
		ms, err := metrics.NewSink(prometheus.DefaultRegisterer)
		if err != nil {
			sysutil.Log.Fatal("Metrics sink init failed", zap.Error(err))
		}
		opts = append(opts, monitor.WithSink("metrics", ms))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := publish.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			sysutil.Log.Fatal("Redis init failed", zap.Error(err))
		}
		host, _ := os.Hostname()
		closers = append(closers, rdb.Close)
		opts = append(opts, monitor.WithSink("redis", publish.NewRedisSink(rdb, cfg.Redis.Channel, host)))
	}

	if cfg.Policy.Enabled {
		if cfg.Policy.Enforce && os.Geteuid() != 0 {
			sysutil.LogSugar.Warn("Policy enforcement needs root to write sysfs authorized files")
		}
		list, err := blackwhitelist.Open(cfg.Policy.DBPath)
		if err != nil {
			sysutil.Log.Fatal("Policy database init failed", zap.Error(err))
		}
		closers = append(closers, list.Close)
		policy := blackwhitelist.Policy{
			WhitelistMode:      cfg.Policy.WhitelistMode,
			BlockMissingSerial: cfg.Policy.BlockMissingSerial,
		}
		sysutil.Log.Info("Policy loaded", zap.Int("rules", len(list.Rules())), zap.Bool("enforce", cfg.Policy.Enforce))
		opts = append(opts, monitor.WithSink("policy",
			blackwhitelist.NewEnforcer(list, policy, cfg.Policy.Enforce, cfg.Policy.SysfsRoot, sysutil.Log)))
	}

	return func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				sysutil.Log.Warn("Close failed", zap.Error(err))
			}
		}
	}, opts
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		sysutil.Log.Info("📈 Metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sysutil.Log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// fatal 日志初始化之前的致命错误
func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
