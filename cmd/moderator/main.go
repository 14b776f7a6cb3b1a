package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vsthakur101/webapi-moderator/api"
	"github.com/vsthakur101/webapi-moderator/cert"
	"github.com/vsthakur101/webapi-moderator/config"
	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/intercept"
	"github.com/vsthakur101/webapi-moderator/intruder"
	"github.com/vsthakur101/webapi-moderator/proxy"
	"github.com/vsthakur101/webapi-moderator/recorder"
	"github.com/vsthakur101/webapi-moderator/rules"
	"github.com/vsthakur101/webapi-moderator/scanner"
	"github.com/vsthakur101/webapi-moderator/sitemap"
	"github.com/vsthakur101/webapi-moderator/spider"
	"github.com/vsthakur101/webapi-moderator/storage"
	"github.com/vsthakur101/webapi-moderator/upstream"
	"github.com/vsthakur101/webapi-moderator/version"
)

func setupLogging(cfg *config.Settings) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}
	log.SetOutput(out)

	// the proxy data plane logs via slog
	slogLevel := slog.LevelInfo
	if level >= log.DebugLevel {
		slogLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})))
}

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	log.WithField("version", version.Version).Info("webapi-moderator starting")

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("open storage failed")
	}

	ca, err := cert.NewStore(cfg.CertDir, time.Duration(cfg.LeafCertTTLDays)*24*time.Hour)
	if err != nil {
		log.WithError(err).Fatal("init CA store failed")
	}

	bus := eventbus.New()
	coordinator := intercept.NewCoordinator(bus)
	ruleEngine := rules.NewEngine()

	// publish the persisted rule set
	if recs, err := store.ListRules(); err == nil {
		rs := make([]rules.Rule, 0, len(recs))
		for _, rec := range recs {
			rs = append(rs, rec.ToRule())
		}
		for _, cerr := range ruleEngine.SetRules(rs) {
			log.WithError(cerr).Warn("rule compile failed")
		}
	}

	smBuilder := sitemap.NewBuilder(store)
	rec := recorder.New(store, smBuilder)

	engine := proxy.NewEngine(proxy.Options{
		BodySizeCap:     cfg.BodySizeCap,
		SslInsecure:     cfg.ProxySSLInsecure,
		UpstreamTimeout: time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second,
	}, ca, ruleEngine, coordinator, bus, rec)

	analyzerClient := upstream.NewClient(upstream.Options{InsecureSkipVerify: true})
	intruderEngine := intruder.NewEngine(store, bus, analyzerClient)
	spiderEngine := spider.NewEngine(store, bus, analyzerClient)
	scannerEngine := scanner.NewEngine(store, store, bus, analyzerClient)

	server := api.NewServer(api.Deps{
		Config:      cfg,
		Store:       store,
		Engine:      engine,
		Coordinator: coordinator,
		RuleEngine:  ruleEngine,
		Bus:         bus,
		CA:          ca,
		Intruder:    intruderEngine,
		Spider:      spiderEngine,
		Scanner:     scannerEngine,
		Sitemap:     smBuilder,
	})

	if err := engine.Start(cfg.ProxyHost, cfg.ProxyPort); err != nil {
		// surfaced via /api/proxy/status; the control plane still runs
		log.WithError(err).Error("proxy start failed")
	}

	go func() {
		if err := server.Run(); err != nil {
			log.WithError(err).Fatal("api server failed")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	coordinator.Shutdown()
	if err := engine.Stop(); err != nil {
		log.WithError(err).Warn("proxy stop failed")
	}
	analyzerClient.Close()
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("store close failed")
	}
	log.WithField("persist_failures", rec.Failures()).Info("shutdown complete")
}
