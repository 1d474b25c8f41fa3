// Command scheduler is the single entrypoint of the orchestrator: load
// config, wire persistence and adapters, and run the scheduler forever
// (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/archive"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/clock"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/db"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/mailer"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/manifest"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/objectstore"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/orcherrors"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/poller"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/remotetask"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/reporter"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/repos"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/scheduler"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/workers"
)

func envTrue(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	tomlPath := flag.String("toml", os.Getenv("IPA_CONFIG_TOML"), "path to the configuration TOML document")
	flag.Parse()

	if err := run(*tomlPath); err != nil {
		var kind orcherrors.Kind
		if k, ok := orcherrors.KindOf(err); ok {
			kind = k
		}
		fmt.Fprintf(os.Stderr, "scheduler: %v (kind=%s)\n", err, kind)
		os.Exit(1)
	}
}

func run(tomlPath string) error {
	if tomlPath == "" {
		return orcherrors.Config("no --toml path or IPA_CONFIG_TOML set", nil)
	}
	cfg, err := config.Load(tomlPath)
	if err != nil {
		return err
	}

	if tz := os.Getenv("TZ"); tz != "" {
		os.Setenv("TZ", tz)
	} else if cfg.Automation.Timezone != "" {
		os.Setenv("TZ", cfg.Automation.Timezone)
	}

	containerized := envTrue("IPA_CONTAINERIZED")
	log, err := logger.New(logger.ModeProduction, cfg.Logging.File, containerized)
	if err != nil {
		return orcherrors.Config("initializing logger", err)
	}

	gormDB, err := db.Open(cfg.Automation.DB)
	if err != nil {
		return orcherrors.Config("opening database", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objStore, err := objectstore.New(ctx, cfg.Google.CredentialsFile, cfg.StatsExport.StorageBucket)
	if err != nil {
		return orcherrors.Config("opening object store", err)
	}

	jobRepo := repos.NewJobRepo(gormDB, log)
	exportRepo := repos.NewExportRepo(gormDB, log)
	snapshotRepo := repos.NewUpstreamSnapshotRepo(gormDB, log)
	reportRepo := repos.NewReportRepo(gormDB, log)
	websiteRepo := repos.NewWebsiteUpdateRepo(gormDB, log)
	transferRepo := repos.NewFileTransferRepo(gormDB, log)

	adapter, err := remotetask.NewClient(ctx, cfg.Google.CredentialsFile, cfg.Compute.BaseURL)
	if err != nil {
		return orcherrors.Config("building compute service client", err)
	}

	realClock := clock.Real{}

	manifestSvc := &manifest.Service{Store: objStore, ManifestBasePath: cfg.StatsExport.ManifestPath}
	archiveSvc := &archive.Service{Store: objStore, BasePath: cfg.StatsExport.BaseExportPath}

	p := &poller.Poller{
		DB:            gormDB,
		Clock:         realClock,
		Remote:        adapter,
		Exports:       exportRepo,
		MaxBatch:      20,
		LeaseDuration: 60 * time.Second,
		Backoff:       poller.DefaultBackoff(),
		Log:           log,
		Archive:       archiveSvc,
	}

	imageWorker := &workers.ImageWorker{
		Adapter: adapter,
		Exports: exportRepo,
		Jobs:    jobRepo,
		Poller:  p,
		Clock:   realClock,
		Log:     log,
		DB:      gormDB,
	}

	statsWorker := &workers.StatsWorker{
		Adapter:   adapter,
		Builders: map[string]remotetask.StatsExportBuilder{
			"monthly": remotetask.MonthlyStatsBuilder{},
			"yearly":  remotetask.YearlyStatsBuilder{},
		},
		Manifest:  manifestSvc,
		Archive:   archiveSvc,
		Exports:   exportRepo,
		Jobs:      jobRepo,
		Transfers: transferRepo,
		Clock:     realClock,
		Log:       log,
		DB:        gormDB,
	}

	websiteWorker := &workers.WebsiteWorker{
		Store:   objStore,
		Updates: websiteRepo,
		Clock:   realClock,
		Log:     log,
	}

	var mailClient mailer.Mailer
	if cfg.Email.EnableEmail {
		mailClient = mailer.New(mailer.Config{
			Host:        cfg.Email.Host,
			Port:        cfg.Email.Port,
			User:        cfg.Email.User,
			Password:    cfg.Email.Password,
			FromAddress: cfg.Email.FromAddress,
			ToAddress:   cfg.Email.ToAddress,
		})
	} else {
		mailClient = mailer.NoopMailer{}
	}
	rep, err := reporter.New(mailClient)
	if err != nil {
		return orcherrors.Config("building reporter templates", err)
	}

	sched := &scheduler.Scheduler{
		Cfg:           cfg,
		Clock:         realClock,
		Log:           log,
		Jobs:          jobRepo,
		Exports:       exportRepo,
		Snapshots:     snapshotRepo,
		Reports:       reportRepo,
		Website:       websiteRepo,
		Transfers:     transferRepo,
		Adapter:       adapter,
		Poller:        p,
		ImageWorker:   imageWorker,
		StatsWorker:   statsWorker,
		WebsiteWorker: websiteWorker,
		Reporter:      rep,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if containerized {
		liveness := &scheduler.LivenessServer{
			HeartbeatFile:   cfg.Automation.Heartbeat.HeartbeatFile,
			StalenessWindow: 3 * time.Duration(cfg.Automation.OrchestrationJob.IntervalMinutes) * time.Minute,
			Log:             log,
		}
		go func() {
			if err := liveness.Engine().Run(":8080"); err != nil {
				log.Error("liveness server stopped", "error", err)
			}
		}()
	}

	return sched.Run(ctx)
}
