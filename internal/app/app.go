// Package app assembles the ledger, stores, transcription chain, dialogue
// machine, Telegram bot and maintenance jobs into one running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	"github.com/roelfdiedericks/voxledger/internal/classify"
	"github.com/roelfdiedericks/voxledger/internal/config"
	"github.com/roelfdiedericks/voxledger/internal/cron"
	"github.com/roelfdiedericks/voxledger/internal/entities"
	apihttp "github.com/roelfdiedericks/voxledger/internal/http"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	"github.com/roelfdiedericks/voxledger/internal/session"
	"github.com/roelfdiedericks/voxledger/internal/stt"
	"github.com/roelfdiedericks/voxledger/internal/telegram"
	"github.com/roelfdiedericks/voxledger/internal/transcribe"
)

// App holds the long-lived components.
type App struct {
	config       *config.Config
	Ledger       *ledger.Ledger
	Entities     *entities.Store
	Normalizer   *audio.Normalizer
	Orchestrator *transcribe.Orchestrator
	Classifier   *classify.Classifier
	Sessions     *session.Store
}

// Open builds every component that does not talk to Telegram. The CLI uses
// it directly; Run adds the bot and the background jobs.
func Open(cfg *config.Config) (*App, error) {
	ledgerStore, err := ledger.OpenSQLite(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	led, err := ledger.New(ledgerStore, cfg.Pricing)
	if err != nil {
		ledgerStore.Close()
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	ents, err := entities.Open(cfg.Storage.EntitiesPath)
	if err != nil {
		led.Close()
		return nil, err
	}

	chain, err := stt.BuildChain(cfg.STT)
	if err != nil {
		ents.Close()
		led.Close()
		return nil, err
	}

	norm := audio.NewNormalizer(cfg.Audio)
	a := &App{
		config:       cfg,
		Ledger:       led,
		Entities:     ents,
		Normalizer:   norm,
		Orchestrator: transcribe.New(cfg.Transcribe, norm, led, chain),
		Classifier:   classify.New(cfg.Classifier, led),
		Sessions:     session.NewStore(),
	}
	L_info("app: components ready",
		"providers", a.Orchestrator.Providers(),
		"ledger", cfg.Storage.LedgerPath,
		"entities", cfg.Storage.EntitiesPath,
		"transactions", len(led.Transactions()))
	return a, nil
}

// Reload applies a changed config: the provider chain is rebuilt and the log
// level updated. Storage paths and pricing need a restart.
func (a *App) Reload(cfg *config.Config) {
	SetLevel(ParseLevel(cfg.Logging.Level))

	chain, err := stt.BuildChain(cfg.STT)
	if err != nil {
		L_error("app: new provider chain rejected, keeping current", "error", err)
		return
	}
	old := a.Orchestrator.SetChain(chain)
	// Close waits for in-flight calls on the old providers.
	go stt.CloseChain(old)
	a.config = cfg
}

// TranscribeFile runs a local file through the orchestrator, for the CLI.
func (a *App) TranscribeFile(ctx context.Context, path, target, language string) *transcribe.Result {
	job := &transcribe.AudioJob{
		SourcePath: path,
		Target:     target,
		Language:   language,
		SessionID:  "cli",
	}
	return a.Orchestrator.Run(ctx, job)
}

// Run starts the Telegram bot, the maintenance jobs and (when configPath is
// set) the config watcher, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context, configPath string) error {
	cfg := a.config
	if !cfg.Telegram.Enabled {
		return errors.New("telegram is not enabled in the config")
	}

	bot, err := telegram.New(cfg.Telegram, cfg.Audio.WorkDir, a.Ledger)
	if err != nil {
		return err
	}

	machine := session.NewMachine(cfg.Session, a.Sessions, session.Deps{
		Transcriber: a.Orchestrator,
		Fetcher:     bot.Downloader(),
		Persister:   a.Entities,
		Lister:      a.Entities,
		Suggester:   a.Classifier,
	})
	bot.SetHandler(machine)

	var sched *cron.Scheduler
	if cfg.Cron.Enabled {
		sched, err = a.scheduler(cfg)
		if err != nil {
			return err
		}
		sched.Start()
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, a.Reload)
		if err != nil {
			L_warn("app: config watcher unavailable", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			L_warn("app: failed to watch config", "error", err)
			watcher = nil
		}
	}

	var api *apihttp.Server
	if cfg.HTTP.Enabled {
		api, err = apihttp.NewServer(cfg.HTTP, apihttp.Deps{
			Ledger:    a.Ledger,
			Entities:  a.Entities,
			Providers: a.Orchestrator,
		})
		if err != nil {
			return err
		}
		api.Start()
	}

	bot.Start()
	L_info("app: running")
	<-ctx.Done()

	L_info("app: shutting down")
	bot.Stop()
	if api != nil {
		api.Stop()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if sched != nil {
		sched.Stop()
	}
	return nil
}

func (a *App) scheduler(cfg *config.Config) (*cron.Scheduler, error) {
	sched, err := cron.New(cfg.Cron, cron.NewHistory(cfg.Cron.HistoryDir))
	if err != nil {
		return nil, err
	}

	idle := time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute
	maxAge := time.Duration(cfg.Cron.SweepMaxAgeHours) * time.Hour
	jobs := []cron.Job{
		cron.SweepJob(cfg.Cron.SweepSchedule, cfg.Audio.WorkDir, maxAge, time.Now),
		cron.SummaryJob(cfg.Cron.SummarySchedule, a.Ledger),
	}
	if idle > 0 {
		jobs = append(jobs, cron.IdleResetJob(cfg.Cron.IdleResetSchedule, a.Sessions, idle))
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Close releases the providers and databases.
func (a *App) Close() error {
	stt.CloseChain(a.Orchestrator.SetChain(nil))
	var errs []error
	if err := a.Entities.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Ledger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
