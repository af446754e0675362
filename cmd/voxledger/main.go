// voxledger is a Telegram assistant that turns voice notes, links and media
// into reminders, todos, meeting notes and interests, transcribing audio
// through a chain of speech-to-text providers and keeping a cost ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/voxledger/internal/app"
	"github.com/roelfdiedericks/voxledger/internal/config"
	apihttp "github.com/roelfdiedericks/voxledger/internal/http"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
	"github.com/roelfdiedericks/voxledger/internal/paths"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

const version = "0.1.0"

// Globals are the flags shared by every command.
type Globals struct {
	ConfigFile string `name:"config" short:"c" help:"Config file (default: ./voxledger.json or ~/.voxledger/voxledger.json)." type:"path"`
	Debug      bool   `help:"Enable debug logging."`
}

type CLI struct {
	Globals

	Run        RunCmd        `cmd:"" help:"Run the Telegram bot."`
	Transcribe TranscribeCmd `cmd:"" help:"Transcribe a local audio file."`
	Ledger     LedgerCmd     `cmd:"" help:"Inspect and maintain the cost ledger."`
	Entities   EntitiesCmd   `cmd:"" help:"Browse saved entities."`
	Config     ConfigCmd     `cmd:"" help:"Manage the config file."`
	Version    VersionCmd    `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("voxledger"),
		kong.Description("Voice-first personal ledger for Telegram."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// load reads the config and initializes logging from it.
func (g *Globals) load() (*config.Config, string, error) {
	// Log config loading itself at the requested level.
	early := DefaultLogConfig()
	if g.Debug {
		early.Level = LevelDebug
	}
	Init(early)

	cfg, path, err := config.Load(g.ConfigFile)
	if err != nil {
		return nil, "", err
	}
	Init(cfg.LogConfigFor(g.Debug))
	return cfg, path, nil
}

func (g *Globals) open() (*app.App, error) {
	cfg, _, err := g.load()
	if err != nil {
		return nil, err
	}
	return app.Open(cfg)
}

// RunCmd starts the bot and blocks until SIGINT or SIGTERM.
type RunCmd struct{}

func (c *RunCmd) Run(g *Globals) error {
	cfg, path, err := g.load()
	if err != nil {
		return err
	}
	L_info("voxledger starting", "version", version, "config", path)

	a, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			L_error("shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx, path)
}

type TranscribeCmd struct {
	File     string        `arg:"" type:"existingfile" help:"Audio file to transcribe."`
	Target   string        `help:"Entity type recorded with the usage." default:"voice_note"`
	Language string        `short:"l" help:"Language hint, e.g. en or af."`
	Timeout  time.Duration `help:"Give up after this long." default:"5m"`
}

func (c *TranscribeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	res := a.TranscribeFile(ctx, c.File, c.Target, c.Language)
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(os.Stderr, "provider: %s  cost: $%.6f  tried: %s\n", res.Provider, res.Cost, res.FallbackChain())
	fmt.Println(res.Text)
	if res.Fallback {
		return errors.New("all providers failed")
	}
	return nil
}

type LedgerCmd struct {
	Stats      LedgerStatsCmd      `cmd:"" help:"Show totals, per-provider usage and free-tier status."`
	Weekly     LedgerWeeklyCmd     `cmd:"" help:"Show cost per day for the last seven days."`
	ResetMonth LedgerResetMonthCmd `cmd:"" name:"reset-month" help:"Drop this month's transactions and rebuild the counters."`
	Export     LedgerExportCmd     `cmd:"" help:"Write the ledger to a JSON file."`
	Reconcile  LedgerReconcileCmd  `cmd:"" help:"Check the cached totals against the transaction log."`
}

type LedgerStatsCmd struct {
	Metrics bool `help:"Include in-process metrics."`
}

func (c *LedgerStatsCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	out := map[string]interface{}{"ledger": a.Ledger.Stats()}
	if c.Metrics {
		out["metrics"] = GetInstance().Snapshot()
	}
	return printJSON(out)
}

type LedgerWeeklyCmd struct{}

func (c *LedgerWeeklyCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCOST")
	var total float64
	for _, d := range a.Ledger.WeeklyCosts() {
		fmt.Fprintf(tw, "%s\t$%.4f\n", d.Day, d.Cost)
		total += d.Cost
	}
	fmt.Fprintf(tw, "total\t$%.4f\n", total)
	return tw.Flush()
}

type LedgerResetMonthCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation."`
}

func (c *LedgerResetMonthCmd) Run(g *Globals) error {
	if !c.Yes {
		return errors.New("this deletes the current month's transactions; rerun with --yes")
	}
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Ledger.ResetMonthlyCounters(); err != nil {
		return err
	}
	fmt.Println("monthly counters reset")
	return nil
}

type LedgerExportCmd struct {
	Path string `arg:"" type:"path" help:"Output file."`
}

func (c *LedgerExportCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	exp := a.Ledger.Export()
	if err := config.AtomicWriteJSON(c.Path, exp, 0600); err != nil {
		return err
	}
	fmt.Printf("exported %d transactions to %s\n", len(exp.Transactions), c.Path)
	return nil
}

type LedgerReconcileCmd struct{}

func (c *LedgerReconcileCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Ledger.Reconcile(); err != nil {
		return err
	}
	fmt.Println("ledger is consistent")
	return nil
}

type EntitiesCmd struct {
	List EntitiesListCmd `cmd:"" default:"withargs" help:"List recent entities."`
}

type EntitiesListCmd struct {
	Target  []string `short:"t" help:"Only these entity types (repeatable)."`
	Session string   `help:"Only this session (Telegram chat id)."`
	Limit   int      `short:"n" help:"Maximum rows." default:"20"`
}

func (c *EntitiesListCmd) Run(g *Globals) error {
	targets, err := parseTargets(c.Target)
	if err != nil {
		return err
	}
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Entities.List(context.Background(), c.Session, targets, c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTYPE\tTITLE\tPROVIDER")
	for _, e := range list {
		provider := ""
		if e.Transcription != nil {
			provider = e.Transcription.Provider
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Target, e.Title, provider)
	}
	return tw.Flush()
}

func parseTargets(names []string) ([]session.Target, error) {
	known := make(map[session.Target]bool, len(session.Targets))
	valid := make([]string, 0, len(session.Targets))
	for _, t := range session.Targets {
		known[t] = true
		valid = append(valid, string(t))
	}
	sort.Strings(valid)

	var out []session.Target
	for _, n := range names {
		t := session.Target(n)
		if !known[t] {
			return nil, fmt.Errorf("unknown target %q (valid: %v)", n, valid)
		}
		out = append(out, t)
	}
	return out, nil
}

type ConfigCmd struct {
	Init         ConfigInitCmd         `cmd:"" help:"Write a config file with the defaults."`
	Path         ConfigPathCmd         `cmd:"" help:"Print the config file that would be loaded."`
	HashPassword ConfigHashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for http.password."`
}

type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" type:"path" help:"Where to write (default: ~/.voxledger/voxledger.json)."`
	Force bool   `short:"f" help:"Overwrite an existing file (a backup is kept)."`
}

func (c *ConfigInitCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		p, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(g *Globals) error {
	path := g.ConfigFile
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if path == "" {
		fmt.Println("(none, using defaults)")
		return nil
	}
	fmt.Println(path)
	return nil
}

type ConfigHashPasswordCmd struct {
	Password string `arg:"" help:"Password to hash."`
}

func (c *ConfigHashPasswordCmd) Run() error {
	hash, err := apihttp.HashPassword(c.Password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("voxledger %s\n", version)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
