// Command lifesim runs the energy-agent grid simulation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/talgya/lifesim/internal/api"
	"github.com/talgya/lifesim/internal/config"
	"github.com/talgya/lifesim/internal/engine"
	"github.com/talgya/lifesim/internal/persistence"
	"github.com/talgya/lifesim/internal/world"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file (defaults built in)")
	steps := flag.Uint64("steps", 0, "run this many steps headless, print a summary and exit")
	seed := flag.Int64("seed", 0, "world seed, 0 = random (overrides config)")
	width := flag.Int("width", 0, "grid width (overrides config)")
	height := flag.Int("height", 0, "grid height (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "lifesim:", err)
			os.Exit(2)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			cfg.World.Seed = *seed
		case "width":
			cfg.World.Width = *width
		case "height":
			cfg.World.Height = *height
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "lifesim:", err)
		os.Exit(2)
	}

	slog.SetDefault(newLogger(cfg.Logging))
	slog.Info("LifeSim energy-agent simulation",
		"width", cfg.World.Width,
		"height", cfg.World.Height,
		"teams", cfg.Simulation.World.Teams,
		"agents_per_team", cfg.Simulation.World.AgentsPerTeam,
	)

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.NewSimulation(cfg.World.Width, cfg.World.Height, cfg.World.Seed,
		cfg.Simulation, cfg.Engine.History)
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	run := sim.Run()
	start := sim.Census()
	slog.Info("world created", "run", run.ID, "seed", run.Seed,
		"sites", humanize.Comma(int64(cfg.World.Width*cfg.World.Height)),
		"population", start.Population)

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if path := cfg.Storage.Path; path != "" {
		if dir := filepath.Dir(path); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		db, err = persistence.Open(path)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", path)

		if err := db.StartRun(run); err != nil {
			slog.Error("failed to record run", "error", err)
		}
		sim.OnReset = func(run engine.RunInfo) {
			if err := db.StartRun(run); err != nil {
				slog.Error("failed to record run", "run", run.ID, "error", err)
			}
		}
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.Engine.Interval
	eng.ReportEvery = cfg.Engine.ReportEvery
	eng.SetSpeed(cfg.Engine.Speed)
	eng.OnTick = func(uint64) { sim.Step() }
	eng.OnReport = func(uint64) {
		r := sim.Report()
		if db == nil {
			return
		}
		if err := db.SaveReport(r); err != nil {
			slog.Error("failed to save report", "tick", r.Tick, "error", err)
		}
	}

	// ── Headless ──────────────────────────────────────────────────────
	if *steps > 0 {
		var total world.StepStats
		eng.OnTick = func(uint64) { total.Add(sim.Step()) }
		began := time.Now()
		for i := uint64(0); i < *steps; i++ {
			eng.Advance()
		}
		printSummary(sim, start.Population, total, time.Since(began))
		return
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var srv *http.Server
	if cfg.API.Port > 0 {
		srv = (&api.Server{
			Sim:       sim,
			Eng:       eng,
			DB:        db,
			Port:      cfg.API.Port,
			AdminKey:  cfg.API.AdminKey,
			AdminRate: cfg.API.AdminRate,
		}).Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eng.Run(ctx)

	slog.Info("shutting down", "tick", humanize.Comma(int64(sim.Tick())))
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
	}
	eng.Flush()
}

// newLogger picks a text handler for terminals and JSON otherwise, unless
// the format is forced.
func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(lc.Format)
	if format == "" || format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func printSummary(sim *engine.Simulation, startPop int, total world.StepStats, elapsed time.Duration) {
	run := sim.Run()
	c := sim.Census()

	fmt.Printf("run %s  seed %d  %dx%d\n", run.ID, run.Seed, run.Width, run.Height)
	fmt.Printf("steps       %s in %s\n", humanize.Comma(int64(c.Tick)), elapsed.Round(time.Millisecond))
	fmt.Printf("population  %s -> %s\n", humanize.Comma(int64(startPop)), humanize.Comma(int64(c.Population)))
	fmt.Printf("activity    births %s, deaths %s, moves %s, crowded %s\n",
		humanize.Comma(int64(total.Births)), humanize.Comma(int64(total.Deaths)),
		humanize.Comma(int64(total.Moves)), humanize.Comma(int64(total.Crowded)))
	fmt.Printf("energy      agents %.1f, sites %.1f, total %.1f\n", c.AgentEnergy, c.SiteEnergy, c.TotalEnergy())
	fmt.Printf("generation  %d\n", c.MaxGeneration)
	for _, team := range c.TeamIDs() {
		fmt.Printf("team %-6d %s\n", team, humanize.Comma(int64(c.Teams[team])))
	}
}
