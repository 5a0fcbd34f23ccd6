package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/lox/rainfallqc/internal/framework"
	"github.com/lox/rainfallqc/internal/ingest"
	"github.com/lox/rainfallqc/internal/metrics"
	"github.com/lox/rainfallqc/internal/store"
)

type CLI struct {
	EnvFile         string `help:"Load environment variables from this file." default:".env" type:"path"`
	LogFormat       string `help:"Log output format." enum:"text,json" default:"text" env:"RAINFALLQC_LOG_FORMAT"`
	LogLevel        string `help:"Minimum log level." enum:"debug,info,warn,error" default:"info" env:"RAINFALLQC_LOG_LEVEL"`
	MetricsAddr     string `help:"Serve Prometheus metrics on this address while running." env:"RAINFALLQC_METRICS_ADDR"`
	MetricsTextfile string `help:"Write Prometheus metrics to this file before exiting." type:"path" env:"RAINFALLQC_METRICS_TEXTFILE"`

	Run     RunCmd     `cmd:"" help:"Run QC checks described by YAML run files."`
	Import  ImportCmd  `cmd:"" help:"Load reference data into the store."`
	History HistoryCmd `cmd:"" help:"Show the store schema version and recent imports."`
	Fetch   FetchCmd   `cmd:"" help:"Download a gauge record or reference archive."`
	Checks  ChecksCmd  `cmd:"" help:"List frameworks and their checks."`
}

// Globals is handed to every command's Run method.
type Globals struct {
	Ctx      context.Context
	Logger   *slog.Logger
	Registry *framework.Registry
	Fetcher  ingest.Fetcher
}

func main() {
	// .env must be loaded before kong reads env-backed flags.
	if err := godotenv.Load(envFileArg(os.Args[1:])); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "rainfallqc: load env file: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("rainfallqc"),
		kong.Description("Quality control for rain gauge records."),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.LogFormat, cli.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cli.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cli.MetricsAddr, logger); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	err := kctx.Run(&Globals{
		Ctx:      ctx,
		Logger:   logger,
		Registry: framework.Builtins(),
		Fetcher:  ingest.NewSchemeFetcher(logger),
	})

	if cli.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(cli.MetricsTextfile); werr != nil {
			logger.Error("write metrics textfile", "path", cli.MetricsTextfile, "error", werr)
		}
	}
	kctx.FatalIfErrorf(err)
}

// envFileArg finds --env-file ahead of kong parsing.
func envFileArg(args []string) string {
	for i, a := range args {
		if a == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			return v
		}
	}
	return ".env"
}

func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openStore opens and migrates the sqlite reference store at path.
func openStore(path string, logger *slog.Logger) (*store.Store, func(), error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return st, func() { db.Close() }, nil
}
