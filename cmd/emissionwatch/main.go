package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/emissionwatch/internal/api"
	"github.com/lox/emissionwatch/internal/config"
	"github.com/lox/emissionwatch/internal/features"
	"github.com/lox/emissionwatch/internal/models"
	"github.com/lox/emissionwatch/internal/narrative"
	"github.com/lox/emissionwatch/internal/predict"
	"github.com/lox/emissionwatch/internal/source"
	"github.com/lox/emissionwatch/internal/store"
	"github.com/lox/emissionwatch/internal/threshold"
)

type CLI struct {
	Config  string                   `help:"Path to a YAML config file." short:"c" type:"path"`
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Train the model and serve the web UI and API."`
	Predict PredictCmd `cmd:"" help:"Train the model and predict a single file."`
	Runs    RunsCmd    `cmd:"" help:"List stored prediction runs."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("emissionwatch"),
		kong.Description("Emissions measurement prediction and threshold warnings."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

type ServeCmd struct {
	Port string `help:"HTTP server port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != "" {
		cfg.Port = c.Port
	}

	st, closeDB, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB()

	if cfg.UploadKeepDays > 0 {
		if n, err := st.CleanupOldUploads(cfg.UploadKeepDays); err != nil {
			log.Printf("cleanup uploads: %v", err)
		} else if n > 0 {
			log.Printf("removed %d archived uploads older than %d days", n, cfg.UploadKeepDays)
		}
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	recordTraining(st, cfg.TrainingData, svc)

	opts := api.Options{Port: cfg.Port, MaxUploadBytes: cfg.MaxUploadBytes()}
	if sum, err := narrative.NewSummarizerFromEnv(cfg.OpenAIModel); err != nil {
		log.Printf("generated summaries disabled: %v", err)
	} else {
		opts.Summarizer = sum
		opts.SummaryCache = narrative.NewCache(cfg.SummaryCache, 30*24*time.Hour)
	}
	server := api.NewServer(svc, st, opts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("starting server on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

type PredictCmd struct {
	File string `arg:"" type:"existingfile" help:"Measurement CSV to predict."`
	JSON bool   `help:"Print the result as JSON."`
	Save bool   `help:"Store the run in the database."`
}

func (c *PredictCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	if svc.State() != predict.StateTrained {
		if errors.Is(svc.TrainErr(), predict.ErrTrainingData) {
			return fmt.Errorf("model not trained, check training_data (%q): %w", cfg.TrainingData, svc.TrainErr())
		}
		return fmt.Errorf("model not trained: %w", svc.TrainErr())
	}

	res, err := svc.UploadAndPredict(c.File)
	if err != nil {
		return err
	}

	if c.Save {
		st, closeDB, err := openStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer closeDB()

		payload, err := os.ReadFile(c.File)
		if err != nil {
			return fmt.Errorf("read %s: %w", c.File, err)
		}
		hash, _, err := st.ArchiveUpload(filepath.Base(c.File), payload)
		if err != nil {
			return err
		}
		run, err := st.SaveRun(filepath.Base(c.File), hash, res)
		if err != nil {
			return err
		}
		log.Printf("saved run %s", run.ID)
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(os.Stdout, res)
	return nil
}

type RunsCmd struct {
	Source   string `help:"Only runs for this file name."`
	Warnings bool   `help:"Only runs with threshold warnings."`
	Limit    int    `default:"20" help:"Maximum runs to list."`
}

func (c *RunsCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	st, closeDB, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := st.ListRuns(store.RunFilter{Source: c.Source, WarningsOnly: c.Warnings, Limit: c.Limit})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tFILE\tROWS\tWARNINGS\tMSE\tR2")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.3f\t%.3f\n", r.ID, r.CreatedAt.Format(time.DateTime),
			r.SourceName, r.RowCount, r.Result.WarningCount, r.Result.MSE, r.Result.R2)
	}
	return tw.Flush()
}

func openStore(path string) (*store.Store, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func newService(cfg *config.Config) (*predict.Service, error) {
	entries, err := config.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		return nil, err
	}
	engine := threshold.New(entries)
	log.Printf("loaded %d thresholds", engine.Len())

	buckets := cfg.TextBuckets
	if buckets <= 0 {
		buckets = features.DefaultTextBuckets
	}
	return predict.New(predict.Options{
		TrainingPath: cfg.TrainingData,
		Engine:       engine,
		Params:       cfg.Params(),
		TextBuckets:  buckets,
		Fetcher:      source.New(),
		FetchTimeout: time.Duration(cfg.FetchTimeout) * time.Second,
	}), nil
}

func recordTraining(st *store.Store, src string, svc *predict.Service) {
	var sum *models.TrainingSummary
	if s, ok := svc.Summary(); ok {
		sum = &s
	}
	if _, err := st.RecordTraining(src, sum, svc.TrainErr()); err != nil {
		log.Printf("record training run: %v", err)
	}
}

func printResult(w io.Writer, res *models.PredictionResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tCODE\tDATE\tPREDICTED\tACTUAL\tTHRESHOLD\tUNIT\tWARNING")
	for _, r := range res.Rows {
		date := ""
		if !r.MeasurementDate.IsZero() {
			date = r.MeasurementDate.Format(time.DateOnly)
		}
		warn := ""
		if r.IsWarning {
			warn = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n", r.ParameterDisplayName, r.ParameterCode, date,
			r.PredictedValue, optional(r.ActualValue), optional(r.Threshold), r.Unit, warn)
	}
	tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, narrative.Build(res))
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
