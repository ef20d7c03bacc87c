// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/gleaner"
	"github.com/poiesic/gleaner/api"
	"github.com/poiesic/gleaner/config"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/extract"
	"github.com/poiesic/gleaner/ingestion"
	"github.com/poiesic/gleaner/logging"
	"github.com/poiesic/gleaner/notify"
	"github.com/poiesic/gleaner/queue"
	"github.com/poiesic/gleaner/reembed"
	"github.com/poiesic/gleaner/storage"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gleaner",
		Usage: "Fetch, chunk and embed web pages for retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write JSON logs to this file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:  "embedding-provider",
				Usage: "Embedding provider (openai, ollama)",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "enqueue",
				Usage:  "Queue a URL for ingestion",
				Action: enqueueCommand,
				Flags: []cli.Flag{
					urlFlag(),
					tenantFlag(),
					&cli.IntFlag{Name: "priority", Usage: "Higher runs first"},
					&cli.StringFlag{Name: "source", Usage: "Origin of the request", Value: "cli"},
				},
			},
			{
				Name:   "work",
				Usage:  "Process queued jobs",
				Action: workCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "drain", Usage: "Keep processing until the queue is empty"},
					&cli.IntFlag{Name: "concurrency", Usage: "Parallel jobs while draining"},
					&cli.IntFlag{Name: "max-jobs", Usage: "Stop draining after N jobs (0 = no limit)"},
					tenantFlag(),
				},
			},
			{
				Name:   "jobs",
				Usage:  "List jobs, newest first",
				Action: jobsCommand,
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.StringFlag{Name: "status", Usage: "Filter by status (queued, in_progress, completed, failed)"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum jobs to show", Value: 50},
				},
			},
			{
				Name:      "job",
				Usage:     "Show one job as JSON",
				ArgsUsage: "<job-id>",
				Action:    jobCommand,
			},
			{
				Name:   "ingest",
				Usage:  "Queue a URL and process it right away",
				Action: ingestCommand,
				Flags:  []cli.Flag{urlFlag(), tenantFlag()},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and a background worker",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
					&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for wake-up notifications"},
					&cli.IntFlag{Name: "concurrency", Usage: "Parallel jobs"},
					&cli.DurationFlag{Name: "poll-interval", Usage: "Queue poll interval without wake-ups"},
					&cli.BoolFlag{Name: "no-worker", Usage: "Serve the API only"},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Reembed all chunks of a tenant with the configured model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "normalize",
						Usage: "Scale vectors to unit length",
					},
				},
			},
		},
	}
}

func urlFlag() cli.Flag {
	return &cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "URL to ingest", Required: true}
}

func tenantFlag() cli.Flag {
	return &cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant ID (defaults to GLEANER_TENANT_ID)"}
}

// setup loads the environment configuration, applies global flag overrides
// and installs the default logger.
func setup(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.IsSet("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("embedding-provider") {
		cfg.EmbeddingProvider = c.String("embedding-provider")
	}
	if c.IsSet("embedding-host") {
		cfg.EmbeddingHost = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.EmbeddingModel = c.String("embedding-model")
	}

	if err := setupLogger(cfg); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func setupLogger(cfg *config.Config) error {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, _ := logging.Setup(level, cfg.LogFile)
	slog.SetDefault(logger)
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata[configKey].(*config.Config)
	return cfg
}

func tenantFrom(c *cli.Context, cfg *config.Config) string {
	if c.IsSet("tenant") {
		return c.String("tenant")
	}
	return cfg.TenantID
}

func open(cfg *config.Config, opts ...gleaner.Option) (*gleaner.Gleaner, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	rules, err := extract.ParseSelectorRules(cfg.SelectorRules)
	if err != nil {
		return nil, err
	}
	opts = append([]gleaner.Option{
		gleaner.WithAIConfig(cfg.AI()),
		gleaner.WithSelectorRules(rules),
	}, opts...)
	g, err := gleaner.New(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return g, nil
}

func newWorker(g *gleaner.Gleaner, cfg *config.Config, tenantID string) (*ingestion.Worker, error) {
	return g.NewWorker(cfg.Splitter(),
		ingestion.WithFetchOptions(cfg.Fetch()),
		ingestion.WithPoolSize(cfg.Concurrency),
		ingestion.WithKeepHTML(cfg.KeepHTML),
		ingestion.WithTenant(tenantID),
	)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func enqueueCommand(c *cli.Context) error {
	cfg := configFrom(c)
	g, err := open(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	res, err := g.Queue().Enqueue(c.Context, queue.EnqueueRequest{
		TenantID: tenantFrom(c, cfg),
		URL:      c.String("url"),
		Priority: c.Int("priority"),
		Source:   c.String("source"),
	})
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{
		"ok":       true,
		"deduped":  res.Deduped,
		"jobId":    res.JobID,
		"status":   res.Status,
		"url":      res.URL,
		"tenantId": res.TenantID,
	})
}

func workCommand(c *cli.Context) error {
	cfg := configFrom(c)
	g, err := open(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	worker, err := newWorker(g, cfg, tenantFrom(c, cfg))
	if err != nil {
		return err
	}

	if !c.Bool("drain") {
		outcome := worker.RunOnce(c.Context)
		if !outcome.Processed && outcome.Error != "" {
			return errors.New(outcome.Error)
		}
		return printJSON(c, outcome)
	}

	stats, err := worker.Drain(c.Context, ingestion.DrainOptions{
		Concurrency: c.Int("concurrency"),
		MaxJobs:     c.Int("max-jobs"),
	})
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{
		"processed": stats.Processed,
		"completed": stats.Completed,
		"failed":    stats.Failed,
	})
}

func jobsCommand(c *cli.Context) error {
	cfg := configFrom(c)
	g, err := open(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	jobs, err := g.Queue().List(c.Context, storage.JobQuery{
		TenantID: tenantFrom(c, cfg),
		Status:   core.JobStatus(c.String("status")),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTENANT\tSTATUS\tSTAGE\tATTEMPTS\tURL\tUPDATED\tERROR")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			job.ID, job.TenantID, job.Status, job.Stage, job.Attempts, job.URL,
			job.UpdatedAt.Format(time.RFC3339), firstLine(job.Error, 60))
	}
	return tw.Flush()
}

func jobCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one job id")
	}
	cfg := configFrom(c)
	g, err := open(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	job, err := g.Queue().Get(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(c, api.NewJobView(job))
}

func ingestCommand(c *cli.Context) error {
	cfg := configFrom(c)
	g, err := open(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	tenantID := tenantFrom(c, cfg)
	res, err := g.Queue().Enqueue(c.Context, queue.EnqueueRequest{
		TenantID: tenantID,
		URL:      c.String("url"),
		Source:   "cli",
	})
	if err != nil {
		return err
	}

	worker, err := newWorker(g, cfg, tenantID)
	if err != nil {
		return err
	}
	for {
		job, err := g.Queue().Get(c.Context, res.JobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return printJSON(c, api.NewJobView(job))
		}
		outcome := worker.RunOnce(c.Context)
		if !outcome.Processed {
			if outcome.Error != "" {
				return errors.New(outcome.Error)
			}
			// Another process holds the job
			select {
			case <-c.Context.Done():
				return c.Context.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet("addr") {
		cfg.HTTPAddr = c.String("addr")
	}
	if c.IsSet("redis-addr") {
		cfg.RedisAddr = c.String("redis-addr")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("poll-interval") {
		cfg.PollInterval = c.Duration("poll-interval")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RedisAddr != "" {
		rn, err := notify.Dial(ctx, cfg.RedisAddr, cfg.RedisWakeKey)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rn.Close()
		notifier = rn
	}

	g, err := open(cfg, gleaner.WithNotifier(notifier))
	if err != nil {
		return err
	}
	defer g.Close()

	worker, err := newWorker(g, cfg, cfg.TenantID)
	if err != nil {
		return err
	}
	server, err := api.NewServer(g.Queue(), worker, api.WithHealth(g.Healthy))
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(ctx, cfg.HTTPAddr)
	})
	if !c.Bool("no-worker") {
		group.Go(func() error {
			return worker.Serve(ctx, notifier, cfg.PollInterval, ingestion.DrainOptions{Concurrency: cfg.Concurrency})
		})
	}
	return group.Wait()
}

func reembedCommand(c *cli.Context) error {
	cfg := configFrom(c)

	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Normalize:      c.Bool("normalize"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	g, err := open(cfg)
	if err != nil {
		return err
	}
	defer g.Close()

	tenantID := tenantFrom(c, cfg)
	reembedder, err := reembed.NewReembedder(g.DocumentRepository(), g.ChunkRepository(), g.Embedder(), tenantID, reembedConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", cfg.DBPath)
	fmt.Fprintf(c.App.ErrWriter, "Tenant: %s\n", tenantID)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", g.Embedder().Model())
	fmt.Fprintln(c.App.ErrWriter)

	if _, err := reembedder.Run(c.Context); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func firstLine(s string, max int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return s
}
