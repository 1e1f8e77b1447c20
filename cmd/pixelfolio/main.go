package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/dunamismax/pixelfolio/internal/batch"
	"github.com/dunamismax/pixelfolio/internal/config"
	"github.com/dunamismax/pixelfolio/internal/domain"
	"github.com/dunamismax/pixelfolio/internal/pipeline"
	"github.com/dunamismax/pixelfolio/internal/telemetry"
	"github.com/dunamismax/pixelfolio/internal/webhook"
)

func main() {
	logger := log.New(os.Stderr, "[pixelfolio] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(ctx, logger)
	if err := app.Run(os.Args); err != nil {
		stop()
		logger.Fatalf("%v", err)
	}
}

func newApp(ctx context.Context, logger *log.Logger) *cli.App {
	app := cli.NewApp()
	app.Name = "pixelfolio"
	app.Usage = "normalize portfolio images and generate the static portfolio pages"
	app.HideVersion = true

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to a YAML config file",
			EnvVar: "PIXELFOLIO_CONFIG",
		},
	}

	buildFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "root",
			Usage: "directory image folders and page paths are resolved against (default: directory of the projects file)",
		},
		cli.BoolFlag{
			Name:  "lenient",
			Usage: "drop invalid project records instead of aborting",
		},
		cli.StringFlag{
			Name:   "metrics-file",
			Usage:  "write build metrics in Prometheus textfile format to this path",
			EnvVar: "PIXELFOLIO_METRICS_FILE",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "build",
			Usage:     "normalize images and write every project page plus the listing page",
			ArgsUsage: "projects.json listing.html",
			Flags:     buildFlags,
			Action: func(c *cli.Context) error {
				return runBuild(ctx, c, logger, false)
			},
		},
		{
			Name:      "watch",
			Usage:     "build, then rebuild whenever the projects file or an image folder changes",
			ArgsUsage: "projects.json listing.html",
			Flags:     buildFlags,
			Action: func(c *cli.Context) error {
				return runBuild(ctx, c, logger, true)
			},
		},
		{
			Name:      "normalize",
			Usage:     "normalize single images with a named policy",
			ArgsUsage: "image...",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "policy, p",
					Usage: "policy name",
					Value: "gallery",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "output directory (default: <image dir>/resized)",
				},
			},
			Action: func(c *cli.Context) error {
				return runNormalize(ctx, c, logger)
			},
		},
		{
			Name:  "policies",
			Usage: "print the configured normalization policies",
			Action: func(c *cli.Context) error {
				cfg, err := config.Load(c.GlobalString("config"))
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(cfg.Policies)
				if err != nil {
					return fmt.Errorf("encode policies: %w", err)
				}
				_, err = os.Stdout.Write(out)
				return err
			},
		},
	}
	return app
}

func runBuild(ctx context.Context, c *cli.Context, logger *log.Logger, watch bool) error {
	if c.NArg() != 2 {
		return cli.NewExitError("expected arguments: projects.json listing.html", 2)
	}
	projectsPath, listingPath := c.Args().Get(0), c.Args().Get(1)

	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if root := c.String("root"); root != "" {
		cfg.Build.Root = root
	}
	if c.Bool("lenient") {
		cfg.Build.Strict = false
	}
	if file := c.String("metrics-file"); file != "" {
		cfg.Metrics.File = file
	}

	processor, shutdown, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	builder, err := batch.NewBuilder(logger, cfg, processor)
	if err != nil {
		return err
	}
	if client := webhook.NewClient(webhook.Config{
		URL:           cfg.Notify.WebhookURL,
		SigningSecret: cfg.Notify.WebhookSecret,
		Timeout:       time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	}); client != nil {
		builder.SetNotifier(client)
	}

	if watch {
		logger.Printf("watching projects=%s backend=%s", projectsPath, pipeline.Backend)
		return builder.Watch(ctx, projectsPath, listingPath)
	}

	report, err := builder.Run(ctx, projectsPath, listingPath)
	if err != nil {
		return err
	}
	if batch.Failed(report) {
		return cli.NewExitError(fmt.Sprintf("%d project(s) failed", report.Count(domain.ProjectStatusFailed)), 1)
	}
	return nil
}

func runNormalize(ctx context.Context, c *cli.Context, logger *log.Logger) error {
	if c.NArg() == 0 {
		return cli.NewExitError("expected at least one image", 2)
	}

	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	policy, err := cfg.Policy(c.String("policy"))
	if err != nil {
		return err
	}

	processor, shutdown, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	failed := 0
	for _, source := range c.Args() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outDir := c.String("out")
		if outDir == "" {
			outDir = filepath.Join(filepath.Dir(source), cfg.Build.ResizedDir)
		}

		out, err := processor.Normalize(ctx, pipeline.Request{Source: source, OutputDir: outDir, Policy: policy})
		if err != nil {
			failed++
			logger.Printf("normalize failed source=%s policy=%s err=%v", source, policy.Name, err)
			continue
		}
		logger.Printf(
			"normalized source=%s output=%s size=%dx%d bytes=%s",
			out.Source,
			out.Path,
			out.Width,
			out.Height,
			humanize.Bytes(uint64(out.Bytes)),
		)
	}

	if failed > 0 {
		return cli.NewExitError(fmt.Sprintf("%d of %d image(s) failed", failed, c.NArg()), 1)
	}
	return nil
}

// start brings up the image backend and tracing. The returned func tears
// both down.
func start(ctx context.Context, cfg config.Config, logger *log.Logger) (*pipeline.Processor, func(), error) {
	flushTraces, err := telemetry.SetupTracing(ctx, cfg.Telemetry, os.Stderr, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("setup tracing: %w", err)
	}

	if err := pipeline.Startup(); err != nil {
		_ = flushTraces(context.Background())
		return nil, nil, fmt.Errorf("start image backend: %w", err)
	}

	processor, err := pipeline.NewLocalProcessor()
	if err != nil {
		pipeline.Shutdown()
		_ = flushTraces(context.Background())
		return nil, nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	shutdown := func() {
		pipeline.Shutdown()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := flushTraces(flushCtx); err != nil {
			logger.Printf("trace flush failed err=%v", err)
		}
	}
	return processor, shutdown, nil
}
