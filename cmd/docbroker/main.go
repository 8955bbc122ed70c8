package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/docbroker/docbroker/internal"
	"github.com/docbroker/docbroker/internal/client"
	"github.com/docbroker/docbroker/internal/mcpserver"
	"github.com/docbroker/docbroker/internal/session"
	pkgconfig "github.com/docbroker/docbroker/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOrDefault(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Info("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries the protocol.
	slog.SetDefault(internal.NewLogger(os.Stderr, cfg.App.LogLevel))

	reg, closeRegistry, err := internal.OpenRegistry(cfg.Registry)
	if err != nil {
		return err
	}
	defer closeRegistry()

	return mcpserver.New(reg, version).ServeStdio()
}

func open(ctx context.Context, cmd *cli.Command) error {
	file, remote := cmd.String("file"), cmd.String("url")
	if (file == "") == (remote == "") {
		return errors.New("exactly one of --file or --url is required")
	}

	logger := internal.NewLogger(os.Stderr, slog.LevelWarn)
	if cmd.Bool("verbose") {
		logger = internal.NewLogger(os.Stderr, slog.LevelDebug)
	}

	opts := session.DefaultOptions()
	opts.Mode = cmd.String("mode")
	opts.Lang = cmd.String("lang")
	opts.Collaboration = !cmd.Bool("no-collab")
	opts.StepTimeout = cmd.Duration("timeout")

	orch := session.New(client.New(cmd.String("server")), opts, logger)
	orch.Subscribe(func(s session.Snapshot) {
		logger.Debug("session state", slog.String("state", s.State.String()), slog.String("cleanup", s.Cleanup.String()))
	})

	if err := orch.Login(ctx, cmd.String("user"), cmd.String("password")); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var doc *session.Document
	var err error
	if file != "" {
		f, openErr := os.Open(file)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		doc, err = orch.LoadFile(ctx, filepath.Base(file), f)
	} else {
		doc, err = orch.LoadURL(ctx, remote)
	}
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"documentKey": doc.Key,
		"uploadId":    doc.UploadID,
		"issuedAt":    doc.IssuedAt,
		"expiresIn":   doc.ExpiresIn,
		"config":      doc.Config,
	})
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:    "docbroker",
		Usage:   "Document identity and editor session broker",
		Version: version,
		Action:  serve,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP broker",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve document identity tools over MCP stdio",
				Action: serveMCP,
			},
			{
				Name:   "open",
				Usage:  "Log in to a broker, open a document and print its signed editor configuration",
				Action: open,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Usage:   "Broker base URL",
						Value:   "http://localhost:5174",
						Sources: cli.EnvVars("DOCBROKER_SERVER"),
					},
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "Username",
						Required: true,
						Sources:  cli.EnvVars("DOCBROKER_USER"),
					},
					&cli.StringFlag{
						Name:     "password",
						Aliases:  []string{"p"},
						Usage:    "Password",
						Required: true,
						Sources:  cli.EnvVars("DOCBROKER_PASSWORD"),
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "Local .doc/.docx file to upload",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "Remote document URL to register",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Editor mode (edit or view)",
						Value: session.ModeEdit,
					},
					&cli.StringFlag{
						Name:  "lang",
						Usage: "Editor language",
						Value: "en",
					},
					&cli.BoolFlag{
						Name:  "no-collab",
						Usage: "Disable real-time collaboration",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Timeout for each broker call",
						Value: session.DefaultOptions().StepTimeout,
					},
					&cli.BoolFlag{
						Name:  "verbose",
						Usage: "Log state changes to stderr",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
