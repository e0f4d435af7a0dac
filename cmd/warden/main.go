package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "chat moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "data-file",
			Usage:   "path of the JSON state file, used when no redis or database URL is configured",
			Value:   "data/warden/data.json",
			EnvVars: []string{"WARDEN_DATA_FILE"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis URL for state storage (takes precedence over the data file)",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "sqlite:// or postgres:// URL for state storage (takes precedence over redis)",
			EnvVars: []string{"WARDEN_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "trace SQL storage backend queries with opentelemetry",
			EnvVars: []string{"WARDEN_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		inspectCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3700",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3701",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "persist-interval",
			Usage:   "how often stats-only changes are flushed to storage",
			Value:   30 * time.Second,
			EnvVars: []string{"WARDEN_PERSIST_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "admins-file",
			Usage:   "JSON file of chat admin IDs. when unset, the caller's admin flag is trusted",
			EnvVars: []string{"WARDEN_ADMINS_FILE"},
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "Slack-compatible webhook to notify of moderation actions",
			EnvVars: []string{"WARDEN_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "kafka bootstrap brokers. enables the kafka event consumer",
			EnvVars: []string{"WARDEN_KAFKA_BROKERS"},
		},
		&cli.StringFlag{
			Name:    "kafka-input-topic",
			Value:   "warden-events",
			EnvVars: []string{"WARDEN_KAFKA_INPUT_TOPIC"},
		},
		&cli.StringFlag{
			Name:    "kafka-output-topic",
			Usage:   "topic decisions are produced to (empty to disable)",
			Value:   "warden-decisions",
			EnvVars: []string{"WARDEN_KAFKA_OUTPUT_TOPIC"},
		},
		&cli.StringFlag{
			Name:    "kafka-group",
			Value:   "warden",
			EnvVars: []string{"WARDEN_KAFKA_GROUP"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogging(cctx)
		slog.SetDefault(logger)

		shutdownTracing, err := configOTEL(cctx.Context, "warden")
		if err != nil {
			return err
		}
		defer shutdownTracing()

		backend, err := openBackend(cctx, logger)
		if err != nil {
			return err
		}

		srv, err := NewServer(backend, Config{
			Logger:          logger,
			Bind:            cctx.String("bind"),
			MetricsListen:   cctx.String("metrics-listen"),
			PersistInterval: cctx.Duration("persist-interval"),
			AdminsFile:      cctx.String("admins-file"),
			WebhookURL:      cctx.String("webhook-url"),
			KafkaBrokers:    cctx.StringSlice("kafka-brokers"),
			KafkaInput:      cctx.String("kafka-input-topic"),
			KafkaOutput:     cctx.String("kafka-output-topic"),
			KafkaGroup:      cctx.String("kafka-group"),
		})
		if err != nil {
			return err
		}

		if err := srv.Run(cctx.Context); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		return nil
	},
}

var inspectCmd = &cli.Command{
	Name:      "inspect",
	Usage:     "print stats, or one chat's configuration, from the configured storage",
	ArgsUsage: "[<chat-id>]",
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := configLogging(cctx)

		backend, err := openBackend(cctx, logger)
		if err != nil {
			return err
		}
		store := chatstore.NewStore(backend, logger)
		defer store.Close()
		store.LoadAll(ctx)

		var out any = store.Stats()
		if cctx.Args().Len() > 0 {
			chatID, err := parseChatID(cctx.Args().First())
			if err != nil {
				return err
			}
			if !slices.Contains(store.ChatIDs(), chatID) {
				return fmt.Errorf("no configuration stored for chat %d", chatID)
			}
			out = store.Get(chatID)
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

func configLogging(cctx *cli.Context) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// Picks the storage backend from flags: database, then redis, then the JSON file.
func openBackend(cctx *cli.Context, logger *slog.Logger) (chatstore.Backend, error) {
	if dburl := cctx.String("database-url"); dburl != "" {
		db, err := chatstore.OpenDatabase(dburl, logger)
		if err != nil {
			return nil, err
		}
		if cctx.Bool("db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		logger.Info("using SQL storage backend")
		return chatstore.NewSQLBackend(db)
	}
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		logger.Info("using redis storage backend")
		return chatstore.NewRedisBackend(redisURL)
	}
	logger.Info("using JSON file storage backend", "path", cctx.String("data-file"))
	return chatstore.NewFileBackend(cctx.String("data-file"))
}
