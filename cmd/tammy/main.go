package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/config"
	"github.com/keshon/tammy/internal/discord"
	"github.com/keshon/tammy/internal/engine"
	"github.com/keshon/tammy/internal/health"
	"github.com/keshon/tammy/internal/lavalink"
	"github.com/keshon/tammy/internal/logger"
	"github.com/keshon/tammy/pkg/jobmgr"
)

const appName = "tammy"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile, logLevel string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Tammy is a Discord music bot that keeps its voice session alive.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(envFile, logLevel)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "overrides LOG_LEVEL")
	return cmd
}

func run(envFile, logLevel string) error {
	loaded, err := config.LoadEnvFile(envFile)
	if err != nil {
		return err
	}
	cfg, err := config.New()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting", zap.String("app", appName), zap.Bool("env_file_loaded", loaded),
		zap.String("lavalink", cfg.LavalinkAddress()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := jobmgr.NewManager(ctx, func(status string) {
		if strings.HasPrefix(status, "error:") {
			log.Error("job status", zap.String("status", status))
			return
		}
		log.Debug("job status", zap.String("status", status))
	})
	defer jobs.StopAll()

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	node := lavalink.New(lavalink.Config{
		Name:              cfg.LavalinkName,
		Host:              cfg.LavalinkHost,
		Port:              cfg.LavalinkPort,
		Password:          cfg.LavalinkPassword,
		Secure:            cfg.LavalinkSecure,
		CallTimeout:       cfg.CallTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectMaxDelay: cfg.ReconnectMaxDelay,
	}, dg, log.Named("lavalink"))

	messenger := discord.NewMessenger(dg)
	eng := engine.New(ctx, engine.Options{
		AutoReconnectChannelID: cfg.AutoReconnectChannelID,
		ReconnectDelay:         cfg.ReconnectDelay,
		ReconnectMaxDelay:      cfg.ReconnectMaxDelay,
		ReplyDeleteDelay:       cfg.ReplyDeleteDelay,
		CallTimeout:            cfg.CallTimeout,
	}, messenger, node, messenger, log.Named("engine"))
	defer eng.Close()

	if err := jobs.StartAsync("node-events", func(ctx context.Context) error {
		return eng.Run(ctx, node.Events())
	}); err != nil {
		return err
	}
	if cfg.ReassertInterval > 0 {
		if err := jobs.StartPeriodic("reassert", cfg.ReassertInterval, eng.Reassert); err != nil {
			return err
		}
	}
	if err := jobs.StartAsync("health", func(ctx context.Context) error {
		return health.Run(ctx, fmt.Sprintf(":%d", cfg.HTTPPort), log.Named("health"))
	}); err != nil {
		return err
	}

	bot := discord.NewBot(dg, discord.Options{
		Prefix:                 cfg.CommandPrefix,
		AutoReconnectChannelID: cfg.AutoReconnectChannelID,
	}, eng, node, jobs, log.Named("discord"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Run(ctx)
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case s := <-sig:
		log.Info("received signal, shutting down", zap.String("signal", s.String()))
	case runErr = <-errCh:
		if runErr != nil {
			log.Error("discord bot stopped", zap.Error(runErr))
		}
	}
	cancel()
	<-errCh
	jobs.StopAll()

	log.Info("exited cleanly")
	return runErr
}
