// Package main is the habit tracker entry point: the HTTP API, the Telegram
// bot and the reminder scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"habitTracker/internal/api"
	"habitTracker/internal/auth"
	"habitTracker/internal/config"
	"habitTracker/internal/database"
	habitrepo "habitTracker/internal/habit/repository"
	"habitTracker/internal/logger"
	"habitTracker/internal/reminder"
	"habitTracker/internal/telegram"
	userrepo "habitTracker/internal/user/repository"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

var CLI struct {
	EnvFile string `help:"Dotenv file read before the environment. A missing file is ignored." default:".env" name:"env-file"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API, the Telegram bot and the reminder scheduler." default:"1"`
	Migrate MigrateCmd `cmd:"" help:"Create the database schema and exit."`
	Remind  RemindCmd  `cmd:"" help:"Run one reminder check now and print the report."`
}

// app is what every command runs with.
type app struct {
	ctx context.Context
	cfg *config.Config
	log *zap.Logger
	out io.Writer
}

type ServeCmd struct{}

func (c *ServeCmd) Run(a *app) error {
	return Run(a.ctx, a.cfg, a.log)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(a *app) error {
	db, err := openDB(a.ctx, a.cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	a.log.Info("schema ready", zap.String("driver", a.cfg.DBDriver))
	return nil
}

type RemindCmd struct{}

func (c *RemindCmd) Run(a *app) error {
	if !a.cfg.RemindersEnabled() {
		return telegram.ErrNoToken
	}
	db, err := openDB(a.ctx, a.cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bot, err := telegram.NewBot(telegram.Config{Token: a.cfg.TelegramToken}, a.log)
	if err != nil {
		return err
	}
	d := reminder.New(habitrepo.New(db), telegram.NewSender(bot, a.log), a.cfg.Location, a.log)
	report, err := d.Check(a.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "due=%d sent=%d not_found=%d failed=%d skipped=%d\n",
		report.Due, report.Sent, report.NotFound, report.Failed, report.Skipped)
	return nil
}

// openDB connects and makes sure the schema exists.
func openDB(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := database.CreateSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	secret := cfg.JWTSecret
	if secret == "" {
		var err error
		if secret, err = auth.GenerateSecret(); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	users := userrepo.New(db)
	habits := habitrepo.New(db)
	issuer := auth.NewIssuer(secret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := api.New(log, users, habits, issuer, api.NewValidator(), api.Options{
		PageSize: cfg.PageSize,
		Location: cfg.Location,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var bot *tele.Bot
	var scheduler *reminder.Scheduler
	if cfg.RemindersEnabled() {
		bot, err = telegram.NewBot(telegram.Config{Token: cfg.TelegramToken}, log)
		if err != nil {
			return err
		}
		telegram.RegisterCommands(bot)
		go bot.Start()

		d := reminder.New(habits, telegram.NewSender(bot, log), cfg.Location, log)
		scheduler, err = reminder.NewScheduler(ctx, d, cfg.ReminderSchedule, cfg.Location, log)
		if err != nil {
			bot.Stop()
			return err
		}
		scheduler.Start()
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, reminders are disabled")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	log.Info("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	if scheduler != nil {
		scheduler.Stop()
	}
	if bot != nil {
		bot.Stop()
	}
	return err
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("habits"),
		kong.Description("Habit tracker API with Telegram reminders"),
		kong.UsageOnError(),
	)

	if err := config.LoadEnvFile(CLI.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = kctx.Run(&app{ctx: ctx, cfg: cfg, log: log, out: os.Stdout})
	stop()
	_ = log.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
