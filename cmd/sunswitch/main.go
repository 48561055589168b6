package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/controller"
	"github.com/sunswitch/sunswitch/pkg/fusionsolar"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/metrics"
	"github.com/sunswitch/sunswitch/pkg/server"
	"github.com/sunswitch/sunswitch/pkg/storage"
	"github.com/sunswitch/sunswitch/pkg/tuya"
)

func main() {
	// credentials may live in a .env file, it has to be loaded before the
	// flag defaults are read
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// init packages
	reg := metrics.NewRegistry()
	sw := tuya.Configured(reg)
	inv := fusionsolar.Configured(reg)
	s := storage.Configured()
	a := controller.Configured(inv, sw, s, reg)

	// init server
	srv := server.Configured(a, s, reg)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, []cloud.Session{sw.Client(), inv.Client()}, a, srv, func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
		// expire the inverter session so it doesn't count against the
		// account's login quota
		if err := inv.Client().Logout(context.Background()); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to log out of fusionsolar", slog.Any("error", err))
		}
	})
	cancel()
	os.Exit(code)
}

type runner interface {
	Run(ctx context.Context) error
}

// run authenticates the sessions, then runs the automation and the server
// until ctx is done or the server fails. It returns the exit code and calls
// cleanup on every path.
func run(ctx context.Context, sessions []cloud.Session, automation, srv runner, cleanup func()) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer cleanup()

	if err := authenticate(ctx, sessions...); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "vendor credentials rejected", slog.Any("error", err))
		return 1
	}

	automationDone := make(chan struct{})
	go func() {
		defer close(automationDone)
		if err := automation.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).ErrorContext(ctx, "automation failed", slog.Any("error", err))
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		cancel()
		<-automationDone
		return 1
	}
	<-automationDone
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
	return 0
}

// authenticate logs every session in up front. Rejected credentials are
// returned as an error, anything else is logged and left to the first cycle
// to retry.
func authenticate(ctx context.Context, sessions ...cloud.Session) error {
	for _, sess := range sessions {
		err := sess.Authenticate(ctx)
		if err == nil {
			continue
		}
		var ae *cloud.AuthenticationError
		if errors.As(err, &ae) {
			return fmt.Errorf("%s: %w", sess.Vendor(), err)
		}
		log.Ctx(ctx).WarnContext(ctx, "failed to authenticate at startup", slog.String("vendor", sess.Vendor()), slog.Any("error", err))
	}
	return nil
}
