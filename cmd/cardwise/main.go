package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/conorfennell/cardwise/internal/auth"
	"github.com/conorfennell/cardwise/internal/config"
	"github.com/conorfennell/cardwise/internal/importer"
	"github.com/conorfennell/cardwise/internal/review"
	"github.com/conorfennell/cardwise/internal/scheduler"
	"github.com/conorfennell/cardwise/internal/storage"
	"github.com/conorfennell/cardwise/internal/web"
)

const usage = `usage: cardwise <command> [flags]

commands:
  serve                     run the HTTP API
  sync [--user U]           import notes from every source (all users if U is empty)
  add-source --user U PATH  register a local directory or git URL for U
  token --user U            print a bearer token for U
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := pflag.NewFlagSet("cardwise "+cmd, pflag.ContinueOnError)
	config.Flags(fs)
	user := fs.String("user", "", "user id")
	if err := fs.Parse(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "sync":
		err = sync(ctx, cfg, *user)
	case "add-source":
		err = addSource(ctx, cfg, *user, fs.Arg(0))
	case "token":
		err = token(cfg, *user)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("command-failed")
	}
}

func setupLogging(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	sched, err := scheduler.New(cfg.SchedulerParams())
	if err != nil {
		return err
	}
	svc := review.NewService(db, sched, cfg.Ladder(), cfg.PointTable())
	im := importer.New(db, cfg.Sync.NotesDir, cfg.Sync.ReposDir, cfg.Sync.GitToken)
	authn := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           web.NewServer(svc, db, im, authn),
		ReadHeaderTimeout: 10 * time.Second,
	}
	idleConnsClosed := make(chan struct{})

	go func() {
		<-ctx.Done()
		log.Info().Msg("got quit signal...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http-shutdown-failed")
		}
		close(idleConnsClosed)
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-idleConnsClosed
	log.Info().Msg("server gracefully shut down")
	return nil
}

func sync(ctx context.Context, cfg *config.Config, user string) error {
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := importer.New(db, cfg.Sync.NotesDir, cfg.Sync.ReposDir, cfg.Sync.GitToken).Run(ctx, user)
	if err != nil {
		return err
	}
	fmt.Printf("%d sources, %d cards parsed, %d inserted, %d moved, %d deleted, %d errors\n",
		report.Sources, report.Parsed, report.Inserted, report.Moved, report.Deleted, report.Errors)
	return nil
}

func addSource(ctx context.Context, cfg *config.Config, user, path string) error {
	if user == "" || path == "" {
		return errors.New("add-source needs --user and a path")
	}
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := importer.New(db, cfg.Sync.NotesDir, cfg.Sync.ReposDir, cfg.Sync.GitToken).AddSource(ctx, user, path)
	if err != nil {
		return err
	}
	fmt.Printf("added source %d\n", id)
	return nil
}

func token(cfg *config.Config, user string) error {
	if user == "" {
		return errors.New("token needs --user")
	}
	tok, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).IssueToken(user, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
