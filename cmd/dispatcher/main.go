package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/realtygenie/nurture-scheduler/internal/config"
	"github.com/realtygenie/nurture-scheduler/internal/content"
	"github.com/realtygenie/nurture-scheduler/internal/core"
	database "github.com/realtygenie/nurture-scheduler/internal/db"
	"github.com/realtygenie/nurture-scheduler/internal/dispatch"
	"github.com/realtygenie/nurture-scheduler/internal/mail"
)

// Standalone dispatch worker. Runs the same poll loop the API embeds, for
// deployments that scale sending separately from the HTTP surface.
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	var exitCode int
	defer func() { os.Exit(exitCode) }()

	cfg, err := config.Load()
	if err != nil {
		log.Errorf("config: %v", err)
		exitCode = 1
		return
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Errorf("db pool: %v", err)
		exitCode = 1
		return
	}
	defer pool.Close()

	if err := pool.Ping(rootCtx); err != nil {
		log.Errorf("db ping: %v", err)
		exitCode = 1
		return
	}
	if err := database.ApplyMigrations(rootCtx, pool); err != nil {
		log.Errorf("migrate: %v", err)
		exitCode = 1
		return
	}

	store := &core.Store{DB: pool}

	var transport mail.Transport
	switch cfg.Transport {
	case "mailgun":
		transport = mail.NewMailgun(cfg.MailgunAPIKey, cfg.MailgunDomain, cfg.MailgunSender)
	case "smtp":
		transport = mail.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword,
			cfg.SenderEmail, cfg.AgentName)
	default:
		transport = mail.NewDummy()
	}
	if cfg.CircuitBreaker {
		transport = mail.NewBreaker(transport, cfg.Transport)
	}

	dispatcher := dispatch.New(store, &content.StoreResolver{Store: store}, transport,
		content.SenderProfile{
			AgentName: cfg.AgentName,
			Company:   cfg.CompanyName,
			City:      cfg.MarketCity,
		},
		dispatch.Options{
			BatchLimit:     cfg.DispatchBatch,
			Concurrency:    cfg.Concurrency,
			SendTimeout:    cfg.SendTimeout,
			PollInterval:   cfg.PollInterval,
			ClaimTTL:       cfg.ClaimTTL,
			TransportQPS:   cfg.TransportQPS,
			TransportBurst: cfg.TransportBurst,
		}, log)

	go serveHealthz()

	if err := dispatcher.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("dispatcher exited: %v", err)
		exitCode = 1
		return
	}
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := os.Getenv("HEALTH_ADDR")
	if addr == "" {
		addr = "0.0.0.0:9090"
	}
	_ = http.ListenAndServe(addr, mux)
}
