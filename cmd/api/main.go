package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/realtygenie/nurture-scheduler/internal/config"
	"github.com/realtygenie/nurture-scheduler/internal/content"
	"github.com/realtygenie/nurture-scheduler/internal/core"
	database "github.com/realtygenie/nurture-scheduler/internal/db"
	"github.com/realtygenie/nurture-scheduler/internal/dispatch"
	httpapi "github.com/realtygenie/nurture-scheduler/internal/http"
	"github.com/realtygenie/nurture-scheduler/internal/mail"
	"github.com/realtygenie/nurture-scheduler/internal/metrics"
	"github.com/realtygenie/nurture-scheduler/internal/queue"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db pool: %v", err)
	}
	defer pool.Close()

	if err := database.ApplyMigrations(rootCtx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	store := &core.Store{DB: pool}
	transport := buildTransport(cfg, log)
	profile := content.SenderProfile{
		AgentName: cfg.AgentName,
		Company:   cfg.CompanyName,
		City:      cfg.MarketCity,
	}

	populator := queue.NewPopulator(store, queue.Options{
		SendDays:        cfg.SendDays,
		WindowStart:     cfg.SendWindowStart,
		WindowEnd:       cfg.SendWindowEnd,
		DefaultTimezone: cfg.DefaultTimezone,
	}, log)

	dispatcher := dispatch.New(store, &content.StoreResolver{Store: store}, transport, profile,
		dispatch.Options{
			BatchLimit:     cfg.DispatchBatch,
			Concurrency:    cfg.Concurrency,
			SendTimeout:    cfg.SendTimeout,
			PollInterval:   cfg.PollInterval,
			ClaimTTL:       cfg.ClaimTTL,
			TransportQPS:   cfg.TransportQPS,
			TransportBurst: cfg.TransportBurst,
		}, log)

	// Embedded dispatch loop. Run a separate dispatcher binary instead when
	// sends should scale independently of the API.
	go func() {
		if err := dispatcher.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Errorf("dispatcher exited: %v", err)
		}
	}()

	poolStats := metrics.NewPGXPoolStats(pool)
	stop := make(chan struct{})
	go poolStats.Start(15*time.Second, stop)
	defer close(stop)

	srv := &httpapi.Server{
		Store:        store,
		Populator:    populator,
		Dispatcher:   dispatcher,
		Log:          log,
		MaxRetries:   cfg.MaxRetries,
		Retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		PollInterval: cfg.PollInterval,
	}
	server := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Infof("HTTP listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func buildTransport(cfg *config.Config, log *logrus.Logger) mail.Transport {
	var t mail.Transport
	switch cfg.Transport {
	case "mailgun":
		t = mail.NewMailgun(cfg.MailgunAPIKey, cfg.MailgunDomain, cfg.MailgunSender)
	case "smtp":
		t = mail.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword,
			cfg.SenderEmail, cfg.AgentName)
	default:
		log.Warn("using dummy mail transport; set TRANSPORT to mailgun or smtp for real sends")
		t = mail.NewDummy()
	}
	if cfg.CircuitBreaker {
		t = mail.NewBreaker(t, cfg.Transport)
	}
	return t
}
