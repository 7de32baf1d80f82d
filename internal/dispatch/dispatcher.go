// Package dispatch drives due queue entries to a terminal state: it claims
// them, resolves and personalizes content, hands the message to the mail
// transport, and records the outcome.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/realtygenie/nurture-scheduler/internal/content"
	"github.com/realtygenie/nurture-scheduler/internal/core"
	"github.com/realtygenie/nurture-scheduler/internal/mail"
	"github.com/realtygenie/nurture-scheduler/internal/metrics"
)

// Store is the slice of the persistence layer the dispatcher needs.
type Store interface {
	ClaimDue(ctx context.Context, owner uuid.UUID, limit int, now time.Time) ([]core.QueueEntry, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Release(ctx context.Context, id uuid.UUID) error
	ReleaseExpiredClaims(ctx context.Context, ttl time.Duration) (int, error)
}

type Options struct {
	BatchLimit     int           // entries claimed per pass
	Concurrency    int           // sender goroutines per pass
	SendTimeout    time.Duration // per-send timeout
	PollInterval   time.Duration // cadence of the Run loop
	ClaimTTL       time.Duration // processing claims older than this get requeued
	TransportQPS   float64
	TransportBurst int
	ErrBackoffMin  time.Duration // pass-level error backoff in the Run loop
	ErrBackoffMax  time.Duration
}

// Stats summarizes one dispatch pass.
type Stats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Dispatcher struct {
	store     Store
	resolver  content.Resolver
	transport mail.Transport
	profile   content.SenderProfile
	opt       Options
	limiter   *rate.Limiter
	log       *logrus.Logger

	// owner tags this process's claims so a stuck lease can be traced back.
	owner uuid.UUID
	now   func() time.Time
}

func New(store Store, resolver content.Resolver, transport mail.Transport, profile content.SenderProfile, opt Options, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = 1
	}
	if opt.TransportQPS <= 0 {
		opt.TransportQPS = 10
	}
	if opt.TransportBurst <= 0 {
		opt.TransportBurst = 1
	}
	return &Dispatcher{
		store:     store,
		resolver:  resolver,
		transport: transport,
		profile:   profile,
		opt:       opt,
		limiter:   rate.NewLimiter(rate.Limit(opt.TransportQPS), opt.TransportBurst),
		log:       log,
		owner:     uuid.New(),
		now:       time.Now,
	}
}

// RunOnce claims one batch of due entries and processes it with a fixed-size
// worker pool. A failure on one entry never aborts the rest of the batch. In
// dry-run mode content is resolved but nothing is sent and claimed entries are
// released back to pending.
func (d *Dispatcher) RunOnce(ctx context.Context, dryRun bool) (Stats, error) {
	entries, err := d.store.ClaimDue(ctx, d.owner, d.opt.BatchLimit, d.now().UTC())
	if err != nil {
		metrics.ClaimTotal.WithLabelValues("error").Inc()
		return Stats{}, fmt.Errorf("claim due entries: %w", err)
	}
	if len(entries) == 0 {
		metrics.ClaimTotal.WithLabelValues("empty").Inc()
		return Stats{}, nil
	}
	metrics.ClaimTotal.WithLabelValues("ok").Inc()
	metrics.ClaimBatchSize.Observe(float64(len(entries)))

	var (
		mu    sync.Mutex
		stats = Stats{Processed: len(entries)}
		wg    sync.WaitGroup
		jobs  = make(chan core.QueueEntry)
	)

	record := func(update func(*Stats)) {
		mu.Lock()
		update(&stats)
		mu.Unlock()
	}

	wg.Add(d.opt.Concurrency)
	for i := 0; i < d.opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for e := range jobs {
				d.processOne(ctx, e, dryRun, record)
			}
		}()
	}
	for _, e := range entries {
		jobs <- e
	}
	close(jobs)
	wg.Wait()

	d.log.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"sent":      stats.Sent,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
		"dry_run":   dryRun,
	}).Info("dispatch pass complete")
	return stats, nil
}

func (d *Dispatcher) processOne(ctx context.Context, e core.QueueEntry, dryRun bool, record func(func(*Stats))) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	// A panic in one entry must not take down the batch.
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("queue_id", e.ID).Errorf("panic while processing entry: %v", r)
			_ = d.store.MarkFailed(ctx, e.ID, fmt.Sprintf("panic: %v", r))
			record(func(s *Stats) { s.Failed++ })
		}
	}()

	// Guard against clock skew between the claim query and this worker.
	if e.ScheduledFor.After(d.now().UTC()) {
		_ = d.store.Release(ctx, e.ID)
		metrics.SendTotal.WithLabelValues("skipped").Inc()
		record(func(s *Stats) { s.Skipped++ })
		return
	}

	msg, err := d.resolver.ResolveMessage(ctx, e.CampaignID, e.SendDay)
	if err != nil {
		d.fail(ctx, e, fmt.Sprintf("content resolution: %v", err), record)
		return
	}
	msg = content.Personalize(msg, e.RecipientName, d.profile)

	if dryRun {
		d.log.WithFields(logrus.Fields{
			"queue_id": e.ID,
			"to":       e.RecipientEmail,
			"send_day": e.SendDay,
		}).Info("dry run: would send")
		_ = d.store.Release(ctx, e.ID)
		metrics.SendTotal.WithLabelValues("dry_run").Inc()
		record(func(s *Stats) { s.Sent++ })
		return
	}

	if err := d.limiter.Wait(ctx); err != nil {
		// Context canceled mid-pass; put the entry back untouched.
		_ = d.store.Release(ctx, e.ID)
		record(func(s *Stats) { s.Skipped++ })
		return
	}

	cctx, cancel := context.WithTimeout(ctx, d.opt.SendTimeout)
	defer cancel()

	start := time.Now()
	_, err = d.transport.Send(cctx, mail.Email{
		ToEmail: e.RecipientEmail,
		ToName:  e.RecipientName,
		Subject: msg.Subject,
		Body:    msg.Body,
		Tags:    []string{fmt.Sprintf("day_%d", e.SendDay), "campaign"},
	})
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		d.fail(ctx, e, fmt.Sprintf("transport: %v", err), record)
		return
	}

	if err := d.store.MarkSent(ctx, e.ID, d.now().UTC()); err != nil {
		d.log.WithField("queue_id", e.ID).Errorf("mark sent: %v", err)
	}
	metrics.SendTotal.WithLabelValues("sent").Inc()
	record(func(s *Stats) { s.Sent++ })
}

func (d *Dispatcher) fail(ctx context.Context, e core.QueueEntry, reason string, record func(func(*Stats))) {
	d.log.WithFields(logrus.Fields{
		"queue_id": e.ID,
		"to":       e.RecipientEmail,
		"send_day": e.SendDay,
	}).Error(reason)
	if err := d.store.MarkFailed(ctx, e.ID, reason); err != nil {
		d.log.WithField("queue_id", e.ID).Errorf("mark failed: %v", err)
	}
	metrics.SendTotal.WithLabelValues("failed").Inc()
	record(func(s *Stats) { s.Failed++ })
}

// SweepExpiredClaims requeues processing entries whose worker died mid-send.
func (d *Dispatcher) SweepExpiredClaims(ctx context.Context) (int, error) {
	n, err := d.store.ReleaseExpiredClaims(ctx, d.opt.ClaimTTL)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.LeaseReleaseTotal.Add(float64(n))
		d.log.WithField("released", n).Warn("requeued entries with expired claims")
	}
	return n, nil
}

// Run polls on the configured interval until the context is canceled,
// sweeping expired claims before each pass. Pass-level errors back off with
// jitter and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	backoff := d.opt.ErrBackoffMin
	if backoff <= 0 {
		backoff = time.Second
	}
	max := d.opt.ErrBackoffMax
	if max <= 0 {
		max = time.Minute
	}

	ticker := time.NewTicker(d.opt.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.SweepExpiredClaims(ctx); err != nil {
			d.log.Errorf("lease sweep: %v", err)
		}
		if _, err := d.RunOnce(ctx, false); err != nil {
			sleep := jitter(backoff, 0.20)
			d.log.Errorf("dispatch pass: %v; backing off %s", err, sleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			backoff = minDur(max, time.Duration(float64(backoff)*1.6))
			continue
		}
		backoff = d.opt.ErrBackoffMin
		if backoff <= 0 {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(n)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
