// Package queue expands a campaign batch into durable send-queue entries with
// timezone-aware scheduled times.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/realtygenie/nurture-scheduler/internal/core"
	"github.com/realtygenie/nurture-scheduler/internal/metrics"
	"github.com/realtygenie/nurture-scheduler/internal/tz"
)

// ErrCampaignCanceled is returned when populate targets a canceled campaign.
var ErrCampaignCanceled = errors.New("campaign_canceled")

// Store is the slice of the persistence layer the populator needs.
type Store interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (core.Campaign, error)
	GetActiveLeads(ctx context.Context, batchID uuid.UUID) ([]core.Lead, error)
	InsertQueueEntries(ctx context.Context, entries []core.QueueEntry) (map[int]int, error)
}

type Options struct {
	SendDays        []int // day offsets from the campaign anchor; 0 = immediate
	WindowStart     int   // local hour, inclusive
	WindowEnd       int   // local hour, exclusive
	DefaultTimezone string
}

type Result struct {
	TotalQueued int         `json:"total_queued"`
	ByDay       map[int]int `json:"by_day"`
}

type Populator struct {
	store Store
	opt   Options
	log   *logrus.Logger

	now func() time.Time // injectable for tests
}

func NewPopulator(store Store, opt Options, log *logrus.Logger) *Populator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Populator{store: store, opt: opt, log: log, now: time.Now}
}

// Populate creates one pending queue entry per (active lead, send day) for the
// batch. Day-0 touches are scheduled at the current instant so the next
// dispatch pass picks them up regardless of the send window; later touches
// land at the window's opening hour in the lead's own zone. Rows that already
// exist are skipped by the store, so repeated calls do not duplicate entries.
func (p *Populator) Populate(ctx context.Context, campaignID, batchID uuid.UUID) (Result, error) {
	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		metrics.PopulateTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status == core.CampaignCanceled {
		metrics.PopulateTotal.WithLabelValues("error").Inc()
		return Result{}, ErrCampaignCanceled
	}

	leads, err := p.store.GetActiveLeads(ctx, batchID)
	if err != nil {
		metrics.PopulateTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("load leads: %w", err)
	}

	campaignDefault := campaign.RecipientTimezone
	if campaignDefault == "" {
		campaignDefault = p.opt.DefaultTimezone
	}

	now := p.now().UTC()
	entries := make([]core.QueueEntry, 0, len(leads)*len(p.opt.SendDays))
	for _, lead := range leads {
		zone := tz.Resolve(lead, campaignDefault)
		loc := tz.Location(zone)

		for _, day := range p.opt.SendDays {
			var scheduled time.Time
			if day == 0 {
				// Introductory touch goes out right now, window rules do not apply.
				scheduled = now
			} else {
				scheduled = tz.LocalTarget(campaign.CreatedAt, day, loc, p.opt.WindowStart, 0)
				if !tz.InWindow(scheduled, loc, p.opt.WindowStart, p.opt.WindowEnd) {
					scheduled = tz.NextWindowOpen(scheduled, loc, p.opt.WindowStart, p.opt.WindowEnd)
				}
			}
			entries = append(entries, core.QueueEntry{
				ID:                uuid.New(),
				CampaignID:        campaignID,
				LeadID:            lead.ID,
				RecipientEmail:    lead.Email,
				RecipientName:     lead.Name,
				SendDay:           day,
				RecipientTimezone: zone,
				ScheduledFor:      scheduled,
				Status:            core.StatusPending,
			})
		}
	}

	counts, err := p.store.InsertQueueEntries(ctx, entries)
	if err != nil {
		metrics.PopulateTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("insert queue entries: %w", err)
	}

	res := Result{ByDay: counts}
	for _, n := range counts {
		res.TotalQueued += n
	}
	metrics.PopulateTotal.WithLabelValues("ok").Inc()
	metrics.PopulateEntries.Add(float64(res.TotalQueued))
	p.log.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"batch_id":    batchID,
		"leads":       len(leads),
		"queued":      res.TotalQueued,
	}).Info("campaign queue populated")
	return res, nil
}

// Schedule previews the computed send times for one lead without persisting
// anything. Used by the send-schedule endpoint.
func (p *Populator) Schedule(campaign core.Campaign, lead core.Lead) []TouchSchedule {
	campaignDefault := campaign.RecipientTimezone
	if campaignDefault == "" {
		campaignDefault = p.opt.DefaultTimezone
	}
	zone := tz.Resolve(lead, campaignDefault)
	loc := tz.Location(zone)

	out := make([]TouchSchedule, 0, len(p.opt.SendDays))
	for _, day := range p.opt.SendDays {
		var scheduled time.Time
		if day == 0 {
			scheduled = p.now().UTC()
		} else {
			scheduled = tz.LocalTarget(campaign.CreatedAt, day, loc, p.opt.WindowStart, 0)
			if !tz.InWindow(scheduled, loc, p.opt.WindowStart, p.opt.WindowEnd) {
				scheduled = tz.NextWindowOpen(scheduled, loc, p.opt.WindowStart, p.opt.WindowEnd)
			}
		}
		out = append(out, TouchSchedule{
			SendDay:  day,
			UTC:      scheduled,
			Local:    tz.LocalDisplay(scheduled, loc),
			Timezone: zone,
		})
	}
	return out
}

type TouchSchedule struct {
	SendDay  int       `json:"send_day"`
	UTC      time.Time `json:"utc"`
	Local    string    `json:"local"`
	Timezone string    `json:"timezone"`
}
