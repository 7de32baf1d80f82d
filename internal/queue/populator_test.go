package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/realtygenie/nurture-scheduler/internal/core"
	"github.com/realtygenie/nurture-scheduler/internal/queue"
	"github.com/realtygenie/nurture-scheduler/internal/tz"
)

type fakeStore struct {
	campaign core.Campaign
	leads    []core.Lead

	inserted []core.QueueEntry
	seen     map[string]bool // duplicate suppression like the DB unique index
}

func (f *fakeStore) GetCampaign(ctx context.Context, id uuid.UUID) (core.Campaign, error) {
	return f.campaign, nil
}

func (f *fakeStore) GetActiveLeads(ctx context.Context, batchID uuid.UUID) ([]core.Lead, error) {
	return f.leads, nil
}

func (f *fakeStore) InsertQueueEntries(ctx context.Context, entries []core.QueueEntry) (map[int]int, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	counts := make(map[int]int)
	for _, e := range entries {
		key := fmt.Sprintf("%s/%s/%d", e.CampaignID, e.LeadID, e.SendDay)
		if f.seen[key] {
			continue
		}
		f.seen[key] = true
		f.inserted = append(f.inserted, e)
		counts[e.SendDay]++
	}
	return counts, nil
}

func defaultOptions() queue.Options {
	return queue.Options{
		SendDays:        []int{0, 10, 20, 30},
		WindowStart:     8,
		WindowEnd:       20,
		DefaultTimezone: "America/Toronto",
	}
}

func newFixture(t *testing.T) (*fakeStore, *queue.Populator) {
	t.Helper()
	store := &fakeStore{
		campaign: core.Campaign{
			ID:                uuid.New(),
			Status:            core.CampaignActive,
			RecipientTimezone: "America/Toronto",
			CreatedAt:         time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC),
		},
		leads: []core.Lead{
			{ID: uuid.New(), Email: "a@example.com", Name: "Ada", Timezone: "America/Vancouver"},
			{ID: uuid.New(), Email: "b@example.com", Name: "Ben", City: "Halifax"},
			{ID: uuid.New(), Email: "c@example.com", Name: "Cal"},
		},
	}
	return store, queue.NewPopulator(store, defaultOptions(), nil)
}

func TestPopulateExpandsLeadsByTouches(t *testing.T) {
	store, p := newFixture(t)

	res, err := p.Populate(context.Background(), store.campaign.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, 12, res.TotalQueued)
	for _, day := range []int{0, 10, 20, 30} {
		require.Equal(t, 3, res.ByDay[day])
	}
	require.Len(t, store.inserted, 12)
}

func TestPopulateDayZeroIsImmediatelyDue(t *testing.T) {
	store, p := newFixture(t)
	before := time.Now().UTC()

	_, err := p.Populate(context.Background(), store.campaign.ID, uuid.New())
	require.NoError(t, err)

	after := time.Now().UTC()
	for _, e := range store.inserted {
		if e.SendDay != 0 {
			continue
		}
		require.False(t, e.ScheduledFor.Before(before))
		require.False(t, e.ScheduledFor.After(after), "day-0 entries must be due at populate time")
	}
}

func TestPopulateNonZeroTouchesLandInWindow(t *testing.T) {
	store, p := newFixture(t)

	_, err := p.Populate(context.Background(), store.campaign.ID, uuid.New())
	require.NoError(t, err)

	for _, e := range store.inserted {
		if e.SendDay == 0 {
			continue
		}
		loc := tz.Location(e.RecipientTimezone)
		h := e.ScheduledFor.In(loc).Hour()
		require.GreaterOrEqual(t, h, 8, "entry for day %d", e.SendDay)
		require.Less(t, h, 20, "entry for day %d", e.SendDay)
	}
}

func TestPopulateResolvesTimezonePerLead(t *testing.T) {
	store, p := newFixture(t)

	_, err := p.Populate(context.Background(), store.campaign.ID, uuid.New())
	require.NoError(t, err)

	zones := make(map[uuid.UUID]string)
	for _, e := range store.inserted {
		zones[e.LeadID] = e.RecipientTimezone
	}
	require.Equal(t, "America/Vancouver", zones[store.leads[0].ID]) // explicit
	require.Equal(t, "America/Halifax", zones[store.leads[1].ID])  // via city
	require.Equal(t, "America/Toronto", zones[store.leads[2].ID])  // campaign default
}

func TestPopulateIsIdempotent(t *testing.T) {
	store, p := newFixture(t)
	batchID := uuid.New()

	first, err := p.Populate(context.Background(), store.campaign.ID, batchID)
	require.NoError(t, err)
	require.Equal(t, 12, first.TotalQueued)

	// The store suppresses duplicate (campaign, lead, day) tuples, so a second
	// populate inserts nothing. Entry IDs differ per call; the natural key wins.
	second, err := p.Populate(context.Background(), store.campaign.ID, batchID)
	require.NoError(t, err)
	require.Equal(t, 0, second.TotalQueued)
	require.Len(t, store.inserted, 12)
}

func TestPopulateRejectsCanceledCampaign(t *testing.T) {
	store, p := newFixture(t)
	store.campaign.Status = core.CampaignCanceled

	_, err := p.Populate(context.Background(), store.campaign.ID, uuid.New())
	require.ErrorIs(t, err, queue.ErrCampaignCanceled)
}

func TestScheduleMatchesPopulateTimes(t *testing.T) {
	store, p := newFixture(t)

	sched := p.Schedule(store.campaign, store.leads[0])
	require.Len(t, sched, 4)
	require.Equal(t, "America/Vancouver", sched[0].Timezone)

	loc := tz.Location("America/Vancouver")
	for _, s := range sched[1:] {
		require.Equal(t, 8, s.UTC.In(loc).Hour())
	}
}
