package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/hipercam/hdriver/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *EventRepository {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewEventRepository(database)
}

func TestAppendAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	payload, _ := json.Marshal(models.OffsetPayload{RA: 1.0, Dec: 0.5, Run: "run0001.fits"})
	event := &models.Event{
		Type:       models.EventTypeOffsetApplied,
		EntityType: models.EntityTypeTelescope,
		EntityID:   "run0001.fits",
		Payload:    payload,
	}
	require.NoError(t, repo.Append(ctx, event))
	require.NotEmpty(t, event.ID)
	require.False(t, event.Timestamp.IsZero())

	events, err := repo.List(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventTypeOffsetApplied, events[0].Type)

	var got models.OffsetPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &got))
	require.Equal(t, 1.0, got.RA)
	require.Equal(t, "run0001.fits", got.Run)
}

func TestAppendRejectsIncompleteEvent(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.Append(context.Background(), &models.Event{Type: models.EventTypeRunDiscovered})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestListFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	add := func(offset time.Duration, eventType models.EventType, entityID string) {
		require.NoError(t, repo.Append(ctx, &models.Event{
			Timestamp:  base.Add(offset),
			Type:       eventType,
			EntityType: models.EntityTypeRun,
			EntityID:   entityID,
		}))
	}

	add(0, models.EventTypeRunDiscovered, "run0001.fits")
	add(time.Minute, models.EventTypeTriggerSent, "run0001.fits")
	add(2*time.Minute, models.EventTypeRunDiscovered, "run0002.fits")

	discovered := models.EventTypeRunDiscovered
	events, err := repo.List(ctx, EventQuery{Type: &discovered})
	require.NoError(t, err)
	require.Len(t, events, 2)

	since := base.Add(30 * time.Second)
	events, err = repo.List(ctx, EventQuery{Since: &since})
	require.NoError(t, err)
	require.Len(t, events, 2)

	run := "run0001.fits"
	events, err = repo.List(ctx, EventQuery{EntityID: &run})
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = repo.List(ctx, EventQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "run0001.fits", events[0].EntityID)
}

func TestListOrdersOldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	for i, name := range []string{"run0003.fits", "run0001.fits", "run0002.fits"} {
		require.NoError(t, repo.Append(ctx, &models.Event{
			Timestamp:  base.Add(time.Duration(3-i) * time.Minute),
			Type:       models.EventTypeRunDiscovered,
			EntityType: models.EntityTypeRun,
			EntityID:   name,
		}))
	}

	events, err := repo.List(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, events[0].Timestamp.Before(events[1].Timestamp))
	require.True(t, events[1].Timestamp.Before(events[2].Timestamp))
}
