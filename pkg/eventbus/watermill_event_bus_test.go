package eventbus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/checkinhub/pkg/channels/gochannel"
	"github.com/dukex/checkinhub/pkg/eventbus"
	"github.com/dukex/checkinhub/pkg/events"
	"github.com/dukex/checkinhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_DeliversRunFailed(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	received := make(chan *events.RunFailed, 1)

	require.NoError(t, bus.Handle(events.RunFailedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RunFailed)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	site := &models.Site{ID: "site-1", Name: "Example"}
	run := &models.Run{ID: "run-1", SiteID: site.ID, Status: models.RunStatusFailed, Summary: "boom"}

	err := bus.Publish(ctx, site.ID, events.RunFailed{
		BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, site.ID),
		RunDetails: events.NewRunDetails(site, run),
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "Example", event.SiteName)
		assert.Equal(t, "boom", event.Summary)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	received := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.RunFailedEvent, func(context.Context, any) error {
		received <- struct{}{}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "site-1", events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, "site-1"),
	})
	require.NoError(t, err)

	select {
	case <-received:
		t.Fatal("run.failed handler must not see run.finished events")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
