package events_test

import (
	"testing"

	"github.com/marcelsud/finsync/events"
	"github.com/stretchr/testify/assert"
)

func TestBus_ExactMatch(t *testing.T) {
	bus := events.NewBus()

	var got []events.Event
	bus.Subscribe(events.TypeSyncFailed, func(e events.Event) {
		got = append(got, e)
	})

	bus.Emit(events.TypeSyncFailed, map[string]any{"account_id": "acc-1"})
	bus.Emit(events.TypeSyncTriggered, nil)

	assert.Len(t, got, 1)
	assert.Equal(t, "acc-1", got[0].Payload["account_id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_WildcardMatch(t *testing.T) {
	bus := events.NewBus()

	var syncEvents, allEvents int
	bus.Subscribe("sync.*", func(events.Event) { syncEvents++ })
	bus.Subscribe("*", func(events.Event) { allEvents++ })

	bus.Emit(events.TypeSyncTriggered, nil)
	bus.Emit(events.TypeSyncFailed, nil)
	bus.Emit(events.TypeAccountError, nil)

	assert.Equal(t, 2, syncEvents)
	assert.Equal(t, 3, allEvents)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus()

	var count int
	unsubscribe := bus.Subscribe(events.TypeModeChanged, func(events.Event) { count++ })

	bus.Emit(events.TypeModeChanged, nil)
	unsubscribe()
	bus.Emit(events.TypeModeChanged, nil)

	assert.Equal(t, 1, count)
}

func TestBus_ListenerMayResubscribe(t *testing.T) {
	bus := events.NewBus()

	// A one-shot listener unsubscribes itself and registers a follow-up
	// from inside delivery; neither call may deadlock the bus
	var first, second int
	var unsubscribe func()
	unsubscribe = bus.Subscribe(events.TypeModeChanged, func(events.Event) {
		first++
		unsubscribe()
		bus.Subscribe(events.TypeModeChanged, func(events.Event) { second++ })
	})

	bus.Emit(events.TypeModeChanged, nil)
	bus.Emit(events.TypeModeChanged, nil)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestBus_PrefixDoesNotOvermatch(t *testing.T) {
	bus := events.NewBus()

	var count int
	bus.Subscribe("sync.*", func(events.Event) { count++ })

	// "syncthing.done" must not match "sync.*"
	bus.Emit("syncthing.done", nil)

	assert.Equal(t, 0, count)
}
