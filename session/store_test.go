package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/market-chat/order"
	"github.com/gosuda/market-chat/ordersync"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	view := ordersync.View{
		HasOrder:         true,
		OrderID:          9,
		EscrowState:      order.EscrowReleased,
		Confirmed:        true,
		ConfirmationCode: "AB12",
		CodeNotified:     true,
	}
	require.NoError(t, store.SaveView("room-1", view))

	got, ok, err := store.LoadView("room-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, view, got)
}

func TestLoadMissingIsFreshSession(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.LoadView("never-written")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoomsAreIsolated(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveView("a", ordersync.View{HasOrder: true, OrderID: 1}))
	require.NoError(t, store.SaveView("b", ordersync.View{HasOrder: true, OrderID: 2}))

	got, ok, err := store.LoadView("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.OrderID)
}

func TestForRoomPersister(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	p := store.ForRoom("room-9")
	require.NoError(t, p.Save(ordersync.View{HasOrder: true, OrderID: 3}))

	got, ok, err := store.LoadView("room-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.OrderID)
}

func TestNilStoreIsNoOp(t *testing.T) {
	var store *Store
	assert.NoError(t, store.SaveView("x", ordersync.View{}))
	_, ok, err := store.LoadView("x")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, store.Close())
}

func TestOpenEmptyDirDisablesStore(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, store)
}
