package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/market-chat/chatwire"
	"github.com/gosuda/market-chat/ordersync"
)

func TestPushEventNeverBlocks(t *testing.T) {
	events := make(chan tea.Msg, 2)

	PushEvent(events, AlertMsg("a"))
	PushEvent(events, AlertMsg("b"))
	// The channel is full; the oldest event gives way to the newest.
	PushEvent(events, AlertMsg("c"))

	require.Len(t, events, 2)
	assert.Equal(t, AlertMsg("b"), <-events)
	assert.Equal(t, AlertMsg("c"), <-events)
}

func TestUpdateAppendsChatMessage(t *testing.T) {
	m := New(Config{SelfID: 7, Events: make(chan tea.Msg, 1)})

	next, cmd := m.Update(ChatMsg{Content: "안녕하세요", Sender: "seller2", SenderID: 2, Timestamp: "2025-03-01 14:20"})
	m = next.(Model)

	require.Len(t, m.transcript, 1)
	assert.Contains(t, m.transcript[0], "안녕하세요")
	assert.NotNil(t, cmd, "the event wait must re-arm after every event")
}

func TestUpdateSnapshotDrivesControls(t *testing.T) {
	m := New(Config{SelfID: 7, Events: make(chan tea.Msg, 1)})
	m.ready = true

	snap := ordersync.Snapshot{
		Purchase: ordersync.Control{Present: true, Enabled: true, Label: "구매하기"},
		CodeText: "아직 구매 내역이 없습니다.",
	}
	next, _ := m.Update(SnapshotMsg(snap))
	m = next.(Model)

	out := m.View()
	assert.Contains(t, out, "구매하기")
	assert.Contains(t, out, "아직 구매 내역이 없습니다.")
}

func TestStaleAlertClearIsIgnored(t *testing.T) {
	m := New(Config{Events: make(chan tea.Msg, 1)})

	next, _ := m.Update(AlertMsg("first"))
	m = next.(Model)
	staleSeq := m.alertSeq
	next, _ = m.Update(AlertMsg("second"))
	m = next.(Model)

	// The first alert's timer fires after the second alert replaced it.
	next, _ = m.Update(clearAlertMsg{seq: staleSeq})
	m = next.(Model)
	assert.Equal(t, "second", m.alert)

	next, _ = m.Update(clearAlertMsg{seq: m.alertSeq})
	m = next.(Model)
	assert.Empty(t, m.alert)
}

func TestSocketClosedBanner(t *testing.T) {
	m := New(Config{Events: make(chan tea.Msg, 1)})
	m.ready = true

	next, _ := m.Update(SocketClosedMsg{})
	m = next.(Model)
	assert.Contains(t, m.View(), "연결이 끊어졌습니다.")
}

var _ Sender = (*chatwire.Channel)(nil)
