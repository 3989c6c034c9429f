package marketdev

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/market-chat/chatwire"
	"github.com/gosuda/market-chat/order"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New("", Listing{ID: 3, SellerID: 2, Price: 10000, Title: "노트북"})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func doJSON(t *testing.T, method, url, csrf string, userID string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRFToken", csrf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeOrder(t *testing.T, resp *http.Response) order.Order {
	t.Helper()
	defer resp.Body.Close()
	var o order.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&o))
	return o
}

func TestOrderLifecycle(t *testing.T) {
	s, ts := newTestServer(t)

	// Buyer 7 purchases listing 3.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/orders/", s.CSRFToken(), "7", map[string]int64{"listing": 3, "amount": 10000})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeOrder(t, resp)
	assert.Equal(t, order.EscrowHeld, created.EscrowState)
	assert.Empty(t, created.ConfirmationCode)

	// The order shows up in the filtered listing.
	resp, err := http.Get(ts.URL + "/api/orders/?listing=3&buyer=7")
	require.NoError(t, err)
	defer resp.Body.Close()
	var orders []order.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
	require.Len(t, orders, 1)
	assert.Equal(t, created.ID, orders[0].ID)

	// Seller 2 confirms; escrow releases with a 4-digit code.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/orders/1/confirm/", s.CSRFToken(), "2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	confirmed := decodeOrder(t, resp)
	assert.Equal(t, order.EscrowReleased, confirmed.EscrowState)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), confirmed.ConfirmationCode)

	// Confirming twice is rejected with a detail body.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/orders/1/confirm/", s.CSRFToken(), "2", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var rej map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rej))
	assert.Equal(t, "이미 구매확정이 완료되었습니다.", rej["detail"])
}

func TestCreateValidation(t *testing.T) {
	s, ts := newTestServer(t)

	// Unknown listing → field error.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/orders/", s.CSRFToken(), "7", map[string]int64{"listing": 99, "amount": 100})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var fieldRej map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fieldRej))
	assert.NotEmpty(t, fieldRej["listing"])

	// Non-positive amount → field error on amount.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/orders/", s.CSRFToken(), "7", map[string]int64{"listing": 3, "amount": 0})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Seller buying their own listing → detail error.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/orders/", s.CSRFToken(), "2", map[string]int64{"listing": 3, "amount": 100})
	defer resp.Body.Close()
	var rej map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rej))
	assert.Equal(t, "본인 물품은 구매할 수 없습니다.", rej["detail"])
}

func TestConfirmIsSellerOnly(t *testing.T) {
	s, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/orders/", s.CSRFToken(), "7", map[string]int64{"listing": 3, "amount": 100})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/orders/1/confirm/", s.CSRFToken(), "7", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMutationsRequireCSRF(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/orders/", "wrong-token", "7", map[string]int64{"listing": 3, "amount": 100})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func wsURL(httpURL, roomID, user, name string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/chat/" + roomID + "/?user=" + user + "&name=" + name
}

func readFrame(t *testing.T, conn *websocket.Conn) chatwire.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f chatwire.Frame
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &f))
	return f
}

func TestChatFanoutToAllRoomMembers(t *testing.T) {
	_, ts := newTestServer(t)

	buyer, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "r1", "7", "buyer7"), nil)
	require.NoError(t, err)
	defer buyer.Close()
	seller, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "r1", "2", "seller2"), nil)
	require.NoError(t, err)
	defer seller.Close()

	require.NoError(t, buyer.WriteJSON(map[string]string{"message": "  안녕하세요  "}))

	for _, conn := range []*websocket.Conn{buyer, seller} {
		f := readFrame(t, conn)
		assert.Equal(t, chatwire.TypeChatMessage, f.Type)
		assert.Equal(t, "안녕하세요", f.Message, "content is trimmed before fanout")
		assert.Equal(t, "buyer7", f.Sender)
		assert.Equal(t, int64(7), f.SenderID)
		assert.NotEmpty(t, f.Timestamp)
	}
}

func TestChatRoomsAreIsolated(t *testing.T) {
	_, ts := newTestServer(t)

	roomA, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "a", "1", "one"), nil)
	require.NoError(t, err)
	defer roomA.Close()
	roomB, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "b", "2", "two"), nil)
	require.NoError(t, err)
	defer roomB.Close()

	require.NoError(t, roomA.WriteJSON(map[string]string{"message": "only room a"}))
	_ = readFrame(t, roomA)

	require.NoError(t, roomB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = roomB.ReadMessage()
	assert.Error(t, err, "room b must not receive room a's message")
}

func TestMalformedClientFrameIsDropped(t *testing.T) {
	_, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "r1", "7", "buyer7"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{broken`)))
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "after garbage"}))

	f := readFrame(t, conn)
	assert.Equal(t, "after garbage", f.Message, "connection survives malformed frames")
}

func TestConcurrentBroadcastsShareOneConnSafely(t *testing.T) {
	s, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "r1", "1", "one"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Many goroutines fan frames at the same member; the per-member
	// write loop must serialize them onto the conn.
	var wg sync.WaitGroup
	for g := 0; g < 64; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.hub.broadcast("r1", chatwire.Frame{Type: chatwire.TypeChatMessage, Message: "x"})
			}
		}()
	}

	// Drain while the writers run so the member buffer keeps moving.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := 0
	for got < 100 {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var f chatwire.Frame
		require.NoError(t, json.Unmarshal(payload, &f))
		require.Equal(t, "x", f.Message, "frames must arrive intact under write contention")
		got++
	}
	wg.Wait()

	// The connection is still usable afterwards.
	s.hub.broadcast("r1", chatwire.Frame{Type: chatwire.TypeChatMessage, Message: "done"})
	for readFrame(t, conn).Message != "done" {
	}
}

func TestFormSendEchoesAndBroadcasts(t *testing.T) {
	s, ts := newTestServer(t)

	watcher, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "r1", "2", "seller2"), nil)
	require.NoError(t, err)
	defer watcher.Close()

	form := strings.NewReader("content=" + "%EC%95%88%EB%85%95") // "안녕"
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/chat/r1/?user=7&name=buyer7", form)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-CSRFToken", s.CSRFToken())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var echo map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&echo))
	assert.Equal(t, "안녕", echo["content"])
	assert.NotEmpty(t, echo["timestamp"])

	f := readFrame(t, watcher)
	assert.Equal(t, "안녕", f.Message)
	assert.Equal(t, int64(7), f.SenderID)
}
