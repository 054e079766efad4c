package routes

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"fixedlend/core/events"
)

func readStreamEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) events.Sequenced {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var evt events.Sequenced
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	h := newAPIHarness(t)
	server := httptest.NewServer(h.handler)
	defer server.Close()

	ctx := context.Background()
	market, err := h.auditor.Market("USDC")
	require.NoError(t, err)
	supplier := newAccount(t)
	_, err = market.Deposit(ctx, supplier, big.NewInt(1_000_000))
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/lending/events/stream?type=" + events.TypeLendingDeposit + "&market=usdc"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	replayed := readStreamEvent(t, ctx, conn)
	require.Equal(t, events.TypeLendingDeposit, replayed.Type)
	require.Equal(t, "USDC", replayed.Attributes["market"])
	require.Equal(t, "1000000", replayed.Attributes["assets"])

	_, err = market.Deposit(ctx, supplier, big.NewInt(2_500_000))
	require.NoError(t, err)
	live := readStreamEvent(t, ctx, conn)
	require.Equal(t, events.TypeLendingDeposit, live.Type)
	require.Equal(t, "2500000", live.Attributes["assets"])
	require.Greater(t, live.Sequence, replayed.Sequence)
}

func TestEventStreamResumesAfterCursor(t *testing.T) {
	h := newAPIHarness(t)
	server := httptest.NewServer(h.handler)
	defer server.Close()

	ctx := context.Background()
	_, cancel, backlog := h.broker.Subscribe(ctx, 0)
	cancel()
	require.NotEmpty(t, backlog)
	last := backlog[len(backlog)-1].Sequence

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/lending/events/stream?cursor=" + strconv.FormatUint(last, 10)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	market, err := h.auditor.Market("USDC")
	require.NoError(t, err)
	_, err = market.Deposit(ctx, newAccount(t), big.NewInt(5))
	require.NoError(t, err)

	evt := readStreamEvent(t, ctx, conn)
	require.Equal(t, last+1, evt.Sequence)
	require.Equal(t, events.TypeLendingDeposit, evt.Type)
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	h := newAPIHarness(t)
	var out map[string]string
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/lending/events/stream?cursor=-1", "", nil, &out))
	require.Contains(t, out["error"], "cursor")
}
