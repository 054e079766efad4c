package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"fixedlend/core/events"
	"fixedlend/crypto"
	"fixedlend/gateway/middleware"
	"fixedlend/integrations/indexer"
	"fixedlend/native/governance"
	"fixedlend/native/lending"
	"fixedlend/native/oracle"
)

const (
	testSecret = "routes-secret"
	// testGenesis sits on the weekly maturity grid.
	testGenesis = uint64(1699488000)
)

type apiHarness struct {
	t          *testing.T
	handler    http.Handler
	auditor    *lending.Auditor
	dispatcher *governance.Dispatcher
	feed       *oracle.StaticFeed
	indexer    *indexer.Indexer
	snapshots  *snapshotRecorder
	broker     *events.Broker
	admin      crypto.Address
	clock      time.Time
}

func newAccount(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	h := &apiHarness{t: t, admin: newAccount(t), clock: time.Unix(int64(testGenesis), 0).UTC()}

	roles := governance.NewRoleSet()
	roles.Grant(governance.RoleAdmin, h.admin)

	ix, err := indexer.Open(indexer.DriverSQLite, filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	auditor, err := lending.NewAuditor(lending.NewMemoryState(), roles, lending.DefaultConfig())
	require.NoError(t, err)
	auditor.SetBlockTime(testGenesis)
	h.broker = events.NewBroker(0)
	auditor.SetEmitter(events.MultiEmitter{ix, h.broker})

	feed := oracle.NewStaticFeed("test")
	require.NoError(t, feed.Set("USDC", new(big.Int).Set(lending.WAD)))
	ctx := context.Background()
	require.NoError(t, auditor.SetOracle(ctx, h.admin, feed))

	market, err := lending.NewMarket(auditor, lending.Asset{Symbol: "USDC", Name: "USD Coin", Decimals: 6}, lending.DefaultCurveModel())
	require.NoError(t, err)
	require.NoError(t, auditor.EnableMarket(ctx, h.admin, market, nil, "USDC", "USD Coin"))

	dispatcher := governance.NewDispatcher(roles, h.admin, time.Hour)
	dispatcher.SetNowFunc(func() time.Time { return h.clock })
	dispatcher.SetEmitter(ix)
	h.snapshots = &snapshotRecorder{}

	handler, err := New(Config{
		Auditor:        auditor,
		Dispatcher:     dispatcher,
		Authenticator:  middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil),
		RateLimiter:    middleware.NewRateLimiter(map[string]middleware.RateLimit{RateLimitRead: {RequestsPerMinute: 6000, Burst: 100}}, nil),
		Observability:  middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil),
		Indexer:        ix,
		Oracles:        h.snapshots,
		Broker:         h.broker,
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)

	h.handler = handler
	h.auditor = auditor
	h.dispatcher = dispatcher
	h.feed = feed
	h.indexer = ix
	return h
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []oracle.Snapshot
}

func (r *snapshotRecorder) PutSnapshot(snap oracle.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *snapshotRecorder) stored() []oracle.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]oracle.Snapshot(nil), r.snaps...)
}

func (h *apiHarness) token(caller crypto.Address, scopes string) string {
	h.t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   caller.String(),
		"scope": scopes,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(h.t, err)
	return token
}

// do issues a request and decodes a JSON object response into out when
// non-nil.
func (h *apiHarness) do(method, path, token string, body interface{}, out interface{}) int {
	h.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.handler.ServeHTTP(res, req)
	if out != nil {
		require.NoError(h.t, json.Unmarshal(res.Body.Bytes(), out), res.Body.String())
	}
	return res.Code
}

func (h *apiHarness) firstPool() uint64 {
	return h.auditor.Calendar().FuturePools(h.auditor.Now(), 1)[0]
}
