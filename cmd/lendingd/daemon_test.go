package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/config"
	"fixedlend/core/events"
	"fixedlend/core/state"
	"fixedlend/crypto"
	gatewaycfg "fixedlend/gateway/config"
	"fixedlend/native/governance"
	"fixedlend/native/lending"
	"fixedlend/storage"
)

func newExecutor(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "prices.yaml")
	require.NoError(t, os.WriteFile(snapshot, []byte("name: fixture\nprices:\n  USDC: \"1\"\n"), 0o600))
	return &config.Config{
		Database:        config.DatabaseMemory,
		DataDir:         dir,
		OracleSnapshot:  snapshot,
		TimelockSeconds: 3600,
		Engine:          config.DefaultEngineConfig(),
		Markets:         config.DefaultMarkets(),
		Indexer:         config.IndexerConfig{Driver: "sqlite", DSN: filepath.Join(dir, "events.db")},
	}
}

func TestDaemonServesConfiguredMarkets(t *testing.T) {
	cfg := testConfig(t)
	executor := newExecutor(t)
	d, err := newDaemon(context.Background(), cfg, gatewaycfg.Default(), executor, nil)
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.roles.HasRole(governance.RoleAdmin, executor))

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/markets", nil)
	res := httptest.NewRecorder()
	d.handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Markets []struct {
			Symbol string `json:"symbol"`
		} `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Markets, 1)
	require.Equal(t, "USDC", body.Markets[0].Symbol)

	listed, err := d.indexer.Count(context.Background(), events.TypeLendingMarketListed)
	require.NoError(t, err)
	require.EqualValues(t, 1, listed)

	_, cancel, streamed := d.broker.Subscribe(context.Background(), 0)
	cancel()
	var types []string
	for _, evt := range streamed {
		types = append(types, evt.Type)
	}
	require.Contains(t, types, events.TypeLendingMarketListed)
}

func TestDaemonRejectsBadAdmin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admins = []string{"not-an-address"}
	_, err := newDaemon(context.Background(), cfg, gatewaycfg.Default(), newExecutor(t), nil)
	require.Error(t, err)
}

func TestDaemonPersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseLevelDB
	cfg.Indexer = config.IndexerConfig{}
	executor := newExecutor(t)
	account := newExecutor(t)
	ctx := context.Background()

	d, err := newDaemon(ctx, cfg, gatewaycfg.Default(), executor, nil)
	require.NoError(t, err)
	market, err := d.auditor.Market("USDC")
	require.NoError(t, err)
	_, err = market.Deposit(ctx, account, big.NewInt(1_000_000))
	require.NoError(t, err)
	d.Close()

	d, err = newDaemon(ctx, cfg, gatewaycfg.Default(), executor, nil)
	require.NoError(t, err)
	defer d.Close()
	market, err = d.auditor.Market("USDC")
	require.NoError(t, err)
	shares, err := market.BalanceOf(ctx, account)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000), shares)
}

func TestDaemonRestoresAdminChangesAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseLevelDB
	cfg.Indexer = config.IndexerConfig{}
	executor := newExecutor(t)
	proposer := newExecutor(t)
	ctx := context.Background()

	d, err := newDaemon(ctx, cfg, gatewaycfg.Default(), executor, nil)
	require.NoError(t, err)
	listing := []byte(`{"symbol":"DAI","name":"Dai","decimals":18,"collateralFactor":"0.7"}`)
	outcome, err := d.dispatcher.ExecuteOrPropose(ctx, executor, lending.ActionEnableMarket, "list DAI", listing)
	require.NoError(t, err)
	require.True(t, outcome.Executed)
	prices := []byte(`{"name":"governance","prices":{"USDC":"1","DAI":"1.01"}}`)
	_, err = d.dispatcher.ExecuteOrPropose(ctx, executor, lending.ActionSetOracle, "reprice", prices)
	require.NoError(t, err)
	require.NoError(t, d.auditor.SetPaused(ctx, executor, "lending.borrow", true))
	queued, err := d.dispatcher.ExecuteOrPropose(ctx, proposer, lending.ActionPause, "halt", []byte(`{"module":"lending","paused":true}`))
	require.NoError(t, err)
	require.NotNil(t, queued.Proposal)
	d.Close()

	d, err = newDaemon(ctx, cfg, gatewaycfg.Default(), executor, nil)
	require.NoError(t, err)
	defer d.Close()

	symbols := make([]string, 0, 2)
	for _, market := range d.auditor.Markets() {
		symbols = append(symbols, market.Symbol())
	}
	require.Equal(t, []string{"USDC", "DAI"}, symbols)
	factor, err := d.auditor.CollateralFactor("DAI")
	require.NoError(t, err)
	require.Equal(t, "0.7", lending.FormatFixed(factor, 18))
	require.Equal(t, []string{"lending.borrow"}, d.auditor.Paused())

	proposal, err := d.dispatcher.Proposal(queued.Proposal.ID)
	require.NoError(t, err)
	require.Equal(t, governance.ProposalStatusQueued, proposal.Status)

	feed, err := loadOracle(state.NewOracleStore(d.db), cfg.OracleSnapshot, slog.Default())
	require.NoError(t, err)
	require.Equal(t, "governance", feed.Name())
	require.Equal(t, []string{"DAI", "USDC"}, feed.Symbols())
}

func TestLoadOracleFallsBackToFile(t *testing.T) {
	cfg := testConfig(t)
	store := state.NewOracleStore(storage.NewMemDB())

	feed, err := loadOracle(store, cfg.OracleSnapshot, slog.Default())
	require.NoError(t, err)
	require.Equal(t, "fixture", feed.Name())

	feed, err = loadOracle(store, "", slog.Default())
	require.NoError(t, err)
	require.Empty(t, feed.Symbols())

	_, err = loadOracle(store, filepath.Join(t.TempDir(), "missing.yaml"), slog.Default())
	require.Error(t, err)
}
