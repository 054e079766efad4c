package indexer

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fixedlend/core/events"
	"fixedlend/crypto"
)

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func openTest(t *testing.T) *Indexer {
	t.Helper()
	ix, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func newAccount(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

func TestEmitStoresRecordableEvents(t *testing.T) {
	ix := openTest(t)
	ctx := context.Background()
	account := newAccount(t)

	ix.Emit(events.LendingDeposit{Market: "usdc", Account: account, Assets: big.NewInt(100), Shares: big.NewInt(100)})
	ix.Emit(events.LendingMarketEntered{Market: "USDC", Account: account})
	ix.Emit(events.GovernanceExecuted{Action: "lending.pause", Caller: account})
	ix.Emit(plainEvent{})

	total, err := ix.Count(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	rows, err := ix.Query(ctx, Filter{Market: "usdc"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, events.TypeLendingDeposit, rows[0].Type)
	require.Equal(t, account.String(), rows[0].Account)

	attrs, err := rows[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "100", attrs["assets"])
}

func TestQueryFilters(t *testing.T) {
	ix := openTest(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ix.SetNowFunc(func() time.Time { return now })

	first, second := newAccount(t), newAccount(t)
	_, err := ix.Store(ctx, events.LendingMarketEntered{Market: "USDC", Account: first}.Record())
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = ix.Store(ctx, events.LendingMarketEntered{Market: "WETH", Account: second}.Record())
	require.NoError(t, err)
	_, err = ix.Store(ctx, events.LendingMarketExited{Market: "USDC", Account: first}.Record())
	require.NoError(t, err)

	byAccount, err := ix.Query(ctx, Filter{Account: first.String()})
	require.NoError(t, err)
	require.Len(t, byAccount, 2)

	byType, err := ix.Query(ctx, Filter{Type: events.TypeLendingMarketEntered})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	limited, err := ix.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "USDC", limited[0].Market)
}

func TestStoreRejectsEmptyRecords(t *testing.T) {
	ix := openTest(t)
	_, err := ix.Store(context.Background(), nil)
	require.Error(t, err)
	_, err = ix.Store(context.Background(), &events.Record{})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.Error(t, err)
	_, err = Open(DriverPostgres, "", nil)
	require.Error(t, err)
}
