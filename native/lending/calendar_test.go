package lending

import (
	"errors"
	"reflect"
	"testing"
)

func TestCalendarPoolID(t *testing.T) {
	cal := DefaultCalendar()
	week := DefaultMaturityInterval

	cases := []struct {
		ts   uint64
		want uint64
	}{
		{genesis, genesis + week},
		{genesis + 1, genesis + week},
		{genesis + week - 1, genesis + week},
		{genesis + week, genesis + 2*week},
	}
	for _, tc := range cases {
		if got := cal.PoolID(tc.ts); got != tc.want {
			t.Fatalf("PoolID(%d) = %d, want %d", tc.ts, got, tc.want)
		}
	}
	if id := cal.PoolID(1700000000); !cal.OnGrid(id) {
		t.Fatalf("pool %d is off the maturity grid", id)
	}
}

func TestCalendarValidateFuturePool(t *testing.T) {
	cal := DefaultCalendar()
	week := DefaultMaturityInterval
	now := genesis + day

	for _, poolID := range []uint64{genesis + week, genesis + 12*week} {
		if err := cal.ValidateFuturePool(poolID, now); err != nil {
			t.Fatalf("ValidateFuturePool(%d): %v", poolID, err)
		}
	}

	cases := map[string]uint64{
		"off grid":       genesis + week + 1,
		"matured":        genesis,
		"beyond horizon": genesis + 13*week,
		"zero":           0,
	}
	for name, poolID := range cases {
		if err := cal.ValidateFuturePool(poolID, now); !errors.Is(err, ErrInvalidMaturity) {
			t.Errorf("%s: expected ErrInvalidMaturity, got %v", name, err)
		}
	}
}

func TestCalendarValidateSettlementPool(t *testing.T) {
	cal := DefaultCalendar()
	week := DefaultMaturityInterval
	now := genesis + 10*week

	for _, poolID := range []uint64{genesis, genesis + week} {
		if err := cal.ValidateSettlementPool(poolID, now); err != nil {
			t.Fatalf("ValidateSettlementPool(%d): %v", poolID, err)
		}
	}
	for _, poolID := range []uint64{genesis + 1, now + 13*week} {
		if err := cal.ValidateSettlementPool(poolID, now); !errors.Is(err, ErrInvalidMaturity) {
			t.Fatalf("ValidateSettlementPool(%d): expected ErrInvalidMaturity, got %v", poolID, err)
		}
	}
}

func TestCalendarFuturePools(t *testing.T) {
	cal := Calendar{Interval: day, MaxFuturePools: 3}
	want := []uint64{genesis + day, genesis + 2*day, genesis + 3*day}
	if got := cal.FuturePools(genesis, 5); !reflect.DeepEqual(got, want) {
		t.Fatalf("FuturePools = %v, want %v", got, want)
	}
	if got := cal.FuturePools(genesis, 0); got != nil {
		t.Fatalf("FuturePools(n=0) = %v, want nil", got)
	}
	for _, poolID := range cal.FuturePools(genesis+5, 3) {
		if err := cal.ValidateFuturePool(poolID, genesis+5); err != nil {
			t.Fatalf("listed pool %d rejected: %v", poolID, err)
		}
	}
}
