package lending

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestBasisPointConversions(t *testing.T) {
	if got := ToBasisPoints(RoundRate(dec("11.136"))); got != 1114 {
		t.Fatalf("expected 1114 bps, got %d", got)
	}
	if got := FromBasisPoints(1114); !got.Equal(dec("11.14")) {
		t.Fatalf("expected 11.14, got %s", got)
	}
	if got := RatioBasisPoints(dec("2.0")); got != 20000 {
		t.Fatalf("expected 20000 bps, got %d", got)
	}
	if got := RatioBasisPoints(dec("1.23456")); got != 12346 {
		t.Fatalf("expected 12346 bps, got %d", got)
	}
}

func TestWeiEncoding(t *testing.T) {
	wei, err := ToWei(dec("1.5"))
	if err != nil {
		t.Fatalf("to wei: %v", err)
	}
	want := uint256.NewInt(1_500_000_000_000_000_000)
	if !wei.Eq(want) {
		t.Fatalf("unexpected wei: %s", wei.Dec())
	}
	if back := FromWei(wei); !back.Equal(dec("1.5")) {
		t.Fatalf("round trip mismatch: %s", back)
	}
	if _, err := ToWei(dec("-1")); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if _, err := ToWei(dec("1e60")); err == nil {
		t.Fatalf("expected overflow error")
	}
	if got := FromWei(nil); !got.IsZero() {
		t.Fatalf("expected zero for nil wei")
	}
}

func TestUtilisation(t *testing.T) {
	cases := []struct {
		borrowed, supplied, want string
	}{
		{"0", "0", "0"},
		{"10", "0", "0"},
		{"65", "100", "0.65"},
		{"150", "100", "1"},
	}
	for _, tc := range cases {
		if got := Utilisation(dec(tc.borrowed), dec(tc.supplied)); !got.Equal(dec(tc.want)) {
			t.Fatalf("utilisation(%s, %s) = %s want %s", tc.borrowed, tc.supplied, got, tc.want)
		}
	}
	state := MarketStateFromPool(dec("1"), dec("3"), dec("-2"))
	if !state.UtilizationRate.Equal(dec("0.3333")) || !state.VolatilityFactor.IsZero() {
		t.Fatalf("unexpected market state: %+v", state)
	}
}
