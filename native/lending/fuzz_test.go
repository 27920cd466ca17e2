package lending

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func absInt64(v int64) int64 {
	if v < 0 {
		if v == -v {
			return 0
		}
		return -v
	}
	return v
}

func FuzzApplyPaymentConservesValue(f *testing.F) {
	f.Add(int64(100_000), int64(1000), int64(365), int64(15_000))
	f.Add(int64(1), int64(1), int64(0), int64(1))
	f.Add(int64(5_000_000), int64(5000), int64(45), int64(99_999))

	cfg := DefaultConfig()
	f.Fuzz(func(t *testing.T, principalCents, rateBps, days, paymentCents int64) {
		principal := decimal.New(absInt64(principalCents)%1_000_000_000+1, -2)
		rate := absInt64(rateBps)%5000 + 1
		account, err := NewAccount(cfg, "fuzz", principal, rate, 12, fundedAt)
		if err != nil {
			t.Fatalf("new account: %v", err)
		}
		now := fundedAt.Add(time.Duration(absInt64(days)%720) * 24 * time.Hour)
		owed := ProjectOwed(account, now)
		amount := decimal.New(absInt64(paymentCents)%1_000_000_000_000+1, -2)

		result, err := ApplyPayment(cfg, account, amount, now)
		if err != nil {
			if amount.LessThanOrEqual(owed.TotalOwed) {
				t.Fatalf("payment %s within owed %s rejected: %v", amount, owed.TotalOwed, err)
			}
			if !IsState(err) {
				t.Fatalf("overpayment should be a state error, got %v", err)
			}
			return
		}
		if !result.InterestPortion.Add(result.PrincipalPortion).Equal(amount) {
			t.Fatalf("split %s + %s does not sum to %s", result.InterestPortion, result.PrincipalPortion, amount)
		}
		if result.InterestPortion.IsNegative() || result.PrincipalPortion.IsNegative() {
			t.Fatalf("negative portion: %+v", result)
		}
		after := ProjectOwed(result.Account, now)
		if !after.TotalOwed.Add(amount).Equal(owed.TotalOwed) {
			t.Fatalf("owed %s after paying %s, was %s", after.TotalOwed, amount, owed.TotalOwed)
		}
	})
}
