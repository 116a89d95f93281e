package exec

// ledger tracks compute credit spend for one run. The balance is the credits
// available at submission; overage, when non-nil, is the extra spend allowed
// past zero. A nil overage means unlimited overage is NOT granted: spend
// stops at the balance.
//
// The ledger is owned by a single run and is not safe for concurrent use.
type ledger struct {
	balance float64
	overage *float64
	spent   float64
}

func newLedger(balance float64, overage *float64) *ledger {
	return &ledger{balance: balance, overage: overage}
}

// limit is the total spend the ledger admits.
func (l *ledger) limit() float64 {
	if l.overage != nil {
		return l.balance + *l.overage
	}
	return l.balance
}

// Remaining is the spend still available.
func (l *ledger) Remaining() float64 {
	return l.limit() - l.spent
}

// Covers reports whether a charge of the given size fits the remaining
// budget. A zero charge always fits.
func (l *ledger) Covers(charge float64) bool {
	if charge <= 0 {
		return true
	}
	return l.spent+charge <= l.limit()
}

// Spend records a charge. Spending past the limit is allowed here; the
// caller gates with Covers before running chargeable work, and work already
// performed is accounted even when it overshoots.
func (l *ledger) Spend(charge float64) {
	if charge > 0 {
		l.spent += charge
	}
}

// Spent is the total recorded so far.
func (l *ledger) Spent() float64 {
	return l.spent
}
