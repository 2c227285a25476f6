package rewards

import (
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/terminal-bench/vaultengine/internal/oracle"
)

// BalanceSource is the live view of one underlying share token. Balances are
// never cached here: they can change between settlements, so every
// settlement reads them fresh.
type BalanceSource interface {
	BalanceOf(account uuid.UUID) *uint256.Int
	TotalSupply() *uint256.Int
}

// WeightSource supplies the current token-B weight.
type WeightSource interface {
	Weight() *uint256.Int
}

// Accrual is the reward-per-token ledger: a monotonically non-decreasing
// global accumulator plus per-account checkpoints and lazily settled
// rewards. An account's earned-but-unclaimed reward is
//
//	settled + eligible * (accumulator - checkpoint) / scale
//
// and settlement must run before anything changes that account's eligible
// weighted balance or consumes its reward.
type Accrual struct {
	sourceA BalanceSource
	sourceB BalanceSource
	weights WeightSource

	accumulator *uint256.Int
	checkpoints map[uuid.UUID]*uint256.Int
	settled     map[uuid.UUID]*uint256.Int

	mu sync.Mutex
}

// New creates an empty accrual ledger over the two share tokens.
func New(sourceA, sourceB BalanceSource, weights WeightSource) *Accrual {
	return &Accrual{
		sourceA:     sourceA,
		sourceB:     sourceB,
		weights:     weights,
		accumulator: uint256.NewInt(0),
		checkpoints: make(map[uuid.UUID]*uint256.Int),
		settled:     make(map[uuid.UUID]*uint256.Int),
	}
}

// EligibleBalance returns the account's live weighted balance:
// balanceA + balanceB * weight / scale.
func (a *Accrual) EligibleBalance(account uuid.UUID) *uint256.Int {
	return a.weighted(a.sourceA.BalanceOf(account), a.sourceB.BalanceOf(account))
}

// TotalEligibleSupply returns the live weighted sum of both total supplies.
func (a *Accrual) TotalEligibleSupply() *uint256.Int {
	return a.weighted(a.sourceA.TotalSupply(), a.sourceB.TotalSupply())
}

func (a *Accrual) weighted(balA, balB *uint256.Int) *uint256.Int {
	scaled := new(uint256.Int).Mul(balB, a.weights.Weight())
	scaled.Div(scaled, oracle.Scale)
	return scaled.Add(scaled, balA)
}

// Accrue distributes amount across the current total eligible supply by
// advancing the accumulator. When that supply is zero the amount cannot be
// attributed; Accrue reports false and leaves the accumulator untouched.
func (a *Accrual) Accrue(amount *uint256.Int) bool {
	total := a.TotalEligibleSupply()
	if total.IsZero() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delta := new(uint256.Int).Mul(amount, oracle.Scale)
	delta.Div(delta, total)
	a.accumulator.Add(a.accumulator, delta)
	return true
}

// Settle freezes the account's earned reward and advances its checkpoint to
// the current accumulator.
func (a *Accrual) Settle(account uuid.UUID) {
	eligible := a.EligibleBalance(account)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settleLocked(account, eligible)
}

func (a *Accrual) settleLocked(account uuid.UUID, eligible *uint256.Int) {
	checkpoint, ok := a.checkpoints[account]
	if !ok {
		checkpoint = uint256.NewInt(0)
	}

	pending := new(uint256.Int).Sub(a.accumulator, checkpoint)
	pending.Mul(pending, eligible)
	pending.Div(pending, oracle.Scale)

	settled, ok := a.settled[account]
	if !ok {
		settled = uint256.NewInt(0)
		a.settled[account] = settled
	}
	settled.Add(settled, pending)
	a.checkpoints[account] = a.accumulator.Clone()
}

// Earned returns the account's total earned-but-unclaimed reward without
// mutating any state.
func (a *Accrual) Earned(account uuid.UUID) *uint256.Int {
	eligible := a.EligibleBalance(account)

	a.mu.Lock()
	defer a.mu.Unlock()

	checkpoint, ok := a.checkpoints[account]
	if !ok {
		checkpoint = uint256.NewInt(0)
	}

	pending := new(uint256.Int).Sub(a.accumulator, checkpoint)
	pending.Mul(pending, eligible)
	pending.Div(pending, oracle.Scale)

	if settled, ok := a.settled[account]; ok {
		pending.Add(pending, settled)
	}
	return pending
}

// TakeSettled settles the account and withdraws its full settled reward,
// zeroing it. The caller consumes the returned amount (by minting claim
// shares) in the same atomic operation.
func (a *Accrual) TakeSettled(account uuid.UUID) *uint256.Int {
	eligible := a.EligibleBalance(account)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.settleLocked(account, eligible)

	settled := a.settled[account]
	out := settled.Clone()
	settled.Clear()
	return out
}

// Accumulator returns the current global reward-per-token accumulator.
func (a *Accrual) Accumulator() *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accumulator.Clone()
}
