package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrZeroAddress           = errors.New("zero address")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// TransferPlan is the decomposition of a gross transfer into its ledger
// legs. A plan with zero Burn and Redirect is a plain pass-through.
type TransferPlan struct {
	Net        *uint256.Int
	Burn       *uint256.Int
	Redirect   *uint256.Int
	RedirectTo uuid.UUID
}

// Hook intercepts transfers between non-null endpoints. The owning vault
// implements it to classify the transfer and compute the tax decomposition.
// Mint and burn legs never pass through the hook.
type Hook interface {
	PlanTransfer(from, to uuid.UUID, amount *uint256.Int) (TransferPlan, error)
}

// Ledger is an in-memory fungible token ledger: balances, allowances, supply
// counters, and an optional transfer-interception hook. All mutation happens
// under one mutex so every operation is atomic and totally ordered.
type Ledger struct {
	name string
	hook Hook

	balances    map[uuid.UUID]*uint256.Int
	allowances  map[uuid.UUID]map[uuid.UUID]*uint256.Int
	totalSupply *uint256.Int
	totalMinted *uint256.Int
	totalBurned *uint256.Int

	mu sync.RWMutex
}

// NewLedger creates an empty ledger for the named token.
func NewLedger(name string) *Ledger {
	return &Ledger{
		name:        name,
		balances:    make(map[uuid.UUID]*uint256.Int),
		allowances:  make(map[uuid.UUID]map[uuid.UUID]*uint256.Int),
		totalSupply: uint256.NewInt(0),
		totalMinted: uint256.NewInt(0),
		totalBurned: uint256.NewInt(0),
	}
}

// SetHook installs the transfer-interception hook. Called once at wiring
// time, before the ledger is shared.
func (l *Ledger) SetHook(h Hook) {
	l.hook = h
}

// Name returns the token name.
func (l *Ledger) Name() string {
	return l.name
}

// BalanceOf returns a copy of the account balance.
func (l *Ledger) BalanceOf(account uuid.UUID) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(account).Clone()
}

// TotalSupply returns the outstanding supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply.Clone()
}

// TotalMinted returns the lifetime minted amount, including amounts later
// burned.
func (l *Ledger) TotalMinted() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalMinted.Clone()
}

// TotalBurned returns the lifetime burned amount.
func (l *Ledger) TotalBurned() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalBurned.Clone()
}

// Mint creates amount tokens for the recipient.
func (l *Ledger) Mint(to uuid.UUID, amount *uint256.Int) error {
	if to == uuid.Nil {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.creditLocked(to, amount)
	l.totalSupply.Add(l.totalSupply, amount)
	l.totalMinted.Add(l.totalMinted, amount)
	return nil
}

// Burn destroys amount tokens held by the account.
func (l *Ledger) Burn(from uuid.UUID, amount *uint256.Int) error {
	if from == uuid.Nil {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debitLocked(from, amount); err != nil {
		return err
	}
	l.totalSupply.Sub(l.totalSupply, amount)
	l.totalBurned.Add(l.totalBurned, amount)
	return nil
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(owner, spender uuid.UUID, amount *uint256.Int) error {
	if owner == uuid.Nil || spender == uuid.Nil {
		return ErrZeroAddress
	}
	if amount == nil {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[uuid.UUID]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.Clone()
	return nil
}

// Allowance returns the spender's remaining allowance over the owner.
func (l *Ledger) Allowance(owner, spender uuid.UUID) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.allowances[owner] == nil {
		return uint256.NewInt(0)
	}
	a, ok := l.allowances[owner][spender]
	if !ok {
		return uint256.NewInt(0)
	}
	return a.Clone()
}

// Transfer moves amount from sender to recipient, routed through the hook
// when one is installed. The returned plan reports the applied
// decomposition; for hookless or pass-through transfers Net equals amount.
func (l *Ledger) Transfer(from, to uuid.UUID, amount *uint256.Int) (TransferPlan, error) {
	if from == uuid.Nil || to == uuid.Nil {
		return TransferPlan{}, ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return TransferPlan{}, ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

// TransferFrom moves amount from the owner to the recipient on the
// spender's authority, consuming allowance before anything else.
func (l *Ledger) TransferFrom(spender, owner, to uuid.UUID, amount *uint256.Int) (TransferPlan, error) {
	if spender == uuid.Nil || owner == uuid.Nil || to == uuid.Nil {
		return TransferPlan{}, ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return TransferPlan{}, ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := uint256.NewInt(0)
	if l.allowances[owner] != nil && l.allowances[owner][spender] != nil {
		allowance = l.allowances[owner][spender]
	}
	if allowance.Lt(amount) {
		return TransferPlan{}, fmt.Errorf("%w: %s of %s approved for %s", ErrInsufficientAllowance, allowance, amount, l.name)
	}

	plan, err := l.transferLocked(owner, to, amount)
	if err != nil {
		return TransferPlan{}, err
	}
	allowance.Sub(allowance, amount)
	return plan, nil
}

func (l *Ledger) transferLocked(from, to uuid.UUID, amount *uint256.Int) (TransferPlan, error) {
	plan := TransferPlan{
		Net:      amount.Clone(),
		Burn:     uint256.NewInt(0),
		Redirect: uint256.NewInt(0),
	}

	if l.hook != nil {
		p, err := l.hook.PlanTransfer(from, to, amount)
		if err != nil {
			return TransferPlan{}, err
		}
		plan = p

		// A malformed hook must never mint or destroy value silently.
		sum := new(uint256.Int).Add(plan.Net, plan.Burn)
		sum.Add(sum, plan.Redirect)
		if !sum.Eq(amount) {
			return TransferPlan{}, fmt.Errorf("transfer plan does not conserve amount: %s != %s", sum, amount)
		}
	}

	if err := l.debitLocked(from, amount); err != nil {
		return TransferPlan{}, err
	}

	if !plan.Burn.IsZero() {
		l.totalSupply.Sub(l.totalSupply, plan.Burn)
		l.totalBurned.Add(l.totalBurned, plan.Burn)
	}
	if !plan.Redirect.IsZero() {
		l.creditLocked(plan.RedirectTo, plan.Redirect)
	}
	if !plan.Net.IsZero() {
		l.creditLocked(to, plan.Net)
	}

	return plan, nil
}

func (l *Ledger) balanceLocked(account uuid.UUID) *uint256.Int {
	b, ok := l.balances[account]
	if !ok {
		return uint256.NewInt(0)
	}
	return b
}

func (l *Ledger) creditLocked(account uuid.UUID, amount *uint256.Int) {
	b, ok := l.balances[account]
	if !ok {
		l.balances[account] = amount.Clone()
		return
	}
	b.Add(b, amount)
}

func (l *Ledger) debitLocked(account uuid.UUID, amount *uint256.Int) error {
	b := l.balanceLocked(account)
	if b.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, account, b, l.name, amount)
	}
	b.Sub(b, amount)
	return nil
}
