package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/vaultengine/internal/token"
	"github.com/terminal-bench/vaultengine/pkg/feesplit"
	"github.com/terminal-bench/vaultengine/pkg/guard"
	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

// Reserve vault tax parameters: 4.5% on every non-exempt transfer, 60% of
// the fee burned and 40% redirected to the controller. Issuance charges the
// same 4.5%, half as controller share dilution and half as backing-asset
// revenue.
const (
	TransferFeeBps = 450
	BurnShareRatio = 60
	IssuanceFeeBps = 450
)

var (
	ErrIssuanceClosed        = errors.New("issuance window has closed")
	ErrBelowMinimumLiquidity = errors.New("amount below minimum liquidity")
	ErrBelowMinimumTransfer  = errors.New("amount below minimum transfer")
	ErrNoSharesOutstanding   = errors.New("no shares outstanding")
	ErrPayoutRoundsToZero    = errors.New("pro-rata payout rounds to zero")
)

// BackingAsset is the surface the vault needs from the backing token
// contract: exact-amount, all-or-nothing transfers.
type BackingAsset interface {
	BalanceOf(account uuid.UUID) *uint256.Int
	Allowance(owner, spender uuid.UUID) *uint256.Int
	Transfer(from, to uuid.UUID, amount *uint256.Int) (token.TransferPlan, error)
	TransferFrom(spender, owner, to uuid.UUID, amount *uint256.Int) (token.TransferPlan, error)
}

// Config is a reserve vault's immutable deployment configuration. Two vault
// instances differ only by backing asset and these parameters.
type Config struct {
	Name           string
	Controller     uuid.UUID
	MinTransfer    *uint256.Int
	MinLiquidity   *uint256.Int
	IssuanceWindow time.Duration
}

// Metrics is the read-side snapshot exposed to operators and indexers.
type Metrics struct {
	TotalSupply    string          `json:"total_supply"`
	ReserveBalance string          `json:"reserve_balance"`
	TotalMinted    string          `json:"total_minted"`
	TotalBurned    string          `json:"total_burned"`
	BackingRatio   decimal.Decimal `json:"backing_ratio"`
}

// ReserveVault owns a share token redeemable pro-rata against a pooled
// reserve of one backing asset. Issuance is open for a fixed window after
// deployment; transfers of the share token are taxed unless exempt.
//
// Configuration is immutable after construction and all mutable state lives
// in the two ledgers. Distinct top-level calls serialize on callMu so
// concurrent callers queue instead of failing; the guard inside rejects any
// path that re-enters a guarded section without holding the mutex.
type ReserveVault struct {
	cfg       Config
	addr      uuid.UUID
	backing   BackingAsset
	shares    *token.Ledger
	clock     clockwork.Clock
	publisher messaging.Publisher
	deployed  time.Time

	callMu sync.Mutex
	guard  guard.Guard
}

func (v *ReserveVault) begin() (func(), error) {
	v.callMu.Lock()
	release, err := v.guard.Acquire()
	if err != nil {
		v.callMu.Unlock()
		return nil, err
	}
	return func() {
		release()
		v.callMu.Unlock()
	}, nil
}

// New deploys a reserve vault over the given backing asset.
func New(cfg Config, backing BackingAsset, clock clockwork.Clock, publisher messaging.Publisher) (*ReserveVault, error) {
	if cfg.Controller == uuid.Nil {
		return nil, fmt.Errorf("%w: controller", token.ErrZeroAddress)
	}
	if cfg.MinTransfer == nil || cfg.MinLiquidity == nil {
		return nil, fmt.Errorf("minimum thresholds must be configured")
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}

	v := &ReserveVault{
		cfg:       cfg,
		addr:      uuid.New(),
		backing:   backing,
		shares:    token.NewLedger(cfg.Name),
		clock:     clock,
		publisher: publisher,
		deployed:  clock.Now(),
	}
	v.shares.SetHook(v)
	return v, nil
}

// transferKind classifies an intercepted transfer once per call.
type transferKind int

const (
	kindExempt transferKind = iota
	kindTaxed
)

func (v *ReserveVault) classify(from, to uuid.UUID) transferKind {
	if from == v.cfg.Controller || to == v.cfg.Controller || from == v.addr || to == v.addr {
		return kindExempt
	}
	return kindTaxed
}

// PlanTransfer implements token.Hook: exempt transfers pass through whole,
// taxed transfers are decomposed by the fee splitter.
func (v *ReserveVault) PlanTransfer(from, to uuid.UUID, amount *uint256.Int) (token.TransferPlan, error) {
	switch v.classify(from, to) {
	case kindExempt:
		return token.TransferPlan{
			Net:      amount.Clone(),
			Burn:     uint256.NewInt(0),
			Redirect: uint256.NewInt(0),
		}, nil
	default:
		if amount.Lt(v.cfg.MinTransfer) {
			return token.TransferPlan{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimumTransfer, amount, v.cfg.MinTransfer)
		}
		net, burn, redirect, err := feesplit.Split(amount, TransferFeeBps, BurnShareRatio)
		if err != nil {
			return token.TransferPlan{}, err
		}
		return token.TransferPlan{
			Net:        net,
			Burn:       burn,
			Redirect:   redirect,
			RedirectTo: v.cfg.Controller,
		}, nil
	}
}

// IssueShares pulls backingAmount of the backing asset from the buyer and
// mints shares 1:1 minus a 4.5% fee. Half the fee becomes share dilution
// credited to the controller, half becomes backing-asset revenue paid out to
// the controller. Share mints happen before the external payout.
func (v *ReserveVault) IssueShares(ctx context.Context, buyer uuid.UUID, backingAmount *uint256.Int) (*uint256.Int, error) {
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if backingAmount == nil || backingAmount.IsZero() {
		return nil, token.ErrZeroAmount
	}
	if backingAmount.Lt(v.cfg.MinLiquidity) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimumLiquidity, backingAmount, v.cfg.MinLiquidity)
	}
	if v.clock.Now().After(v.deployed.Add(v.cfg.IssuanceWindow)) {
		return nil, ErrIssuanceClosed
	}
	if v.backing.Allowance(buyer, v.addr).Lt(backingAmount) {
		return nil, fmt.Errorf("%w: vault not approved for %s", token.ErrInsufficientAllowance, backingAmount)
	}

	if _, err := v.backing.TransferFrom(v.addr, buyer, v.addr, backingAmount); err != nil {
		return nil, fmt.Errorf("failed to pull backing asset: %w", err)
	}

	fee := feesplit.Fee(backingAmount, IssuanceFeeBps)
	buyerShares := new(uint256.Int).Sub(backingAmount, fee)
	half := new(uint256.Int).Div(fee, uint256.NewInt(2))

	if err := v.shares.Mint(buyer, buyerShares); err != nil {
		return nil, err
	}
	if !half.IsZero() {
		if err := v.shares.Mint(v.cfg.Controller, half); err != nil {
			return nil, err
		}
		if _, err := v.backing.Transfer(v.addr, v.cfg.Controller, half); err != nil {
			return nil, fmt.Errorf("failed to pay controller revenue: %w", err)
		}
	}

	v.publisher.Publish(ctx, messaging.EventTypeShareIssued, messaging.ShareIssueEvent{
		Envelope: messaging.NewEnvelope(messaging.EventTypeShareIssued, v.cfg.Name),
		Buyer:    buyer,
		Shares:   buyerShares.Dec(),
		FeeTotal: fee.Dec(),
	})

	return buyerShares, nil
}

// RedeemShares burns shareAmount from the redeemer and pays out the
// pro-rata slice of the reserve. Reserve balance and total supply are read
// inside the guarded section, so the ratio is one atomic snapshot; the burn
// lands before the external payout.
func (v *ReserveVault) RedeemShares(ctx context.Context, redeemer uuid.UUID, shareAmount *uint256.Int) (*uint256.Int, error) {
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if shareAmount == nil || shareAmount.IsZero() {
		return nil, token.ErrZeroAmount
	}

	supply := v.shares.TotalSupply()
	if supply.IsZero() {
		return nil, ErrNoSharesOutstanding
	}

	reserve := v.backing.BalanceOf(v.addr)
	payout := new(uint256.Int).Mul(reserve, shareAmount)
	payout.Div(payout, supply)
	if payout.IsZero() {
		return nil, ErrPayoutRoundsToZero
	}

	if err := v.shares.Burn(redeemer, shareAmount); err != nil {
		return nil, err
	}
	if _, err := v.backing.Transfer(v.addr, redeemer, payout); err != nil {
		return nil, fmt.Errorf("failed to pay out reserve: %w", err)
	}

	v.publisher.Publish(ctx, messaging.EventTypeShareRedeemed, messaging.ShareRedeemEvent{
		Envelope: messaging.NewEnvelope(messaging.EventTypeShareRedeemed, v.cfg.Name),
		Redeemer: redeemer,
		Shares:   shareAmount.Dec(),
		Payout:   payout.Dec(),
	})

	return payout, nil
}

// Transfer moves share tokens through the tax hook.
func (v *ReserveVault) Transfer(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) error {
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	plan, err := v.shares.Transfer(from, to, amount)
	if err != nil {
		return err
	}
	v.publishTax(ctx, from, to, plan)
	return nil
}

// TransferFrom moves share tokens on a spender's authority, through the tax
// hook.
func (v *ReserveVault) TransferFrom(ctx context.Context, spender, from, to uuid.UUID, amount *uint256.Int) error {
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	plan, err := v.shares.TransferFrom(spender, from, to, amount)
	if err != nil {
		return err
	}
	v.publishTax(ctx, from, to, plan)
	return nil
}

// Approve delegates to the share ledger's allowance surface.
func (v *ReserveVault) Approve(owner, spender uuid.UUID, amount *uint256.Int) error {
	return v.shares.Approve(owner, spender, amount)
}

// Allowance delegates to the share ledger.
func (v *ReserveVault) Allowance(owner, spender uuid.UUID) *uint256.Int {
	return v.shares.Allowance(owner, spender)
}

func (v *ReserveVault) publishTax(ctx context.Context, from, to uuid.UUID, plan token.TransferPlan) {
	v.publisher.Publish(ctx, messaging.EventTypeTransferTaxed, messaging.TransferTaxEvent{
		Envelope: messaging.NewEnvelope(messaging.EventTypeTransferTaxed, v.cfg.Name),
		From:     from,
		To:       to,
		Net:      plan.Net.Dec(),
		Redirect: plan.Redirect.Dec(),
		Burn:     plan.Burn.Dec(),
	})
}

// BalanceOf returns an account's share balance.
func (v *ReserveVault) BalanceOf(account uuid.UUID) *uint256.Int {
	return v.shares.BalanceOf(account)
}

// TotalSupply returns the outstanding share supply.
func (v *ReserveVault) TotalSupply() *uint256.Int {
	return v.shares.TotalSupply()
}

// Address returns the vault's custody address.
func (v *ReserveVault) Address() uuid.UUID {
	return v.addr
}

// Controller returns the controller address.
func (v *ReserveVault) Controller() uuid.UUID {
	return v.cfg.Controller
}

// Name returns the vault name.
func (v *ReserveVault) Name() string {
	return v.cfg.Name
}

// GetContractMetrics returns the vault's accounting snapshot. The backing
// ratio is reserve balance over outstanding supply.
func (v *ReserveVault) GetContractMetrics() Metrics {
	supply := v.shares.TotalSupply()
	reserve := v.backing.BalanceOf(v.addr)

	ratio := decimal.Zero
	if !supply.IsZero() {
		ratio = decimal.NewFromBigInt(reserve.ToBig(), 0).
			Div(decimal.NewFromBigInt(supply.ToBig(), 0))
	}

	return Metrics{
		TotalSupply:    supply.Dec(),
		ReserveBalance: reserve.Dec(),
		TotalMinted:    v.shares.TotalMinted().Dec(),
		TotalBurned:    v.shares.TotalBurned().Dec(),
		BackingRatio:   ratio,
	}
}

// GetIssuanceStatus reports whether issuance is still open and how long
// remains.
func (v *ReserveVault) GetIssuanceStatus() (bool, time.Duration) {
	deadline := v.deployed.Add(v.cfg.IssuanceWindow)
	remaining := deadline.Sub(v.clock.Now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}
