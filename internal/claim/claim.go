package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/vaultengine/internal/oracle"
	"github.com/terminal-bench/vaultengine/internal/rewards"
	"github.com/terminal-bench/vaultengine/internal/token"
	"github.com/terminal-bench/vaultengine/pkg/feesplit"
	"github.com/terminal-bench/vaultengine/pkg/guard"
	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

// Claim token transfer tax: flat 0.5%, burn-only.
const (
	TransferFeeBps = 50
	burnShareAll   = 100
)

var (
	ErrBelowMinimumDeposit  = errors.New("amount below minimum deposit")
	ErrBelowMinimumTransfer = errors.New("amount below minimum transfer")
	ErrNothingToClaim       = errors.New("no eligible reward to claim")
	ErrNoSharesOutstanding  = errors.New("no claim shares outstanding")
	ErrEmptyPool            = errors.New("pooled reserve is empty")
	ErrPayoutRoundsToZero   = errors.New("pro-rata payout rounds to zero")
)

// PoolAsset is the surface the claim vault needs from the pooled reserve
// token.
type PoolAsset interface {
	BalanceOf(account uuid.UUID) *uint256.Int
	Allowance(owner, spender uuid.UUID) *uint256.Int
	Transfer(from, to uuid.UUID, amount *uint256.Int) (token.TransferPlan, error)
	TransferFrom(spender, owner, to uuid.UUID, amount *uint256.Int) (token.TransferPlan, error)
}

// Config is the claim vault's immutable deployment configuration.
type Config struct {
	Name        string
	MinTransfer *uint256.Int
	MinDeposit  *uint256.Int
}

// Metrics is the claim vault's read-side snapshot.
type Metrics struct {
	TotalSupply              string          `json:"total_supply"`
	ReserveBalance           string          `json:"reserve_balance"`
	TotalMinted              string          `json:"total_minted"`
	TotalBurned              string          `json:"total_burned"`
	RewardPerToken           string          `json:"reward_per_token"`
	AvgRewardPerEligibleUnit decimal.Decimal `json:"avg_reward_per_eligible_unit"`
	BackingRatio             decimal.Decimal `json:"backing_ratio"`
	Unattributed             string          `json:"unattributed"`
}

// Eligibility reports what an account could claim right now alongside the
// live underlying balances driving it.
type Eligibility struct {
	Claimable string `json:"claimable"`
	BalanceA  string `json:"balance_a"`
	BalanceB  string `json:"balance_b"`
}

// Vault aggregates claims across the two reserve vaults: holders of either
// share token accrue claim shares through the reward-per-token scheme, mint
// them on demand, and redeem them pro-rata against a second pooled reserve.
type Vault struct {
	cfg       Config
	addr      uuid.UUID
	pool      PoolAsset
	shares    *token.Ledger
	accrual   *rewards.Accrual
	weights   *oracle.Oracle
	vaultA    rewards.BalanceSource
	vaultB    rewards.BalanceSource
	publisher messaging.Publisher

	// callMu serializes distinct top-level calls; the guard inside rejects
	// any path that re-enters a guarded section without holding it
	callMu sync.Mutex
	guard  guard.Guard

	// deposits accepted while total eligible supply was zero; stranded
	// until future deposits resume attribution, surfaced via metrics
	unattributed *uint256.Int
	mu           sync.Mutex
}

func (v *Vault) begin() (func(), error) {
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

// New deploys the claim vault over the pooled reserve asset, the two reserve
// vaults, and the weight oracle.
func New(cfg Config, pool PoolAsset, vaultA, vaultB rewards.BalanceSource, weights *oracle.Oracle, publisher messaging.Publisher) (*Vault, error) {
	if cfg.MinTransfer == nil || cfg.MinDeposit == nil {
		return nil, fmt.Errorf("minimum thresholds must be configured")
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}

	v := &Vault{
		cfg:          cfg,
		addr:         uuid.New(),
		pool:         pool,
		shares:       token.NewLedger(cfg.Name),
		accrual:      rewards.New(vaultA, vaultB, weights),
		weights:      weights,
		vaultA:       vaultA,
		vaultB:       vaultB,
		publisher:    publisher,
		unattributed: uint256.NewInt(0),
	}
	v.shares.SetHook(v)
	return v, nil
}

// PlanTransfer implements token.Hook for the claim token: self-custody
// transfers pass through, everything else pays the flat burn-only fee.
func (v *Vault) PlanTransfer(from, to uuid.UUID, amount *uint256.Int) (token.TransferPlan, error) {
	if from == v.addr || to == v.addr {
		return token.TransferPlan{
			Net:      amount.Clone(),
			Burn:     uint256.NewInt(0),
			Redirect: uint256.NewInt(0),
		}, nil
	}

	if amount.Lt(v.cfg.MinTransfer) {
		return token.TransferPlan{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimumTransfer, amount, v.cfg.MinTransfer)
	}

	net, burn, redirect, err := feesplit.Split(amount, TransferFeeBps, burnShareAll)
	if err != nil {
		return token.TransferPlan{}, err
	}
	return token.TransferPlan{Net: net, Burn: burn, Redirect: redirect}, nil
}

// Deposit pulls amount of the pool asset from the depositor and streams it
// to current eligible holders by advancing the reward accumulator. When
// total eligible supply is zero the deposit is accepted and held without
// attribution rather than rejected.
func (v *Vault) Deposit(ctx context.Context, depositor uuid.UUID, amount *uint256.Int) error {
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	if amount == nil || amount.IsZero() {
		return token.ErrZeroAmount
	}
	if amount.Lt(v.cfg.MinDeposit) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimumDeposit, amount, v.cfg.MinDeposit)
	}
	if v.pool.Allowance(depositor, v.addr).Lt(amount) {
		return fmt.Errorf("%w: vault not approved for %s", token.ErrInsufficientAllowance, amount)
	}

	v.accrual.Settle(depositor)

	if _, err := v.pool.TransferFrom(v.addr, depositor, v.addr, amount); err != nil {
		return fmt.Errorf("failed to pull deposit: %w", err)
	}

	attributed := v.accrual.Accrue(amount)
	if !attributed {
		v.mu.Lock()
		v.unattributed.Add(v.unattributed, amount)
		v.mu.Unlock()
	}

	v.publisher.Publish(ctx, messaging.EventTypeTokenDeposited, messaging.TokenDepositEvent{
		Envelope:     messaging.NewEnvelope(messaging.EventTypeTokenDeposited, v.cfg.Name),
		Depositor:    depositor,
		Amount:       amount.Dec(),
		Unattributed: !attributed,
	})

	return nil
}

// ClaimShares settles the caller and mints their full settled reward as
// claim shares. Rejects when nothing has accrued.
func (v *Vault) ClaimShares(ctx context.Context, claimer uuid.UUID) (*uint256.Int, error) {
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	reward := v.accrual.TakeSettled(claimer)
	if reward.IsZero() {
		return nil, ErrNothingToClaim
	}

	if err := v.shares.Mint(claimer, reward); err != nil {
		return nil, err
	}

	v.publisher.Publish(ctx, messaging.EventTypeClaimMinted, messaging.ClaimEvent{
		Envelope: messaging.NewEnvelope(messaging.EventTypeClaimMinted, v.cfg.Name),
		Claimer:  claimer,
		Amount:   reward.Dec(),
	})

	return reward, nil
}

// RedeemShares burns claim shares and pays out the pro-rata slice of the
// pooled reserve, burn before payout.
func (v *Vault) RedeemShares(ctx context.Context, redeemer uuid.UUID, shareAmount *uint256.Int) (*uint256.Int, error) {
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if shareAmount == nil || shareAmount.IsZero() {
		return nil, token.ErrZeroAmount
	}

	v.accrual.Settle(redeemer)

	supply := v.shares.TotalSupply()
	if supply.IsZero() {
		return nil, ErrNoSharesOutstanding
	}
	reserve := v.pool.BalanceOf(v.addr)
	if reserve.IsZero() {
		return nil, ErrEmptyPool
	}

	payout := new(uint256.Int).Mul(reserve, shareAmount)
	payout.Div(payout, supply)
	if payout.IsZero() {
		return nil, ErrPayoutRoundsToZero
	}

	if err := v.shares.Burn(redeemer, shareAmount); err != nil {
		return nil, err
	}
	if _, err := v.pool.Transfer(v.addr, redeemer, payout); err != nil {
		return nil, fmt.Errorf("failed to pay out pool: %w", err)
	}

	v.publisher.Publish(ctx, messaging.EventTypeClaimRedeemed, messaging.ShareRedeemEvent{
		Envelope: messaging.NewEnvelope(messaging.EventTypeClaimRedeemed, v.cfg.Name),
		Redeemer: redeemer,
		Shares:   shareAmount.Dec(),
		Payout:   payout.Dec(),
	})

	return payout, nil
}

// Transfer moves claim tokens through the burn-only tax hook.
func (v *Vault) Transfer(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) error {
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	plan, err := v.shares.Transfer(from, to, amount)
	if err != nil {
		return err
	}

	if !plan.Burn.IsZero() {
		v.publisher.Publish(ctx, messaging.EventTypeBurnApplied, messaging.BurnEvent{
			Envelope: messaging.NewEnvelope(messaging.EventTypeBurnApplied, v.cfg.Name),
			From:     from,
			Amount:   plan.Burn.Dec(),
		})
	}
	return nil
}

// Approve delegates to the claim share ledger.
func (v *Vault) Approve(owner, spender uuid.UUID, amount *uint256.Int) error {
	return v.shares.Approve(owner, spender, amount)
}

// UpdateWeight triggers an oracle recalibration. Permissionless.
func (v *Vault) UpdateWeight(ctx context.Context) (*uint256.Int, error) {
	return v.weights.UpdateWeight(ctx)
}

// CurrentWeight returns the oracle's weight.
func (v *Vault) CurrentWeight() *uint256.Int {
	return v.weights.Weight()
}

// LastWeightUpdate returns the time of the last oracle recalibration.
func (v *Vault) LastWeightUpdate() time.Time {
	return v.weights.LastUpdate()
}

// BalanceOf returns an account's claim share balance.
func (v *Vault) BalanceOf(account uuid.UUID) *uint256.Int {
	return v.shares.BalanceOf(account)
}

// TotalSupply returns the outstanding claim share supply.
func (v *Vault) TotalSupply() *uint256.Int {
	return v.shares.TotalSupply()
}

// Address returns the vault's custody address.
func (v *Vault) Address() uuid.UUID {
	return v.addr
}

// Name returns the vault name.
func (v *Vault) Name() string {
	return v.cfg.Name
}

// GetClaimEligibility reports an account's claimable reward and the live
// underlying balances it derives from.
func (v *Vault) GetClaimEligibility(account uuid.UUID) Eligibility {
	return Eligibility{
		Claimable: v.accrual.Earned(account).Dec(),
		BalanceA:  v.vaultA.BalanceOf(account).Dec(),
		BalanceB:  v.vaultB.BalanceOf(account).Dec(),
	}
}

// GetContractMetrics returns the claim vault's accounting snapshot.
func (v *Vault) GetContractMetrics() Metrics {
	supply := v.shares.TotalSupply()
	reserve := v.pool.BalanceOf(v.addr)
	accumulator := v.accrual.Accumulator()

	ratio := decimal.Zero
	if !supply.IsZero() {
		ratio = decimal.NewFromBigInt(reserve.ToBig(), 0).
			Div(decimal.NewFromBigInt(supply.ToBig(), 0))
	}

	v.mu.Lock()
	unattributed := v.unattributed.Clone()
	v.mu.Unlock()

	return Metrics{
		TotalSupply:    supply.Dec(),
		ReserveBalance: reserve.Dec(),
		TotalMinted:    v.shares.TotalMinted().Dec(),
		TotalBurned:    v.shares.TotalBurned().Dec(),
		RewardPerToken: accumulator.Dec(),
		AvgRewardPerEligibleUnit: decimal.NewFromBigInt(accumulator.ToBig(), 0).
			Div(decimal.NewFromBigInt(oracle.Scale.ToBig(), 0)),
		BackingRatio: ratio,
		Unattributed: unattributed.Dec(),
	}
}
