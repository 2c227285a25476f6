package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

// Scale is the fixed-point scale shared by the weight and the reward
// accumulator: 1e18 == 1.0.
var Scale = uint256.MustFromDecimal("1000000000000000000")

var (
	ErrCooldownActive   = errors.New("cooldown has not elapsed")
	ErrZeroSourceSupply = errors.New("source supply is zero")
	ErrDegenerateWeight = errors.New("computed weight is zero")
)

// SupplySource reads the two external total-supply figures the weight is
// derived from.
type SupplySource interface {
	TotalSupplies(ctx context.Context) (supplyA, supplyB *uint256.Int, err error)
}

// Oracle holds the scalar weight making token B balances commensurable with
// token A balances, recalibrated from external supply data no more often
// than once per cooldown window. Updates are permissionless.
type Oracle struct {
	source    SupplySource
	clock     clockwork.Clock
	cooldown  time.Duration
	publisher messaging.Publisher

	weight     *uint256.Int
	lastUpdate time.Time

	mu sync.RWMutex
}

// New creates an oracle with the weight initialized to 1.0 so eligible
// balances are well-defined before the first recalibration.
func New(source SupplySource, clock clockwork.Clock, cooldown time.Duration, publisher messaging.Publisher) *Oracle {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Oracle{
		source:    source,
		clock:     clock,
		cooldown:  cooldown,
		publisher: publisher,
		weight:    Scale.Clone(),
	}
}

// UpdateWeight recomputes the weight from the supply source. It rejects the
// call when the cooldown has not elapsed, when either source supply is zero,
// or when the resulting weight truncates to zero.
func (o *Oracle) UpdateWeight(ctx context.Context) (*uint256.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if !o.lastUpdate.IsZero() && now.Before(o.lastUpdate.Add(o.cooldown)) {
		remaining := o.lastUpdate.Add(o.cooldown).Sub(now)
		return nil, fmt.Errorf("%w: %s remaining", ErrCooldownActive, remaining)
	}

	supplyA, supplyB, err := o.source.TotalSupplies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read source supplies: %w", err)
	}
	if supplyA == nil || supplyA.IsZero() || supplyB == nil || supplyB.IsZero() {
		return nil, ErrZeroSourceSupply
	}

	weight := new(uint256.Int).Mul(supplyB, Scale)
	weight.Div(weight, supplyA)
	if weight.IsZero() {
		return nil, ErrDegenerateWeight
	}

	o.weight = weight
	o.lastUpdate = now

	o.publisher.Publish(ctx, messaging.EventTypeWeightUpdated, messaging.WeightUpdateEvent{
		Envelope: messaging.NewEnvelope(messaging.EventTypeWeightUpdated, "oracle"),
		Weight:   weight.Dec(),
		SupplyA:  supplyA.Dec(),
		SupplyB:  supplyB.Dec(),
	})

	return weight.Clone(), nil
}

// Weight returns the current weight.
func (o *Oracle) Weight() *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.weight.Clone()
}

// LastUpdate returns the time of the last successful recalibration, zero if
// none has happened yet.
func (o *Oracle) LastUpdate() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastUpdate
}

// NextUpdateIn returns how long until the next update is permitted.
func (o *Oracle) NextUpdateIn() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.lastUpdate.IsZero() {
		return 0
	}
	remaining := o.lastUpdate.Add(o.cooldown).Sub(o.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
