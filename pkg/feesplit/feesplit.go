package feesplit

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator is the basis-point scale: 10000 bps == 100%.
	BpsDenominator = 10000

	// BurnShareDenominator is the scale of the burn/redirect split: 100 == all burned.
	BurnShareDenominator = 100
)

// Split decomposes a gross transfer amount into the net amount delivered to
// the recipient, the portion of the fee destroyed, and the portion redirected
// to the controller.
//
// The fee is computed once with truncating division and split afterward, so
// burn + redirect == fee holds exactly and burn + redirect + net == amount
// holds for every input.
func Split(amount *uint256.Int, feeRateBps uint64, burnShareRatio uint64) (net, burn, redirect *uint256.Int, err error) {
	if amount == nil {
		return nil, nil, nil, fmt.Errorf("nil amount")
	}
	if feeRateBps > BpsDenominator {
		return nil, nil, nil, fmt.Errorf("fee rate %d exceeds %d bps", feeRateBps, BpsDenominator)
	}
	if burnShareRatio > BurnShareDenominator {
		return nil, nil, nil, fmt.Errorf("burn share %d exceeds %d", burnShareRatio, BurnShareDenominator)
	}

	fee := new(uint256.Int).Mul(amount, uint256.NewInt(feeRateBps))
	fee.Div(fee, uint256.NewInt(BpsDenominator))

	burn = new(uint256.Int).Mul(fee, uint256.NewInt(burnShareRatio))
	burn.Div(burn, uint256.NewInt(BurnShareDenominator))

	redirect = new(uint256.Int).Sub(fee, burn)
	net = new(uint256.Int).Sub(amount, fee)

	return net, burn, redirect, nil
}

// Fee returns only the fee portion of an amount at the given rate, truncated.
func Fee(amount *uint256.Int, feeRateBps uint64) *uint256.Int {
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(feeRateBps))
	return fee.Div(fee, uint256.NewInt(BpsDenominator))
}
