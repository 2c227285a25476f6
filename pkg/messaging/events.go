package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	EventTypeShareIssued    = "vault.issue"
	EventTypeShareRedeemed  = "vault.redeem"
	EventTypeTransferTaxed  = "vault.tax"
	EventTypeBurnApplied    = "vault.burn"
	EventTypeTokenDeposited = "claim.deposit"
	EventTypeClaimMinted    = "claim.minted"
	EventTypeClaimRedeemed  = "claim.redeem"
	EventTypeWeightUpdated  = "oracle.weight"
)

// Envelope is the common wrapper carried on every published event. Amounts
// are base-unit integers rendered as strings so indexers never lose
// precision to JSON number parsing.
type Envelope struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Vault     string    `json:"vault"`
	Timestamp time.Time `json:"timestamp"`
}

// ShareIssueEvent is published after a successful issuance.
type ShareIssueEvent struct {
	Envelope
	Buyer    uuid.UUID `json:"buyer"`
	Shares   string    `json:"shares"`
	FeeTotal string    `json:"fee_total"`
}

// ShareRedeemEvent is published after a successful redemption, for both the
// reserve vaults and the claim vault.
type ShareRedeemEvent struct {
	Envelope
	Redeemer uuid.UUID `json:"redeemer"`
	Shares   string    `json:"shares"`
	Payout   string    `json:"payout"`
}

// TransferTaxEvent is published for every intercepted transfer, including
// exempt ones (with zero fee components).
type TransferTaxEvent struct {
	Envelope
	From     uuid.UUID `json:"from"`
	To       uuid.UUID `json:"to"`
	Net      string    `json:"net"`
	Redirect string    `json:"redirect"`
	Burn     string    `json:"burn"`
}

// BurnEvent is published when the claim token's flat tax destroys value.
type BurnEvent struct {
	Envelope
	From   uuid.UUID `json:"from"`
	Amount string    `json:"amount"`
}

// TokenDepositEvent is published when the claim pool receives a deposit.
// Unattributed marks deposits accepted while total eligible supply was zero.
type TokenDepositEvent struct {
	Envelope
	Depositor    uuid.UUID `json:"depositor"`
	Amount       string    `json:"amount"`
	Unattributed bool      `json:"unattributed"`
}

// ClaimEvent is published when settled rewards are minted as claim shares.
type ClaimEvent struct {
	Envelope
	Claimer uuid.UUID `json:"claimer"`
	Amount  string    `json:"amount"`
}

// WeightUpdateEvent is published after a successful oracle recalibration.
type WeightUpdateEvent struct {
	Envelope
	Weight  string `json:"weight"`
	SupplyA string `json:"supply_a"`
	SupplyB string `json:"supply_b"`
}

// NewEnvelope stamps a fresh envelope for a component's event.
func NewEnvelope(eventType, vault string) Envelope {
	return Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		Vault:     vault,
		Timestamp: time.Now().UTC(),
	}
}
