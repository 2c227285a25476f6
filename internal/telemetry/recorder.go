package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/vaultengine/internal/claim"
	"github.com/terminal-bench/vaultengine/internal/vault"
)

// Recorder writes periodic vault accounting snapshots to InfluxDB for
// dashboards. Amount fields are converted to floats; this is telemetry, the
// exact integers live in the ledgers and the event archive.
type Recorder struct {
	writer api.WriteAPIBlocking
}

// NewRecorder creates a recorder over an Influx client.
func NewRecorder(client influxdb2.Client, org, bucket string) *Recorder {
	return &Recorder{writer: client.WriteAPIBlocking(org, bucket)}
}

func toFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// RecordVault writes one reserve vault snapshot.
func (r *Recorder) RecordVault(ctx context.Context, name string, m vault.Metrics) error {
	point := influxdb2.NewPoint("reserve_vault",
		map[string]string{"vault": name},
		map[string]interface{}{
			"total_supply":    toFloat(m.TotalSupply),
			"reserve_balance": toFloat(m.ReserveBalance),
			"total_minted":    toFloat(m.TotalMinted),
			"total_burned":    toFloat(m.TotalBurned),
			"backing_ratio":   m.BackingRatio.InexactFloat64(),
		},
		time.Now(),
	)
	if err := r.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write vault point: %w", err)
	}
	return nil
}

// RecordClaim writes one claim vault snapshot.
func (r *Recorder) RecordClaim(ctx context.Context, name string, m claim.Metrics) error {
	point := influxdb2.NewPoint("claim_vault",
		map[string]string{"vault": name},
		map[string]interface{}{
			"total_supply":     toFloat(m.TotalSupply),
			"reserve_balance":  toFloat(m.ReserveBalance),
			"total_minted":     toFloat(m.TotalMinted),
			"total_burned":     toFloat(m.TotalBurned),
			"reward_per_token": toFloat(m.RewardPerToken),
			"avg_reward":       m.AvgRewardPerEligibleUnit.InexactFloat64(),
			"backing_ratio":    m.BackingRatio.InexactFloat64(),
			"unattributed":     toFloat(m.Unattributed),
		},
		time.Now(),
	)
	if err := r.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write claim point: %w", err)
	}
	return nil
}

// Run polls every vault on the interval until the context is cancelled.
// Failed writes are reported through errs and the loop keeps ticking; a
// telemetry blip must not take the service down.
func (r *Recorder) Run(ctx context.Context, interval time.Duration, vaults []*vault.ReserveVault, cv *claim.Vault, errs chan<- error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, v := range vaults {
				if err := r.RecordVault(ctx, v.Name(), v.GetContractMetrics()); err != nil {
					report(err)
				}
			}
			if cv != nil {
				if err := r.RecordClaim(ctx, cv.Name(), cv.GetContractMetrics()); err != nil {
					report(err)
				}
			}
		}
	}
}
