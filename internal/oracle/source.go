package oracle

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
)

// RedisSupplySource reads the two external total-supply figures from Redis
// keys maintained by the market indexer. Values are decimal strings in base
// units. Nothing is cached here: every update reads fresh values, so a failed
// read never poisons a stored weight.
type RedisSupplySource struct {
	client *redis.Client
	keyA   string
	keyB   string
}

// NewRedisSupplySource creates a source over an existing Redis client.
func NewRedisSupplySource(client *redis.Client, keyA, keyB string) *RedisSupplySource {
	return &RedisSupplySource{client: client, keyA: keyA, keyB: keyB}
}

// TotalSupplies reads both supply figures.
func (s *RedisSupplySource) TotalSupplies(ctx context.Context) (*uint256.Int, *uint256.Int, error) {
	rawA, err := s.client.Get(ctx, s.keyA).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", s.keyA, err)
	}
	rawB, err := s.client.Get(ctx, s.keyB).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", s.keyB, err)
	}

	supplyA, err := uint256.FromDecimal(rawA)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed supply at %s: %w", s.keyA, err)
	}
	supplyB, err := uint256.FromDecimal(rawB)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed supply at %s: %w", s.keyB, err)
	}

	return supplyA, supplyB, nil
}

// StaticSupplySource serves fixed supply figures. Used by tests and local
// runs without an indexer.
type StaticSupplySource struct {
	A *uint256.Int
	B *uint256.Int
}

// TotalSupplies returns the configured figures.
func (s *StaticSupplySource) TotalSupplies(context.Context) (*uint256.Int, *uint256.Int, error) {
	return s.A, s.B, nil
}

// TotalSupplyReader is any ledger exposing a live total supply.
type TotalSupplyReader interface {
	TotalSupply() *uint256.Int
}

// LedgerSupplySource derives both supply figures from local ledgers when no
// external indexer is configured.
type LedgerSupplySource struct {
	A TotalSupplyReader
	B TotalSupplyReader
}

// TotalSupplies reads both ledgers.
func (s *LedgerSupplySource) TotalSupplies(context.Context) (*uint256.Int, *uint256.Int, error) {
	return s.A.TotalSupply(), s.B.TotalSupply(), nil
}
