package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"auction-sync/internal/bidding"

	"github.com/go-redis/redis/v8"
)

const tiersKey = "bid_increment_tiers"

// TierStore keeps the increment table in redis so every hub instance applies
// the same rules.
type TierStore struct {
	client *redis.Client
}

func NewTierStore(client *redis.Client) *TierStore {
	return &TierStore{client: client}
}

// LoadTiers returns the stored table. A missing key is initialised with the
// built-in defaults.
func (s *TierStore) LoadTiers(ctx context.Context) ([]bidding.Tier, error) {
	data, err := s.client.Get(ctx, tiersKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			tiers := bidding.Default().Tiers()
			return tiers, s.SaveTiers(ctx, tiers)
		}
		return nil, err
	}
	return decodeTiers(data)
}

func (s *TierStore) SaveTiers(ctx context.Context, tiers []bidding.Tier) error {
	data, err := encodeTiers(tiers)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tiersKey, data, 0).Err()
}

func encodeTiers(tiers []bidding.Tier) (string, error) {
	data, err := json.Marshal(tiers)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTiers(data string) ([]bidding.Tier, error) {
	var tiers []bidding.Tier
	if err := json.Unmarshal([]byte(data), &tiers); err != nil {
		return nil, fmt.Errorf("decode increment tiers: %w", err)
	}
	if len(tiers) == 0 {
		return nil, errors.New("increment tier table is empty")
	}
	for i, t := range tiers {
		if t.Increment <= 0 {
			return nil, fmt.Errorf("tier %d has non-positive increment", i)
		}
	}
	return tiers, nil
}
