package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hub:
  base_url: https://hub.example.com/hubs
  max_retries: 3
  retry_delays: [1s, 4s]
session:
  auction_id: a-42
simulator:
  tokens:
    t1: bidder-1
  cars:
    - id: car-1
      starting_price: 5000
      min_pre_bid: 4500
bidding:
  tiers:
    - lower_bound: 0
      increment: 10
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "https://hub.example.com/hubs", cfg.Hub.BaseURL)
	require.Equal(t, 3, cfg.Hub.MaxRetries)
	require.Equal(t, []time.Duration{time.Second, 4 * time.Second}, cfg.Hub.RetryDelays)
	require.Equal(t, 15*time.Second, cfg.Hub.ConnectTimeout)
	require.Equal(t, "/auctionChannel", cfg.Hub.AuctionChannelPath)
	require.NoError(t, cfg.Hub.Validate())

	require.Equal(t, "a-42", cfg.Session.AuctionID)
	require.Equal(t, 50, cfg.Session.HistoryLimit)
	require.Equal(t, "127.0.0.1:8081", cfg.Status.Address())

	require.Equal(t, "bidder-1", cfg.Simulator.Tokens["t1"])
	require.Len(t, cfg.Simulator.Cars, 1)
	require.Equal(t, 4500.0, cfg.Simulator.Cars[0].MinPreBid)
	require.Equal(t, 60*time.Second, cfg.Simulator.LotDuration)

	require.Equal(t, 10.0, cfg.Bidding.Engine().CalculateIncrement(20))
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hub:\n  base_url: http://file\n"), 0o600))
	t.Setenv("HUB_BASE_URL", "http://env:9000/hubs")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "http://env:9000/hubs", cfg.Hub.BaseURL)
}
