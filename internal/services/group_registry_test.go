package services

import (
	"testing"
	"time"

	"auction-sync/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestGroupRegistryAddRemove(t *testing.T) {
	r := NewGroupRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, r.Add("auction-1", domain.ChannelAuction, now))
	require.False(t, r.Add("auction-1", domain.ChannelAuction, now.Add(time.Second)), "duplicate add")
	require.True(t, r.Add("auction-1", domain.ChannelBid, now), "same name on the other channel is a separate key")
	require.Equal(t, 2, r.Len())

	require.True(t, r.Contains("auction-1", domain.ChannelBid))
	require.True(t, r.Remove("auction-1", domain.ChannelBid))
	require.False(t, r.Remove("auction-1", domain.ChannelBid))
	require.False(t, r.Contains("auction-1", domain.ChannelBid))
	require.True(t, r.Contains("auction-1", domain.ChannelAuction))

	subs := r.Snapshot()
	require.Len(t, subs, 1)
	require.Equal(t, now, subs[0].SubscribedAt, "re-adding keeps the original subscription time")
}

func TestGroupRegistryForChannelOrder(t *testing.T) {
	r := NewGroupRegistry()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r.Add("auction-car-2", domain.ChannelBid, base.Add(2*time.Second))
	r.Add("auction-1", domain.ChannelBid, base)
	r.Add("auction-car-1", domain.ChannelBid, base.Add(time.Second))
	r.Add("auction-1", domain.ChannelAuction, base)

	require.Equal(t, []string{"auction-1", "auction-car-1", "auction-car-2"}, r.ForChannel(domain.ChannelBid))
	require.Equal(t, []string{"auction-1"}, r.ForChannel(domain.ChannelAuction))

	r.Clear()
	require.Zero(t, r.Len())
	require.Empty(t, r.ForChannel(domain.ChannelBid))
}
