package snapshot

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
)

func TestToSnapshotPreservesWireStrings(t *testing.T) {
	resp := &futures.DepthResponse{
		LastUpdateID: 100,
		Bids: []futures.Bid{
			{Price: "10.25000", Quantity: "4.00"},
			{Price: "10.20", Quantity: "1.5"},
		},
		Asks: []futures.Ask{
			{Price: "10.30", Quantity: "2.0"},
		},
	}

	snap := toSnapshot(resp)

	assert.Equal(t, int64(100), snap.LastUpdateID)
	assert.Len(t, snap.Bids, 2)
	assert.Equal(t, "10.25000", snap.Bids[0].Price)
	assert.Equal(t, "4.00", snap.Bids[0].Qty)
	assert.Equal(t, "10.20", snap.Bids[1].Price)
	assert.Len(t, snap.Asks, 1)
	assert.Equal(t, "10.30", snap.Asks[0].Price)
	assert.Equal(t, "2.0", snap.Asks[0].Qty)
}

func TestToSnapshotEmptySides(t *testing.T) {
	resp := &futures.DepthResponse{LastUpdateID: 5}
	snap := toSnapshot(resp)
	assert.Equal(t, int64(5), snap.LastUpdateID)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestNewBuildsClientWithoutNetworkCall(t *testing.T) {
	c := New("https://testnet.binancefuture.com", 1000, 5*time.Second)
	assert.NotNil(t, c.http)
	assert.Equal(t, "https://testnet.binancefuture.com", c.http.BaseURL)
	assert.Equal(t, 1000, c.limit)
	assert.Equal(t, 5*time.Second, c.timeout)
}

func TestNewEmptyBaseURLKeepsLibraryDefault(t *testing.T) {
	c := New("", 500, time.Second)
	assert.NotEmpty(t, c.http.BaseURL)
}
