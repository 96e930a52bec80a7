package cache

import (
	"testing"
)

func TestSnapshotKey(t *testing.T) {
	got := SnapshotKey("BTC-USDT-SWAP", "1H")
	if got != "df_BTC-USDT-SWAP_1H" {
		t.Errorf("SnapshotKey = %q", got)
	}
}

func TestChannelName(t *testing.T) {
	got := ChannelName("BTC-USDT-SWAP", "1H")
	if got != "channel_BTC-USDT-SWAP_1H" {
		t.Errorf("ChannelName = %q", got)
	}
}

func TestChannels_CrossProduct(t *testing.T) {
	got := Channels(
		[]string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"},
		[]string{"1H", "4H", "1D"},
	)

	if len(got) != 6 {
		t.Fatalf("channels = %d, want 6", len(got))
	}

	want := map[string]bool{
		"channel_BTC-USDT-SWAP_1H": true,
		"channel_BTC-USDT-SWAP_4H": true,
		"channel_BTC-USDT-SWAP_1D": true,
		"channel_ETH-USDT-SWAP_1H": true,
		"channel_ETH-USDT-SWAP_4H": true,
		"channel_ETH-USDT-SWAP_1D": true,
	}
	for _, ch := range got {
		if !want[ch] {
			t.Errorf("unexpected channel %q", ch)
		}
	}
}

func TestChannels_Empty(t *testing.T) {
	if got := Channels(nil, []string{"1H"}); len(got) != 0 {
		t.Errorf("channels = %v, want empty", got)
	}
}
