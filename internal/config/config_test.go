package config

import "testing"

func TestSymbolConfigValidateRejectsOverlappingChannels(t *testing.T) {
	s := SymbolConfig{Symbol: "BTC-USD", Channels: []string{"level2", "full"}}
	if err := s.Validate(); err == nil {
		t.Error("expected an error for overlapping level2+full channels")
	}
}

func TestSymbolConfigValidateAcceptsDisjointChannels(t *testing.T) {
	cases := [][]string{
		{"level2", "heartbeat"},
		{"full", "heartbeat"},
		{"ticker"},
		nil,
	}
	for _, channels := range cases {
		s := SymbolConfig{Symbol: "BTC-USD", Channels: channels}
		if err := s.Validate(); err != nil {
			t.Errorf("channels = %v: unexpected error %v", channels, err)
		}
	}
}

func TestParseSymbolsEnv(t *testing.T) {
	got := parseSymbolsEnv("BTC-USD:level2+heartbeat,ETH-USD:full+heartbeat")
	if len(got) != 2 {
		t.Fatalf("parsed %d symbols, want 2", len(got))
	}
	if got[0].Symbol != "BTC-USD" || len(got[0].Channels) != 2 {
		t.Errorf("first symbol = %+v", got[0])
	}
	if got[1].Symbol != "ETH-USD" || got[1].Channels[0] != "full" {
		t.Errorf("second symbol = %+v", got[1])
	}
}

func TestParseSymbolsEnvDefaultsChannelsWhenOmitted(t *testing.T) {
	got := parseSymbolsEnv("BTC-USD")
	if len(got) != 1 {
		t.Fatalf("parsed %d symbols, want 1", len(got))
	}
	if len(got[0].Channels) == 0 {
		t.Error("omitted channels should fall back to a default set")
	}
}

func TestDefaultsAreUsable(t *testing.T) {
	c := defaults()
	if c.FeedURL == "" {
		t.Error("default FeedURL should not be empty")
	}
	if c.DefaultDepth <= 0 {
		t.Error("default DefaultDepth should be positive")
	}
	if c.HTTPAddr == "" {
		t.Error("default HTTPAddr should not be empty")
	}
}
