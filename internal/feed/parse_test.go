package feed

import "testing"

func TestMidPrice(t *testing.T) {
	tests := []struct {
		name           string
		bid, ask, last string
		want           float64
		ok             bool
	}{
		{"both sides", "49990", "50010", "", 50_000, true},
		{"fallback to last", "", "", "50005", 50_005, true},
		{"bid only falls back", "49990", "", "50005", 50_005, true},
		{"zero bid falls back", "0", "50010", "50005", 50_005, true},
		{"nothing usable", "", "", "", 0, false},
		{"garbage", "abc", "def", "ghi", 0, false},
		{"zero last", "", "", "0", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := midPrice(tt.bid, tt.ask, tt.last)
			if ok != tt.ok {
				t.Fatalf("midPrice(%q,%q,%q) ok = %v, want %v", tt.bid, tt.ask, tt.last, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("midPrice(%q,%q,%q) = %v, want %v", tt.bid, tt.ask, tt.last, got, tt.want)
			}
		})
	}
}
