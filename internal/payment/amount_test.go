package payment

import "testing"

func TestPercent(t *testing.T) {
	tests := []struct {
		amount string
		pct    int
		want   string
	}{
		{"10", 40, "4"},
		{"10", 100, "10"},
		{"1", 50, "0.5"},
		{"0.000000003", 33, "0"}, // truncates below nanoton precision
		{"99.99", 1, "0.9999"},
	}
	for _, tt := range tests {
		got, err := Percent(tt.amount, tt.pct)
		if err != nil {
			t.Errorf("Percent(%q, %d): %v", tt.amount, tt.pct, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Percent(%q, %d) = %q, want %q", tt.amount, tt.pct, got, tt.want)
		}
	}

	if _, err := Percent("not-a-number", 50); err == nil {
		t.Error("expected error for malformed amount")
	}
}

func TestRemainder(t *testing.T) {
	got, err := Remainder("10", "4")
	if err != nil {
		t.Fatal(err)
	}
	if got != "6" {
		t.Errorf("Remainder(10, 4) = %q, want 6", got)
	}

	got, err = Remainder("1.5", "1.5")
	if err != nil {
		t.Fatal(err)
	}
	if got != "0" {
		t.Errorf("Remainder(1.5, 1.5) = %q, want 0", got)
	}
}

func TestIsPositive(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"10", true},
		{"0.000000001", true},
		{"0", false},
		{"-1", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := IsPositive(tt.amount); got != tt.want {
			t.Errorf("IsPositive(%q) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}
