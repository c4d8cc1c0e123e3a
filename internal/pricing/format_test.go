package pricing

import "testing"

func TestFormatSOL(t *testing.T) {
	tests := []struct {
		lamports uint64
		want     string
	}{
		{500_000, "0.000500"},
		{500_000_000, "0.5000"},
		{1_000_000_000, "1.00"},
		{2_500_000_000_000, "2.50K"},
		{3_000_000_000_000_000, "3.00M"},
	}
	for _, tt := range tests {
		if got := FormatSOL(tt.lamports); got != tt.want {
			t.Errorf("FormatSOL(%d) = %q, want %q", tt.lamports, got, tt.want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	if got := FormatTokens(1_000_000_000_000_000, 6); got != "1.00B" {
		t.Errorf("FormatTokens() = %q", got)
	}
	if got := FormatTokens(31_945_788_964_182, 6); got != "31.95M" {
		t.Errorf("FormatTokens() = %q", got)
	}
	if got := FormatTokens(1_500_000, 6); got != "1.50" {
		t.Errorf("FormatTokens() = %q", got)
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(30); got != "0.00000003" {
		t.Errorf("FormatPrice() = %q", got)
	}
	if got := FormatImpact(-313); got != "-3.13%" {
		t.Errorf("FormatImpact() = %q", got)
	}
}
