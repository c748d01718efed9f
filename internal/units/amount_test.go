package units

import (
	"math/big"
	"testing"
)

func TestNormalizeBaseUnits(t *testing.T) {
	base, dec, err := Normalize("10000000", "", 6)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if base.String() != "10000000" || dec != "10" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeDecimal(t *testing.T) {
	base, dec, err := Normalize("", "0012.500", 6)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if base.String() != "12500000" || dec != "12.5" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeValidation(t *testing.T) {
	if _, _, err := Normalize("10", "1", 6); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, _, err := Normalize("", "", 6); err == nil {
		t.Fatal("expected missing amount error")
	}
	if _, _, err := Normalize("-1", "", 6); err == nil {
		t.Fatal("expected negative amount error")
	}
	if _, _, err := Normalize("", "1.1234567", 6); err == nil {
		t.Fatal("expected precision error")
	}
	if _, err := ToBaseUnits("1e6", 6); err == nil {
		t.Fatal("expected format error")
	}
}

func TestToBaseUnits18Decimals(t *testing.T) {
	got, err := ToBaseUnits("1.000000000000000001", 18)
	if err != nil {
		t.Fatalf("ToBaseUnits failed: %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000001", 10)
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in       int64
		decimals int
		want     string
	}{
		{0, 6, "0"},
		{1, 6, "0.000001"},
		{146588820, 6, "146.58882"},
		{219883230, 0, "219883230"},
		{5_000_000, 6, "5"},
	}
	for _, tc := range tests {
		if got := Format(big.NewInt(tc.in), tc.decimals); got != tc.want {
			t.Fatalf("Format(%d, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
	if got := Format(nil, 6); got != "0" {
		t.Fatalf("expected nil to format as 0, got %s", got)
	}
}
