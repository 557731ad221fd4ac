package types

import "testing"

func TestMulDivRound(t *testing.T) {
	cases := []struct {
		a, b, c int64
		want    int64
	}{
		{3333, 6000, 10000, 2000}, // 1999.8
		{10000, 7000, 10000, 7000},
		{5, 1, 2, 3},   // 2.5 rounds up
		{-5, 1, 2, -3}, // symmetric for compensating records
		{4, 1, 3, 1},
		{10000, 1200, 10000, 1200},
		{1 << 40, 1 << 20, 1 << 30, 1 << 30},
	}
	for _, tc := range cases {
		if got := MulDivRound(tc.a, tc.b, tc.c); got != tc.want {
			t.Errorf("MulDivRound(%d, %d, %d) = %d, want %d", tc.a, tc.b, tc.c, got, tc.want)
		}
	}
}

func TestParsePercent(t *testing.T) {
	cases := []struct {
		in      string
		want    BasisPoints
		wantErr bool
	}{
		{"12", 1200, false},
		{"12.5", 1250, false},
		{"0.01", 1, false},
		{"100", 10000, false},
		{"12.345", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParsePercent(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParsePercent(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParsePercent(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseMultiplierAndAmount(t *testing.T) {
	if bp, err := ParseMultiplier("1.5"); err != nil || bp != 15000 {
		t.Fatalf("ParseMultiplier(1.5) = %d, %v", bp, err)
	}
	if amt, err := ParseAmount("50.00"); err != nil || amt != 5000 {
		t.Fatalf("ParseAmount(50.00) = %d, %v", amt, err)
	}
	if _, err := ParseAmount("1.001"); err == nil {
		t.Fatal("expected error for sub-centavo amount")
	}
	if got := FormatAmount(3333); got != "33.33" {
		t.Fatalf("FormatAmount(3333) = %s", got)
	}
}
