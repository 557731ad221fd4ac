package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pricing.DefaultVATBP != 1200 {
		t.Errorf("DefaultVATBP = %d, want 1200", cfg.Pricing.DefaultVATBP)
	}
	if cfg.Pricing.PlatformRecipientID != "park-angel" {
		t.Errorf("PlatformRecipientID = %q", cfg.Pricing.PlatformRecipientID)
	}
	if cfg.Remittance.TransferTimeout != 15*time.Second {
		t.Errorf("TransferTimeout = %v", cfg.Remittance.TransferTimeout)
	}
	if cfg.Remittance.AbandonAfter != 26*time.Hour {
		t.Errorf("AbandonAfter = %v", cfg.Remittance.AbandonAfter)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PARKANGEL_REMIT_PARTITIONS", "4")
	t.Setenv("PARKANGEL_REMIT_TRANSFER_TIMEOUT", "3s")
	t.Setenv("PARKANGEL_DEFAULT_VAT_BP", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remittance.Partitions != 4 || cfg.Remittance.TransferTimeout != 3*time.Second || cfg.Pricing.DefaultVATBP != 0 {
		t.Fatalf("unexpected overrides: %+v", cfg.Remittance)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"PARKANGEL_REMIT_PARTITIONS":       "many",
		"PARKANGEL_REMIT_TRANSFER_TIMEOUT": "soon",
		"PARKANGEL_TIMEZONE":               "Mars/Olympus",
		"PARKANGEL_DEFAULT_BASE_RATE":      "1.5",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
