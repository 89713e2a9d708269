package models

import "testing"

func TestTierOrdering(t *testing.T) {
	if !TierPro.AtLeast(TierFree) {
		t.Fatalf("pro must rank above free")
	}
	if TierFree.AtLeast(TierStarter) {
		t.Fatalf("free must not reach starter")
	}
	if !TierBasic.AtLeast(TierBasic) {
		t.Fatalf("a tier reaches itself")
	}
	if Tier("mystery").AtLeast(TierFree) {
		t.Fatalf("unknown tiers rank below free")
	}
	if !TierFree.AtLeast("") {
		t.Fatalf("an empty minimum gates nothing")
	}
}

func TestParseTier(t *testing.T) {
	if got := ParseTier(" Pro "); got != TierPro {
		t.Fatalf("expected pro, got %s", got)
	}
	if got := ParseTier("enterprise"); got != TierFree {
		t.Fatalf("unknown tiers default to free, got %s", got)
	}
}
