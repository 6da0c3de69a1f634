package subscription

import (
	"testing"
	"time"

	"github.com/israfil-hossain/mediremind/localstore"
)

func newTestManager(t *testing.T, now time.Time) *Manager {
	t.Helper()

	store, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(store, WithClock(func() time.Time { return now }))
}

func TestDefaultsToFree(t *testing.T) {
	m := newTestManager(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	if got := m.Current().Tier; got != TierFree {
		t.Errorf("Default tier: got %q, want %q", got, TierFree)
	}
	if m.FamilyCare() {
		t.Errorf("Free tier unlocks family care")
	}
	if got := m.Retention().Days; got != FreeRetentionDays {
		t.Errorf("Free retention: got %d days, want %d", got, FreeRetentionDays)
	}
}

func TestFreeMedicationLimit(t *testing.T) {
	m := newTestManager(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	if !m.CanAddMedication(FreeMedicationLimit - 1) {
		t.Errorf("Free tier rejects medication %d", FreeMedicationLimit)
	}
	if m.CanAddMedication(FreeMedicationLimit) {
		t.Errorf("Free tier admits medication %d", FreeMedicationLimit+1)
	}
}

func TestPremiumLiftsLimits(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, now)

	sub := Subscription{Tier: TierPremiumYearly, ExpiresAt: now.AddDate(1, 0, 0)}
	if err := m.Set(sub); err != nil {
		t.Fatalf("Storing subscription: %v", err)
	}

	if !m.CanAddMedication(100) {
		t.Errorf("Premium tier enforces a medication limit")
	}
	if !m.Retention().Unlimited() {
		t.Errorf("Premium retention not unlimited: %+v", m.Retention())
	}
	if m.FamilyCare() {
		t.Errorf("Premium tier unlocks family care")
	}
}

func TestFamilyCareTier(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, now)

	if err := m.Set(Subscription{Tier: TierFamilyLifetime}); err != nil {
		t.Fatalf("Storing subscription: %v", err)
	}
	if !m.FamilyCare() {
		t.Errorf("Family lifetime tier does not unlock family care")
	}
}

func TestExpiredPlanRevertsToFree(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, now)

	sub := Subscription{Tier: TierPremiumMonthly, ExpiresAt: now.AddDate(0, -1, 0)}
	if err := m.Set(sub); err != nil {
		t.Fatalf("Storing subscription: %v", err)
	}

	if got := m.Current().Tier; got != TierFree {
		t.Errorf("Expired plan reads as %q, want %q", got, TierFree)
	}
	if m.CanAddMedication(FreeMedicationLimit) {
		t.Errorf("Expired plan still lifts the medication limit")
	}
}

func TestLifetimeNeverExpires(t *testing.T) {
	now := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, now)

	if err := m.Set(Subscription{Tier: TierPremiumLifetime}); err != nil {
		t.Fatalf("Storing subscription: %v", err)
	}
	if got := m.Current().Tier; got != TierPremiumLifetime {
		t.Errorf("Lifetime plan reads as %q, want %q", got, TierPremiumLifetime)
	}
}
