// Package subscription holds the plan tiers and the feature policy they
// imply.  The policy values are handed to the storage layer explicitly; no
// other package consults the tier directly.
package subscription

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/localstore"
)

// Tier is a subscription plan.
type Tier string

const (
	TierFree Tier = "free"

	TierPremiumMonthly  Tier = "premium_monthly"
	TierPremiumYearly   Tier = "premium_yearly"
	TierPremiumLifetime Tier = "premium_lifetime"

	TierFamilyMonthly  Tier = "family_care_monthly"
	TierFamilyYearly   Tier = "family_care_yearly"
	TierFamilyLifetime Tier = "family_care_lifetime"
)

// FreeMedicationLimit is the number of medications the free tier admits.
const FreeMedicationLimit = 5

// FreeRetentionDays is how much dose history the free tier keeps visible.
const FreeRetentionDays = 30

const subscriptionMeta = "subscription"

// Subscription is the stored plan state.  A zero ExpiresAt means the plan
// does not expire (free and lifetime tiers).
type Subscription struct {
	Tier        Tier      `json:"tier"`
	PurchasedAt time.Time `json:"purchasedAt,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

func (s Subscription) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

func (s Subscription) premium() bool {
	switch s.Tier {
	case TierPremiumMonthly, TierPremiumYearly, TierPremiumLifetime,
		TierFamilyMonthly, TierFamilyYearly, TierFamilyLifetime:
		return true
	}
	return false
}

func (s Subscription) familyCare() bool {
	switch s.Tier {
	case TierFamilyMonthly, TierFamilyYearly, TierFamilyLifetime:
		return true
	}
	return false
}

// Manager reads and updates the stored subscription and answers feature
// policy questions for the current plan.
type Manager struct {
	store *localstore.Store
	now   func() time.Time
}

type ManagerOpt func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ManagerOpt {
	return func(m *Manager) { m.now = now }
}

func New(store *localstore.Store, opts ...ManagerOpt) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the active subscription.  An expired plan reads as free;
// there is no grace period.
func (m *Manager) Current() Subscription {
	raw, ok, err := m.store.GetMeta(subscriptionMeta)
	if err != nil || !ok {
		return Subscription{Tier: TierFree}
	}
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return Subscription{Tier: TierFree}
	}
	if sub.Tier == "" || sub.expired(m.now()) {
		return Subscription{Tier: TierFree}
	}
	return sub
}

// Set stores a new subscription state.
func (m *Manager) Set(sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("while marshaling subscription: %w", err)
	}
	if err := m.store.SetMeta(subscriptionMeta, raw); err != nil {
		return fmt.Errorf("while storing subscription: %w", err)
	}
	return nil
}

// CanAddMedication reports whether the current plan admits one more
// medication on top of `current`.
func (m *Manager) CanAddMedication(current int) bool {
	if m.Current().premium() {
		return true
	}
	return current < FreeMedicationLimit
}

// Retention returns the dose-history window the current plan grants.
func (m *Manager) Retention() dbtypes.RetentionPolicy {
	if m.Current().premium() {
		return dbtypes.RetentionPolicy{}
	}
	return dbtypes.RetentionPolicy{Days: FreeRetentionDays}
}

// FamilyCare reports whether family alerting features are unlocked.
func (m *Manager) FamilyCare() bool {
	return m.Current().familyCare()
}
