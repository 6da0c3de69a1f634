// Package dblayer packages up the application's storage operations.  Every
// mutation commits to the local store first, then hands the entity to the
// sync layer, so the app behaves identically online and offline.
package dblayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/localstore"
)

var (
	ErrNameMustNotBeEmpty     = errors.New("name must not be empty")
	ErrMedicationNotFound     = errors.New("no medication with that id")
	ErrMedicationLimitReached = errors.New("medication limit reached for the current plan")
	ErrPrescriptionNotFound   = errors.New("no prescription with that id")
	ErrFamilyProfileNotFound  = errors.New("no family profile with that id")
)

// RemoteNotifier receives entities after their local write commits.  The sync
// coordinator implements it; tests substitute a recorder.
type RemoteNotifier interface {
	SyncOrQueue(ctx context.Context, col dbtypes.Collection, action dbtypes.Action, id string, entity any)
}

// QuotaPolicy decides whether the current plan admits another medication.
type QuotaPolicy interface {
	CanAddMedication(current int) bool
}

type DB struct {
	store  *localstore.Store
	remote RemoteNotifier
	quota  QuotaPolicy
	now    func() time.Time
}

type DBOpt func(*DB)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) DBOpt {
	return func(db *DB) { db.now = now }
}

func New(store *localstore.Store, remote RemoteNotifier, quota QuotaPolicy, opts ...DBOpt) *DB {
	db := &DB{
		store:  store,
		remote: remote,
		quota:  quota,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Medications returns all stored medications.
func (db *DB) Medications(ctx context.Context) ([]dbtypes.Medication, error) {
	var meds []dbtypes.Medication
	if err := db.store.List(dbtypes.CollectionMedications, &meds); err != nil {
		return nil, fmt.Errorf("while listing medications: %w", err)
	}
	return meds, nil
}

// Medication returns one medication by id.
func (db *DB) Medication(ctx context.Context, id string) (*dbtypes.Medication, error) {
	var meds []dbtypes.Medication
	if err := db.store.List(dbtypes.CollectionMedications, &meds); err != nil {
		return nil, fmt.Errorf("while listing medications: %w", err)
	}
	for i := range meds {
		if meds[i].ID == id {
			return &meds[i], nil
		}
	}
	return nil, ErrMedicationNotFound
}

// AddMedication stores a new medication.  The quota check runs before
// anything persists, so a rejected add leaves no trace locally or queued.
func (db *DB) AddMedication(ctx context.Context, med *dbtypes.Medication) error {
	if med.Name == "" {
		return ErrNameMustNotBeEmpty
	}
	if med.ID == "" {
		med.ID = dbtypes.NewID()
	}

	var meds []dbtypes.Medication
	err := db.store.Update(dbtypes.CollectionMedications, &meds, func() (bool, error) {
		if !db.quota.CanAddMedication(len(meds)) {
			return false, ErrMedicationLimitReached
		}
		meds = append(meds, *med)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrMedicationLimitReached) {
			return ErrMedicationLimitReached
		}
		return fmt.Errorf("while storing medication: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionAdd, med.ID, med)
	return nil
}

// UpdateMedication replaces a stored medication wholesale.
func (db *DB) UpdateMedication(ctx context.Context, med *dbtypes.Medication) error {
	if med.Name == "" {
		return ErrNameMustNotBeEmpty
	}

	var meds []dbtypes.Medication
	err := db.store.Update(dbtypes.CollectionMedications, &meds, func() (bool, error) {
		for i := range meds {
			if meds[i].ID == med.ID {
				meds[i] = *med
				return true, nil
			}
		}
		return false, ErrMedicationNotFound
	})
	if err != nil {
		if errors.Is(err, ErrMedicationNotFound) {
			return ErrMedicationNotFound
		}
		return fmt.Errorf("while updating medication: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionUpdate, med.ID, med)
	return nil
}

// DeleteMedication removes a medication.  Its dose history is kept; adherence
// reports remain meaningful for discontinued medications.
func (db *DB) DeleteMedication(ctx context.Context, id string) error {
	var meds []dbtypes.Medication
	err := db.store.Update(dbtypes.CollectionMedications, &meds, func() (bool, error) {
		for i := range meds {
			if meds[i].ID == id {
				meds = append(meds[:i], meds[i+1:]...)
				return true, nil
			}
		}
		return false, ErrMedicationNotFound
	})
	if err != nil {
		if errors.Is(err, ErrMedicationNotFound) {
			return ErrMedicationNotFound
		}
		return fmt.Errorf("while deleting medication: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionDelete, id, nil)
	return nil
}

// RecordDose appends a dose event for a medication and, for a taken dose,
// decrements the medication's supply count.  The supply never goes below
// zero even if more doses are recorded than were on hand.
func (db *DB) RecordDose(ctx context.Context, medicationID string, taken bool) (*dbtypes.DoseEvent, error) {
	event := &dbtypes.DoseEvent{
		ID:           dbtypes.NewID(),
		MedicationID: medicationID,
		Timestamp:    db.now(),
		Taken:        taken,
	}

	var events []dbtypes.DoseEvent
	err := db.store.Update(dbtypes.CollectionDoseEvents, &events, func() (bool, error) {
		events = append(events, *event)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("while storing dose event: %w", err)
	}
	db.remote.SyncOrQueue(ctx, dbtypes.CollectionDoseEvents, dbtypes.ActionAdd, event.ID, event)

	if taken {
		if err := db.decrementSupply(ctx, medicationID); err != nil {
			return nil, err
		}
	}
	return event, nil
}

func (db *DB) decrementSupply(ctx context.Context, medicationID string) error {
	var updated *dbtypes.Medication
	var meds []dbtypes.Medication
	err := db.store.Update(dbtypes.CollectionMedications, &meds, func() (bool, error) {
		for i := range meds {
			if meds[i].ID != medicationID {
				continue
			}
			if meds[i].CurrentSupply <= 0 {
				return false, nil
			}
			meds[i].CurrentSupply--
			updated = &meds[i]
			return true, nil
		}
		// The medication may have been deleted between the dose being
		// offered and recorded.  The event still stands.
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("while decrementing supply: %w", err)
	}
	if updated != nil {
		db.remote.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionUpdate, updated.ID, updated)
	}
	return nil
}

// RecordRefill restores a medication's supply to its full count and stamps
// the refill date.
func (db *DB) RecordRefill(ctx context.Context, medicationID string) (*dbtypes.Medication, error) {
	var updated *dbtypes.Medication
	var meds []dbtypes.Medication
	err := db.store.Update(dbtypes.CollectionMedications, &meds, func() (bool, error) {
		for i := range meds {
			if meds[i].ID == medicationID {
				meds[i].CurrentSupply = meds[i].TotalSupply
				meds[i].LastRefillDate = db.now()
				updated = &meds[i]
				return true, nil
			}
		}
		return false, ErrMedicationNotFound
	})
	if err != nil {
		if errors.Is(err, ErrMedicationNotFound) {
			return nil, ErrMedicationNotFound
		}
		return nil, fmt.Errorf("while recording refill: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionMedications, dbtypes.ActionUpdate, updated.ID, updated)
	return updated, nil
}

// DoseEvents returns dose history newest first, trimmed to the given
// retention policy.
func (db *DB) DoseEvents(ctx context.Context, policy dbtypes.RetentionPolicy) ([]dbtypes.DoseEvent, error) {
	var events []dbtypes.DoseEvent
	if err := db.store.List(dbtypes.CollectionDoseEvents, &events); err != nil {
		return nil, fmt.Errorf("while listing dose events: %w", err)
	}

	if cutoff, ok := policy.Cutoff(db.now()); ok {
		kept := events[:0]
		for _, e := range events {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		events = kept
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events, nil
}

// TodaysDoses returns the dose events recorded on the current local day.
func (db *DB) TodaysDoses(ctx context.Context) ([]dbtypes.DoseEvent, error) {
	var events []dbtypes.DoseEvent
	if err := db.store.List(dbtypes.CollectionDoseEvents, &events); err != nil {
		return nil, fmt.Errorf("while listing dose events: %w", err)
	}

	now := db.now()
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var today []dbtypes.DoseEvent
	for _, e := range events {
		ts := e.Timestamp.In(now.Location())
		if !ts.Before(dayStart) && ts.Before(dayEnd) {
			today = append(today, e)
		}
	}
	return today, nil
}

// Prescriptions returns stored prescriptions newest first.
func (db *DB) Prescriptions(ctx context.Context) ([]dbtypes.Prescription, error) {
	var ps []dbtypes.Prescription
	if err := db.store.List(dbtypes.CollectionPrescriptions, &ps); err != nil {
		return nil, fmt.Errorf("while listing prescriptions: %w", err)
	}
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
	return ps, nil
}

// AddPrescription stores a new prescription record.
func (db *DB) AddPrescription(ctx context.Context, p *dbtypes.Prescription) error {
	if p.Title == "" {
		return ErrNameMustNotBeEmpty
	}
	if p.ID == "" {
		p.ID = dbtypes.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = db.now()
	}

	var ps []dbtypes.Prescription
	err := db.store.Update(dbtypes.CollectionPrescriptions, &ps, func() (bool, error) {
		ps = append(ps, *p)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("while storing prescription: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionPrescriptions, dbtypes.ActionAdd, p.ID, p)
	return nil
}

// UpdatePrescription replaces a stored prescription wholesale.
func (db *DB) UpdatePrescription(ctx context.Context, p *dbtypes.Prescription) error {
	var ps []dbtypes.Prescription
	err := db.store.Update(dbtypes.CollectionPrescriptions, &ps, func() (bool, error) {
		for i := range ps {
			if ps[i].ID == p.ID {
				ps[i] = *p
				return true, nil
			}
		}
		return false, ErrPrescriptionNotFound
	})
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return ErrPrescriptionNotFound
		}
		return fmt.Errorf("while updating prescription: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionPrescriptions, dbtypes.ActionUpdate, p.ID, p)
	return nil
}

// DeletePrescription removes a prescription record.
func (db *DB) DeletePrescription(ctx context.Context, id string) error {
	var ps []dbtypes.Prescription
	err := db.store.Update(dbtypes.CollectionPrescriptions, &ps, func() (bool, error) {
		for i := range ps {
			if ps[i].ID == id {
				ps = append(ps[:i], ps[i+1:]...)
				return true, nil
			}
		}
		return false, ErrPrescriptionNotFound
	})
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return ErrPrescriptionNotFound
		}
		return fmt.Errorf("while deleting prescription: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionPrescriptions, dbtypes.ActionDelete, id, nil)
	return nil
}

// UserProfile returns the stored health profile, or an empty profile if none
// has been saved yet.
func (db *DB) UserProfile(ctx context.Context) (*dbtypes.UserProfile, error) {
	raw, ok, err := db.store.GetMeta(localstore.UserProfileMeta)
	if err != nil {
		return nil, fmt.Errorf("while reading profile: %w", err)
	}
	if !ok {
		return &dbtypes.UserProfile{}, nil
	}
	p := &dbtypes.UserProfile{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("while unmarshaling profile: %w", err)
	}
	return p, nil
}

// SetUserProfile stores the health profile and syncs it as the user's single
// profile document.
func (db *DB) SetUserProfile(ctx context.Context, p *dbtypes.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("while marshaling profile: %w", err)
	}
	if err := db.store.SetMeta(localstore.UserProfileMeta, raw); err != nil {
		return fmt.Errorf("while storing profile: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionUserProfile, dbtypes.ActionUpdate, dbtypes.UserProfileDocID, p)
	return nil
}

// FamilyProfiles returns all family profiles in creation order.
func (db *DB) FamilyProfiles(ctx context.Context) ([]dbtypes.FamilyProfile, error) {
	var fps []dbtypes.FamilyProfile
	if err := db.store.List(dbtypes.CollectionFamilyProfiles, &fps); err != nil {
		return nil, fmt.Errorf("while listing family profiles: %w", err)
	}
	return fps, nil
}

// AddFamilyProfile stores a new family profile.
func (db *DB) AddFamilyProfile(ctx context.Context, fp *dbtypes.FamilyProfile) error {
	if fp.Name == "" {
		return ErrNameMustNotBeEmpty
	}
	if fp.ID == "" {
		fp.ID = dbtypes.NewID()
	}
	now := db.now()
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = now
	}
	fp.UpdatedAt = now

	var fps []dbtypes.FamilyProfile
	err := db.store.Update(dbtypes.CollectionFamilyProfiles, &fps, func() (bool, error) {
		fps = append(fps, *fp)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("while storing family profile: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionFamilyProfiles, dbtypes.ActionAdd, fp.ID, fp)
	return nil
}

// UpdateFamilyProfile replaces a stored family profile wholesale.
func (db *DB) UpdateFamilyProfile(ctx context.Context, fp *dbtypes.FamilyProfile) error {
	fp.UpdatedAt = db.now()

	var fps []dbtypes.FamilyProfile
	err := db.store.Update(dbtypes.CollectionFamilyProfiles, &fps, func() (bool, error) {
		for i := range fps {
			if fps[i].ID == fp.ID {
				fps[i] = *fp
				return true, nil
			}
		}
		return false, ErrFamilyProfileNotFound
	})
	if err != nil {
		if errors.Is(err, ErrFamilyProfileNotFound) {
			return ErrFamilyProfileNotFound
		}
		return fmt.Errorf("while updating family profile: %w", err)
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionFamilyProfiles, dbtypes.ActionUpdate, fp.ID, fp)
	return nil
}

// DeleteFamilyProfile removes a family profile.  If it was the active
// profile, the active selection is cleared.
func (db *DB) DeleteFamilyProfile(ctx context.Context, id string) error {
	var fps []dbtypes.FamilyProfile
	err := db.store.Update(dbtypes.CollectionFamilyProfiles, &fps, func() (bool, error) {
		for i := range fps {
			if fps[i].ID == id {
				fps = append(fps[:i], fps[i+1:]...)
				return true, nil
			}
		}
		return false, ErrFamilyProfileNotFound
	})
	if err != nil {
		if errors.Is(err, ErrFamilyProfileNotFound) {
			return ErrFamilyProfileNotFound
		}
		return fmt.Errorf("while deleting family profile: %w", err)
	}

	if active, _ := db.ActiveFamilyProfile(ctx); active == id {
		if err := db.store.DeleteMeta(localstore.ActiveProfileMeta); err != nil {
			return fmt.Errorf("while clearing active profile: %w", err)
		}
	}

	db.remote.SyncOrQueue(ctx, dbtypes.CollectionFamilyProfiles, dbtypes.ActionDelete, id, nil)
	return nil
}

// ActiveFamilyProfile returns the id of the selected family profile, or ""
// if none is selected.
func (db *DB) ActiveFamilyProfile(ctx context.Context) (string, error) {
	raw, ok, err := db.store.GetMeta(localstore.ActiveProfileMeta)
	if err != nil {
		return "", fmt.Errorf("while reading active profile: %w", err)
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}

// SetActiveFamilyProfile selects a family profile.  The id must refer to a
// stored profile.
func (db *DB) SetActiveFamilyProfile(ctx context.Context, id string) error {
	var fps []dbtypes.FamilyProfile
	if err := db.store.List(dbtypes.CollectionFamilyProfiles, &fps); err != nil {
		return fmt.Errorf("while listing family profiles: %w", err)
	}
	found := false
	for i := range fps {
		if fps[i].ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrFamilyProfileNotFound
	}
	if err := db.store.SetMeta(localstore.ActiveProfileMeta, []byte(id)); err != nil {
		return fmt.Errorf("while storing active profile: %w", err)
	}
	return nil
}
