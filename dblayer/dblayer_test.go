package dblayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/localstore"
)

type notification struct {
	Collection dbtypes.Collection
	Action     dbtypes.Action
	ID         string
}

type recordingNotifier struct {
	notifications []notification
}

func (r *recordingNotifier) SyncOrQueue(ctx context.Context, col dbtypes.Collection, action dbtypes.Action, id string, entity any) {
	r.notifications = append(r.notifications, notification{Collection: col, Action: action, ID: id})
}

type fixedQuota struct {
	limit int
}

func (q fixedQuota) CanAddMedication(current int) bool {
	return q.limit <= 0 || current < q.limit
}

func newTestDB(t *testing.T, quota QuotaPolicy) (*DB, *recordingNotifier, *localstore.Store) {
	t.Helper()

	store, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	db := New(store, notifier, quota)
	return db, notifier, store
}

func TestAddMedication(t *testing.T) {
	db, notifier, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Metformin", Dosage: "500mg", Times: []string{"08:00", "20:00"}}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}
	if med.ID == "" {
		t.Errorf("AddMedication assigned no id")
	}

	meds, err := db.Medications(context.Background())
	if err != nil {
		t.Fatalf("Listing medications: %v", err)
	}
	if diff := cmp.Diff([]dbtypes.Medication{*med}, meds); diff != "" {
		t.Errorf("Stored medications differ (-want +got):\n%s", diff)
	}

	want := []notification{{Collection: dbtypes.CollectionMedications, Action: dbtypes.ActionAdd, ID: med.ID}}
	if diff := cmp.Diff(want, notifier.notifications); diff != "" {
		t.Errorf("Sync notifications differ (-want +got):\n%s", diff)
	}
}

func TestAddMedicationEmptyName(t *testing.T) {
	db, _, _ := newTestDB(t, fixedQuota{})

	err := db.AddMedication(context.Background(), &dbtypes.Medication{})
	if !errors.Is(err, ErrNameMustNotBeEmpty) {
		t.Errorf("Adding nameless medication: got %v, want %v", err, ErrNameMustNotBeEmpty)
	}
}

func TestAddMedicationQuotaReached(t *testing.T) {
	db, notifier, _ := newTestDB(t, fixedQuota{limit: 1})

	if err := db.AddMedication(context.Background(), &dbtypes.Medication{Name: "First"}); err != nil {
		t.Fatalf("Adding first medication: %v", err)
	}

	err := db.AddMedication(context.Background(), &dbtypes.Medication{Name: "Second"})
	if !errors.Is(err, ErrMedicationLimitReached) {
		t.Fatalf("Adding over-quota medication: got %v, want %v", err, ErrMedicationLimitReached)
	}

	// The rejected add must leave no trace.
	meds, err := db.Medications(context.Background())
	if err != nil {
		t.Fatalf("Listing medications: %v", err)
	}
	if len(meds) != 1 {
		t.Errorf("Medication count after rejected add: got %d, want 1", len(meds))
	}
	if len(notifier.notifications) != 1 {
		t.Errorf("Notification count after rejected add: got %d, want 1", len(notifier.notifications))
	}
}

func TestUpdateMedicationNotFound(t *testing.T) {
	db, _, _ := newTestDB(t, fixedQuota{})

	err := db.UpdateMedication(context.Background(), &dbtypes.Medication{ID: "ghost", Name: "Ghost"})
	if !errors.Is(err, ErrMedicationNotFound) {
		t.Errorf("Updating unknown medication: got %v, want %v", err, ErrMedicationNotFound)
	}
}

func TestDeleteMedicationKeepsDoseHistory(t *testing.T) {
	db, notifier, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Aspirin"}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}
	if _, err := db.RecordDose(context.Background(), med.ID, true); err != nil {
		t.Fatalf("Recording dose: %v", err)
	}

	if err := db.DeleteMedication(context.Background(), med.ID); err != nil {
		t.Fatalf("Deleting medication: %v", err)
	}

	meds, err := db.Medications(context.Background())
	if err != nil {
		t.Fatalf("Listing medications: %v", err)
	}
	if len(meds) != 0 {
		t.Errorf("Medication count after delete: got %d, want 0", len(meds))
	}

	events, err := db.DoseEvents(context.Background(), dbtypes.RetentionPolicy{})
	if err != nil {
		t.Fatalf("Listing dose events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Dose event count after medication delete: got %d, want 1", len(events))
	}

	last := notifier.notifications[len(notifier.notifications)-1]
	want := notification{Collection: dbtypes.CollectionMedications, Action: dbtypes.ActionDelete, ID: med.ID}
	if last != want {
		t.Errorf("Final notification: got %+v, want %+v", last, want)
	}
}

func TestRecordDoseDecrementsSupply(t *testing.T) {
	db, notifier, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Aspirin", CurrentSupply: 2, TotalSupply: 30}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}

	event, err := db.RecordDose(context.Background(), med.ID, true)
	if err != nil {
		t.Fatalf("Recording dose: %v", err)
	}
	if !event.Taken {
		t.Errorf("Recorded event not marked taken")
	}

	got, err := db.Medication(context.Background(), med.ID)
	if err != nil {
		t.Fatalf("Reading medication: %v", err)
	}
	if got.CurrentSupply != 1 {
		t.Errorf("Supply after taken dose: got %d, want 1", got.CurrentSupply)
	}

	// A taken dose syncs both the event and the updated medication.
	want := []notification{
		{Collection: dbtypes.CollectionMedications, Action: dbtypes.ActionAdd, ID: med.ID},
		{Collection: dbtypes.CollectionDoseEvents, Action: dbtypes.ActionAdd, ID: event.ID},
		{Collection: dbtypes.CollectionMedications, Action: dbtypes.ActionUpdate, ID: med.ID},
	}
	if diff := cmp.Diff(want, notifier.notifications); diff != "" {
		t.Errorf("Sync notifications differ (-want +got):\n%s", diff)
	}
}

func TestRecordDoseSupplyClampedAtZero(t *testing.T) {
	db, _, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Aspirin", CurrentSupply: 1}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := db.RecordDose(context.Background(), med.ID, true); err != nil {
			t.Fatalf("Recording dose %d: %v", i, err)
		}
	}

	got, err := db.Medication(context.Background(), med.ID)
	if err != nil {
		t.Fatalf("Reading medication: %v", err)
	}
	if got.CurrentSupply != 0 {
		t.Errorf("Supply after exhausting doses: got %d, want 0", got.CurrentSupply)
	}
}

func TestRecordDoseMissedLeavesSupply(t *testing.T) {
	db, _, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Aspirin", CurrentSupply: 5}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}

	if _, err := db.RecordDose(context.Background(), med.ID, false); err != nil {
		t.Fatalf("Recording missed dose: %v", err)
	}

	got, err := db.Medication(context.Background(), med.ID)
	if err != nil {
		t.Fatalf("Reading medication: %v", err)
	}
	if got.CurrentSupply != 5 {
		t.Errorf("Supply after missed dose: got %d, want 5", got.CurrentSupply)
	}
}

func TestRecordRefill(t *testing.T) {
	db, _, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Aspirin", CurrentSupply: 3, TotalSupply: 30}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}

	updated, err := db.RecordRefill(context.Background(), med.ID)
	if err != nil {
		t.Fatalf("Recording refill: %v", err)
	}
	if updated.CurrentSupply != 30 {
		t.Errorf("Supply after refill: got %d, want 30", updated.CurrentSupply)
	}
	if updated.LastRefillDate.IsZero() {
		t.Errorf("LastRefillDate not set by refill")
	}
}

func TestDoseEventsRetentionAndOrder(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	db, _, _ := newTestDB(t, fixedQuota{})
	db.now = func() time.Time { return now }

	med := &dbtypes.Medication{Name: "Aspirin"}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}

	for _, age := range []time.Duration{45 * 24 * time.Hour, 10 * 24 * time.Hour, time.Hour} {
		db.now = func() time.Time { return now.Add(-age) }
		if _, err := db.RecordDose(context.Background(), med.ID, true); err != nil {
			t.Fatalf("Recording dose: %v", err)
		}
	}
	db.now = func() time.Time { return now }

	events, err := db.DoseEvents(context.Background(), dbtypes.RetentionPolicy{Days: 30})
	if err != nil {
		t.Fatalf("Listing dose events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Dose event count under 30-day retention: got %d, want 2", len(events))
	}
	if events[0].Timestamp.Before(events[1].Timestamp) {
		t.Errorf("Dose events not newest first: %v before %v", events[0].Timestamp, events[1].Timestamp)
	}

	all, err := db.DoseEvents(context.Background(), dbtypes.RetentionPolicy{})
	if err != nil {
		t.Fatalf("Listing dose events: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Dose event count without retention: got %d, want 3", len(all))
	}
}

func TestTodaysDoses(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	db, _, _ := newTestDB(t, fixedQuota{})

	med := &dbtypes.Medication{Name: "Aspirin"}
	if err := db.AddMedication(context.Background(), med); err != nil {
		t.Fatalf("Adding medication: %v", err)
	}

	db.now = func() time.Time { return now.AddDate(0, 0, -1) }
	if _, err := db.RecordDose(context.Background(), med.ID, true); err != nil {
		t.Fatalf("Recording yesterday's dose: %v", err)
	}

	db.now = func() time.Time { return now }
	today, err := db.RecordDose(context.Background(), med.ID, true)
	if err != nil {
		t.Fatalf("Recording today's dose: %v", err)
	}

	got, err := db.TodaysDoses(context.Background())
	if err != nil {
		t.Fatalf("Listing today's doses: %v", err)
	}
	if len(got) != 1 || got[0].ID != today.ID {
		t.Errorf("Today's doses: got %d events, want just %s", len(got), today.ID)
	}
}

func TestPrescriptionsNewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	db, _, _ := newTestDB(t, fixedQuota{})

	db.now = func() time.Time { return now.AddDate(0, 0, -7) }
	if err := db.AddPrescription(context.Background(), &dbtypes.Prescription{Title: "Older"}); err != nil {
		t.Fatalf("Adding prescription: %v", err)
	}
	db.now = func() time.Time { return now }
	if err := db.AddPrescription(context.Background(), &dbtypes.Prescription{Title: "Newer"}); err != nil {
		t.Fatalf("Adding prescription: %v", err)
	}

	ps, err := db.Prescriptions(context.Background())
	if err != nil {
		t.Fatalf("Listing prescriptions: %v", err)
	}
	var titles []string
	for _, p := range ps {
		titles = append(titles, p.Title)
	}
	if diff := cmp.Diff([]string{"Newer", "Older"}, titles); diff != "" {
		t.Errorf("Prescription order differs (-want +got):\n%s", diff)
	}
}

func TestDeletePrescription(t *testing.T) {
	db, notifier, _ := newTestDB(t, fixedQuota{})

	p := &dbtypes.Prescription{Title: "Checkup"}
	if err := db.AddPrescription(context.Background(), p); err != nil {
		t.Fatalf("Adding prescription: %v", err)
	}
	if err := db.DeletePrescription(context.Background(), p.ID); err != nil {
		t.Fatalf("Deleting prescription: %v", err)
	}

	if err := db.DeletePrescription(context.Background(), p.ID); !errors.Is(err, ErrPrescriptionNotFound) {
		t.Errorf("Deleting twice: got %v, want %v", err, ErrPrescriptionNotFound)
	}

	last := notifier.notifications[len(notifier.notifications)-1]
	want := notification{Collection: dbtypes.CollectionPrescriptions, Action: dbtypes.ActionDelete, ID: p.ID}
	if last != want {
		t.Errorf("Final notification: got %+v, want %+v", last, want)
	}
}

func TestUserProfileRoundTrip(t *testing.T) {
	db, notifier, _ := newTestDB(t, fixedQuota{})

	empty, err := db.UserProfile(context.Background())
	if err != nil {
		t.Fatalf("Reading unset profile: %v", err)
	}
	if diff := cmp.Diff(&dbtypes.UserProfile{}, empty); diff != "" {
		t.Errorf("Unset profile differs from empty (-want +got):\n%s", diff)
	}

	p := &dbtypes.UserProfile{Name: "Ayesha", BloodGroup: "O+"}
	if err := db.SetUserProfile(context.Background(), p); err != nil {
		t.Fatalf("Storing profile: %v", err)
	}

	got, err := db.UserProfile(context.Background())
	if err != nil {
		t.Fatalf("Reading profile: %v", err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("Profile round trip differs (-want +got):\n%s", diff)
	}

	want := []notification{{Collection: dbtypes.CollectionUserProfile, Action: dbtypes.ActionUpdate, ID: dbtypes.UserProfileDocID}}
	if diff := cmp.Diff(want, notifier.notifications); diff != "" {
		t.Errorf("Sync notifications differ (-want +got):\n%s", diff)
	}
}

func TestFamilyProfileActiveSelection(t *testing.T) {
	db, _, _ := newTestDB(t, fixedQuota{})

	fp := &dbtypes.FamilyProfile{Name: "Rahim", Relationship: "Parent", Email: "rahim@example.com"}
	if err := db.AddFamilyProfile(context.Background(), fp); err != nil {
		t.Fatalf("Adding family profile: %v", err)
	}

	if err := db.SetActiveFamilyProfile(context.Background(), "ghost"); !errors.Is(err, ErrFamilyProfileNotFound) {
		t.Errorf("Selecting unknown profile: got %v, want %v", err, ErrFamilyProfileNotFound)
	}

	if err := db.SetActiveFamilyProfile(context.Background(), fp.ID); err != nil {
		t.Fatalf("Selecting profile: %v", err)
	}
	active, err := db.ActiveFamilyProfile(context.Background())
	if err != nil {
		t.Fatalf("Reading active profile: %v", err)
	}
	if active != fp.ID {
		t.Errorf("Active profile: got %q, want %q", active, fp.ID)
	}

	// Deleting the active profile clears the selection.
	if err := db.DeleteFamilyProfile(context.Background(), fp.ID); err != nil {
		t.Fatalf("Deleting family profile: %v", err)
	}
	active, err = db.ActiveFamilyProfile(context.Background())
	if err != nil {
		t.Fatalf("Reading active profile: %v", err)
	}
	if active != "" {
		t.Errorf("Active profile after delete: got %q, want \"\"", active)
	}
}
