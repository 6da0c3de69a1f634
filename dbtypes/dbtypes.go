// Package dbtypes holds the entity types shared by the local store, the sync
// layer, and the analytics engine.
package dbtypes

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"
)

// Collection names a logical group of entities.  The same names are used as
// local store keys and as remote document collection ids under
// users/{uid}/{collection}/{id}.
type Collection string

const (
	CollectionMedications    Collection = "medications"
	CollectionDoseEvents     Collection = "dose_events"
	CollectionPrescriptions  Collection = "prescriptions"
	CollectionFamilyProfiles Collection = "family_profiles"

	// CollectionUserProfile holds a single document per user.
	CollectionUserProfile Collection = "user_profile"
)

// UserProfileDocID is the fixed document id of the user profile, since the
// collection only ever holds one document.
const UserProfileDocID = "main"

// Action is the kind of mutation carried by a PendingOperation.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// DurationOngoing is the Medication.DurationDays sentinel for an open-ended
// course.
const DurationOngoing int64 = 0

// Medication is a medication with its dosing schedule and supply tracking.
type Medication struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Dosage string `json:"dosage"`

	// Times holds the scheduled times of day, as "HH:MM" strings in the
	// order they occur.
	Times []string `json:"times"`

	StartDate time.Time `json:"startDate"`

	// DurationDays is the length of the course in days, or DurationOngoing.
	DurationDays int64 `json:"durationDays"`

	Color           string `json:"color"`
	ReminderEnabled bool   `json:"reminderEnabled"`

	// CurrentSupply counts doses on hand.  It only decreases as doses are
	// taken (clamped at zero) and only increases on an explicit refill.
	CurrentSupply  int64 `json:"currentSupply"`
	TotalSupply    int64 `json:"totalSupply"`
	RefillAt       int64 `json:"refillAt"`
	RefillReminder bool  `json:"refillReminder"`

	// LastRefillDate is zero if the medication has never been refilled.
	LastRefillDate time.Time `json:"lastRefillDate,omitempty"`
}

// DoseEvent records a single dose as taken or missed.  Events are append-only
// once written; analytics reads them, nothing rewrites them.
type DoseEvent struct {
	ID           string `json:"id"`
	MedicationID string `json:"medicationId"`

	// Timestamp is the instant the dose was recorded, which is not
	// necessarily the scheduled time.
	Timestamp time.Time `json:"timestamp"`

	Taken bool `json:"taken"`
}

// Prescription is a stored prescription record.  All fields are flat strings
// or timestamps so the remote document mapping stays field-for-field.
type Prescription struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	PrescriptionDate time.Time `json:"prescriptionDate"`

	PatientName string `json:"patientName,omitempty"`
	PatientAge  string `json:"patientAge,omitempty"`

	DoctorName      string `json:"doctorName,omitempty"`
	DoctorSpecialty string `json:"doctorSpecialty,omitempty"`
	DoctorPhone     string `json:"doctorPhone,omitempty"`

	HospitalName string `json:"hospitalName,omitempty"`

	Symptoms  string `json:"symptoms,omitempty"`
	Diagnosis string `json:"diagnosis,omitempty"`
	Notes     string `json:"notes,omitempty"`

	NextVisitDate string `json:"nextVisitDate,omitempty"`
	ImageURI      string `json:"imageUri,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// UserProfile is the personal health profile of the signed-in user.
type UserProfile struct {
	Name              string `json:"name,omitempty"`
	Age               string `json:"age,omitempty"`
	Address           string `json:"address,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Email             string `json:"email,omitempty"`
	BloodGroup        string `json:"bloodGroup,omitempty"`
	Allergies         string `json:"allergies,omitempty"`
	ChronicConditions string `json:"chronicConditions,omitempty"`
	EmergencyContact  string `json:"emergencyContact,omitempty"`
	EmergencyPhone    string `json:"emergencyPhone,omitempty"`
	DateOfBirth       string `json:"dateOfBirth,omitempty"`
	Gender            string `json:"gender,omitempty"`
}

// FamilyProfile is a family member who can be alerted about missed doses.
type FamilyProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Relationship is "Self", "Spouse", "Parent", "Child", or "Other".
	Relationship string `json:"relationship"`

	// Email receives missed-medication alerts when set.
	Email string `json:"email,omitempty"`

	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Notes       string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PendingOperation is one queued mutation awaiting remote confirmation.
//
// Payload carries the full entity for add/update and an id-only object for
// delete, so replaying an operation is last-write-wins at the remote layer
// rather than a diff application.
type PendingOperation struct {
	ID         string          `json:"id"`
	Collection Collection      `json:"collection"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// DeletePayload is the id-only payload carried by delete operations.
type DeletePayload struct {
	ID string `json:"id"`
}

// RetentionPolicy limits how far back dose history queries reach.  The zero
// value keeps everything.  The policy decision (how many days a tier gets)
// lives in the subscription package; the store only applies the value it is
// handed.
type RetentionPolicy struct {
	Days int
}

// Unlimited reports whether the policy keeps all history.
func (p RetentionPolicy) Unlimited() bool { return p.Days <= 0 }

// Cutoff returns the oldest timestamp the policy admits.  The second return
// is false for an unlimited policy.
func (p RetentionPolicy) Cutoff(now time.Time) (time.Time, bool) {
	if p.Unlimited() {
		return time.Time{}, false
	}
	return now.AddDate(0, 0, -p.Days), true
}

// NewID returns a fresh opaque entity id.
func NewID() string {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
