package docstore

import (
	"fmt"

	"github.com/israfil-hossain/mediremind/dbtypes"
)

// Each entity type carries an explicit schema: a field table pairing the
// remote field name with an encode and a decode function.  Both directions
// are inverses for every field, which is the one bit-exact requirement of the
// remote mapping.
//
// Decoding tolerates absent fields (the struct keeps its zero value) but not
// mistyped ones.

type medicationField struct {
	name   string
	encode func(*dbtypes.Medication) Value
	decode func(*dbtypes.Medication, Value) error
}

var medicationSchema = []medicationField{
	{"id",
		func(m *dbtypes.Medication) Value { return String(m.ID) },
		func(m *dbtypes.Medication, v Value) error { return v.AsString(&m.ID) }},
	{"name",
		func(m *dbtypes.Medication) Value { return String(m.Name) },
		func(m *dbtypes.Medication, v Value) error { return v.AsString(&m.Name) }},
	{"dosage",
		func(m *dbtypes.Medication) Value { return String(m.Dosage) },
		func(m *dbtypes.Medication, v Value) error { return v.AsString(&m.Dosage) }},
	{"times",
		func(m *dbtypes.Medication) Value { return StringArray(m.Times) },
		func(m *dbtypes.Medication, v Value) error { return v.AsStringArray(&m.Times) }},
	{"startDate",
		func(m *dbtypes.Medication) Value { return Timestamp(m.StartDate) },
		func(m *dbtypes.Medication, v Value) error { return v.AsTimestamp(&m.StartDate) }},
	{"durationDays",
		func(m *dbtypes.Medication) Value { return Integer(m.DurationDays) },
		func(m *dbtypes.Medication, v Value) error { return v.AsInteger(&m.DurationDays) }},
	{"color",
		func(m *dbtypes.Medication) Value { return String(m.Color) },
		func(m *dbtypes.Medication, v Value) error { return v.AsString(&m.Color) }},
	{"reminderEnabled",
		func(m *dbtypes.Medication) Value { return Boolean(m.ReminderEnabled) },
		func(m *dbtypes.Medication, v Value) error { return v.AsBoolean(&m.ReminderEnabled) }},
	{"currentSupply",
		func(m *dbtypes.Medication) Value { return Integer(m.CurrentSupply) },
		func(m *dbtypes.Medication, v Value) error { return v.AsInteger(&m.CurrentSupply) }},
	{"totalSupply",
		func(m *dbtypes.Medication) Value { return Integer(m.TotalSupply) },
		func(m *dbtypes.Medication, v Value) error { return v.AsInteger(&m.TotalSupply) }},
	{"refillAt",
		func(m *dbtypes.Medication) Value { return Integer(m.RefillAt) },
		func(m *dbtypes.Medication, v Value) error { return v.AsInteger(&m.RefillAt) }},
	{"refillReminder",
		func(m *dbtypes.Medication) Value { return Boolean(m.RefillReminder) },
		func(m *dbtypes.Medication, v Value) error { return v.AsBoolean(&m.RefillReminder) }},
	{"lastRefillDate",
		func(m *dbtypes.Medication) Value { return Timestamp(m.LastRefillDate) },
		func(m *dbtypes.Medication, v Value) error { return v.AsTimestamp(&m.LastRefillDate) }},
}

func EncodeMedication(m *dbtypes.Medication) Document {
	doc := Document{}
	for _, f := range medicationSchema {
		doc[f.name] = f.encode(m)
	}
	return doc
}

func DecodeMedication(doc Document) (*dbtypes.Medication, error) {
	m := &dbtypes.Medication{}
	for _, f := range medicationSchema {
		v, ok := doc[f.name]
		if !ok {
			continue
		}
		if err := f.decode(m, v); err != nil {
			return nil, fmt.Errorf("while decoding medication field %q: %w", f.name, err)
		}
	}
	return m, nil
}

type doseEventField struct {
	name   string
	encode func(*dbtypes.DoseEvent) Value
	decode func(*dbtypes.DoseEvent, Value) error
}

var doseEventSchema = []doseEventField{
	{"id",
		func(d *dbtypes.DoseEvent) Value { return String(d.ID) },
		func(d *dbtypes.DoseEvent, v Value) error { return v.AsString(&d.ID) }},
	{"medicationId",
		func(d *dbtypes.DoseEvent) Value { return String(d.MedicationID) },
		func(d *dbtypes.DoseEvent, v Value) error { return v.AsString(&d.MedicationID) }},
	{"timestamp",
		func(d *dbtypes.DoseEvent) Value { return Timestamp(d.Timestamp) },
		func(d *dbtypes.DoseEvent, v Value) error { return v.AsTimestamp(&d.Timestamp) }},
	{"taken",
		func(d *dbtypes.DoseEvent) Value { return Boolean(d.Taken) },
		func(d *dbtypes.DoseEvent, v Value) error { return v.AsBoolean(&d.Taken) }},
}

func EncodeDoseEvent(d *dbtypes.DoseEvent) Document {
	doc := Document{}
	for _, f := range doseEventSchema {
		doc[f.name] = f.encode(d)
	}
	return doc
}

func DecodeDoseEvent(doc Document) (*dbtypes.DoseEvent, error) {
	d := &dbtypes.DoseEvent{}
	for _, f := range doseEventSchema {
		v, ok := doc[f.name]
		if !ok {
			continue
		}
		if err := f.decode(d, v); err != nil {
			return nil, fmt.Errorf("while decoding dose event field %q: %w", f.name, err)
		}
	}
	return d, nil
}

type prescriptionField struct {
	name   string
	encode func(*dbtypes.Prescription) Value
	decode func(*dbtypes.Prescription, Value) error
}

func prescriptionString(name string, get func(*dbtypes.Prescription) *string) prescriptionField {
	return prescriptionField{
		name,
		func(p *dbtypes.Prescription) Value { return String(*get(p)) },
		func(p *dbtypes.Prescription, v Value) error { return v.AsString(get(p)) },
	}
}

var prescriptionSchema = []prescriptionField{
	prescriptionString("id", func(p *dbtypes.Prescription) *string { return &p.ID }),
	prescriptionString("title", func(p *dbtypes.Prescription) *string { return &p.Title }),
	{"prescriptionDate",
		func(p *dbtypes.Prescription) Value { return Timestamp(p.PrescriptionDate) },
		func(p *dbtypes.Prescription, v Value) error { return v.AsTimestamp(&p.PrescriptionDate) }},
	prescriptionString("patientName", func(p *dbtypes.Prescription) *string { return &p.PatientName }),
	prescriptionString("patientAge", func(p *dbtypes.Prescription) *string { return &p.PatientAge }),
	prescriptionString("doctorName", func(p *dbtypes.Prescription) *string { return &p.DoctorName }),
	prescriptionString("doctorSpecialty", func(p *dbtypes.Prescription) *string { return &p.DoctorSpecialty }),
	prescriptionString("doctorPhone", func(p *dbtypes.Prescription) *string { return &p.DoctorPhone }),
	prescriptionString("hospitalName", func(p *dbtypes.Prescription) *string { return &p.HospitalName }),
	prescriptionString("symptoms", func(p *dbtypes.Prescription) *string { return &p.Symptoms }),
	prescriptionString("diagnosis", func(p *dbtypes.Prescription) *string { return &p.Diagnosis }),
	prescriptionString("notes", func(p *dbtypes.Prescription) *string { return &p.Notes }),
	prescriptionString("nextVisitDate", func(p *dbtypes.Prescription) *string { return &p.NextVisitDate }),
	prescriptionString("imageUri", func(p *dbtypes.Prescription) *string { return &p.ImageURI }),
	{"createdAt",
		func(p *dbtypes.Prescription) Value { return Timestamp(p.CreatedAt) },
		func(p *dbtypes.Prescription, v Value) error { return v.AsTimestamp(&p.CreatedAt) }},
}

func EncodePrescription(p *dbtypes.Prescription) Document {
	doc := Document{}
	for _, f := range prescriptionSchema {
		doc[f.name] = f.encode(p)
	}
	return doc
}

func DecodePrescription(doc Document) (*dbtypes.Prescription, error) {
	p := &dbtypes.Prescription{}
	for _, f := range prescriptionSchema {
		v, ok := doc[f.name]
		if !ok {
			continue
		}
		if err := f.decode(p, v); err != nil {
			return nil, fmt.Errorf("while decoding prescription field %q: %w", f.name, err)
		}
	}
	return p, nil
}

type familyProfileField struct {
	name   string
	encode func(*dbtypes.FamilyProfile) Value
	decode func(*dbtypes.FamilyProfile, Value) error
}

func familyProfileString(name string, get func(*dbtypes.FamilyProfile) *string) familyProfileField {
	return familyProfileField{
		name,
		func(p *dbtypes.FamilyProfile) Value { return String(*get(p)) },
		func(p *dbtypes.FamilyProfile, v Value) error { return v.AsString(get(p)) },
	}
}

var familyProfileSchema = []familyProfileField{
	familyProfileString("id", func(p *dbtypes.FamilyProfile) *string { return &p.ID }),
	familyProfileString("name", func(p *dbtypes.FamilyProfile) *string { return &p.Name }),
	familyProfileString("relationship", func(p *dbtypes.FamilyProfile) *string { return &p.Relationship }),
	familyProfileString("email", func(p *dbtypes.FamilyProfile) *string { return &p.Email }),
	familyProfileString("dateOfBirth", func(p *dbtypes.FamilyProfile) *string { return &p.DateOfBirth }),
	familyProfileString("notes", func(p *dbtypes.FamilyProfile) *string { return &p.Notes }),
	{"createdAt",
		func(p *dbtypes.FamilyProfile) Value { return Timestamp(p.CreatedAt) },
		func(p *dbtypes.FamilyProfile, v Value) error { return v.AsTimestamp(&p.CreatedAt) }},
	{"updatedAt",
		func(p *dbtypes.FamilyProfile) Value { return Timestamp(p.UpdatedAt) },
		func(p *dbtypes.FamilyProfile, v Value) error { return v.AsTimestamp(&p.UpdatedAt) }},
}

func EncodeFamilyProfile(p *dbtypes.FamilyProfile) Document {
	doc := Document{}
	for _, f := range familyProfileSchema {
		doc[f.name] = f.encode(p)
	}
	return doc
}

func DecodeFamilyProfile(doc Document) (*dbtypes.FamilyProfile, error) {
	p := &dbtypes.FamilyProfile{}
	for _, f := range familyProfileSchema {
		v, ok := doc[f.name]
		if !ok {
			continue
		}
		if err := f.decode(p, v); err != nil {
			return nil, fmt.Errorf("while decoding family profile field %q: %w", f.name, err)
		}
	}
	return p, nil
}

type userProfileField struct {
	name string
	get  func(*dbtypes.UserProfile) *string
}

var userProfileSchema = []userProfileField{
	{"name", func(p *dbtypes.UserProfile) *string { return &p.Name }},
	{"age", func(p *dbtypes.UserProfile) *string { return &p.Age }},
	{"address", func(p *dbtypes.UserProfile) *string { return &p.Address }},
	{"phone", func(p *dbtypes.UserProfile) *string { return &p.Phone }},
	{"email", func(p *dbtypes.UserProfile) *string { return &p.Email }},
	{"bloodGroup", func(p *dbtypes.UserProfile) *string { return &p.BloodGroup }},
	{"allergies", func(p *dbtypes.UserProfile) *string { return &p.Allergies }},
	{"chronicConditions", func(p *dbtypes.UserProfile) *string { return &p.ChronicConditions }},
	{"emergencyContact", func(p *dbtypes.UserProfile) *string { return &p.EmergencyContact }},
	{"emergencyPhone", func(p *dbtypes.UserProfile) *string { return &p.EmergencyPhone }},
	{"dateOfBirth", func(p *dbtypes.UserProfile) *string { return &p.DateOfBirth }},
	{"gender", func(p *dbtypes.UserProfile) *string { return &p.Gender }},
}

// EncodeUserProfile writes only the populated fields, matching the sparse
// profile documents the mobile clients produce.
func EncodeUserProfile(p *dbtypes.UserProfile) Document {
	doc := Document{}
	for _, f := range userProfileSchema {
		if s := *f.get(p); s != "" {
			doc[f.name] = String(s)
		}
	}
	return doc
}

func DecodeUserProfile(doc Document) (*dbtypes.UserProfile, error) {
	p := &dbtypes.UserProfile{}
	for _, f := range userProfileSchema {
		v, ok := doc[f.name]
		if !ok {
			continue
		}
		if err := v.AsString(f.get(p)); err != nil {
			return nil, fmt.Errorf("while decoding profile field %q: %w", f.name, err)
		}
	}
	return p, nil
}

// EncodeEntity dispatches to the schema for the entity's collection.
func EncodeEntity(col dbtypes.Collection, entity any) (Document, error) {
	switch e := entity.(type) {
	case *dbtypes.Medication:
		return EncodeMedication(e), nil
	case *dbtypes.DoseEvent:
		return EncodeDoseEvent(e), nil
	case *dbtypes.Prescription:
		return EncodePrescription(e), nil
	case *dbtypes.FamilyProfile:
		return EncodeFamilyProfile(e), nil
	case *dbtypes.UserProfile:
		return EncodeUserProfile(e), nil
	}
	return nil, fmt.Errorf("no document schema for collection %q entity %T", col, entity)
}
