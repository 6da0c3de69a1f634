// Package poller watches for missed doses and alerts family members.
package poller

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/israfil-hossain/mediremind/dblayer"
	"github.com/israfil-hossain/mediremind/dbtypes"
	"github.com/israfil-hossain/mediremind/localstore"
	"github.com/israfil-hossain/mediremind/syncmetrics"
)

// GracePeriod is how long past the scheduled time a dose may run late before
// it counts as missed.
const GracePeriod = 30 * time.Minute

// DefaultRecheckPeriod is the interval between missed-dose sweeps.
const DefaultRecheckPeriod = 30 * time.Minute

// Mailer sends a composed message.  The SendGrid client satisfies it.
type Mailer interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// FamilyCareGate reports whether the current plan unlocks family alerting.
// The subscription manager satisfies it.
type FamilyCareGate interface {
	FamilyCare() bool
}

// Poller runs an infinite loop checking for doses that are overdue today and
// mailing the user's family profiles about them.
type Poller struct {
	db      *dblayer.DB
	store   *localstore.Store
	mailer  Mailer
	gate    FamilyCareGate
	metrics *syncmetrics.Metrics

	recheckPeriod time.Duration
	fromEmail     string
	now           func() time.Time
}

type PollerOpt func(*Poller)

// WithMetrics attaches alert counters.
func WithMetrics(m *syncmetrics.Metrics) PollerOpt {
	return func(p *Poller) { p.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) PollerOpt {
	return func(p *Poller) { p.now = now }
}

// WithRecheckPeriod overrides the sweep interval.
func WithRecheckPeriod(d time.Duration) PollerOpt {
	return func(p *Poller) { p.recheckPeriod = d }
}

func New(db *dblayer.DB, store *localstore.Store, mailer Mailer, gate FamilyCareGate, fromEmail string, opts ...PollerOpt) *Poller {
	p := &Poller{
		db:            db,
		store:         store,
		mailer:        mailer,
		gate:          gate,
		recheckPeriod: DefaultRecheckPeriod,
		fromEmail:     fromEmail,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.recheckPeriod)
	defer ticker.Stop()

	// Sweep once right away --- ticker doesn't fire until the tick period
	// has elapsed.
	if err := p.Sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "Error during missed-dose sweep", slog.Any("err", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.Sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "Error during missed-dose sweep", slog.Any("err", err))
		}
	}
}

// MissedDose is one overdue slot, shaped for the alert email.
type MissedDose struct {
	Medication string
	Dosage     string
	Slot       string
}

// Sweep runs one missed-dose check.
func (p *Poller) Sweep(ctx context.Context) error {
	if !p.gate.FamilyCare() {
		return nil
	}

	slog.InfoContext(ctx, "Starting missed-dose sweep")
	defer func() {
		slog.InfoContext(ctx, "Finished missed-dose sweep")
	}()

	meds, err := p.db.Medications(ctx)
	if err != nil {
		return fmt.Errorf("while listing medications: %w", err)
	}
	today, err := p.db.TodaysDoses(ctx)
	if err != nil {
		return fmt.Errorf("while listing today's doses: %w", err)
	}

	now := p.now()
	var missed []MissedDose
	var markers []string
	for _, med := range meds {
		for _, slot := range missedSlots(med, today, now) {
			marker := sentMarker(med.ID, slot, now)
			sent, err := p.alreadySent(marker)
			if err != nil {
				return err
			}
			if sent {
				continue
			}
			missed = append(missed, MissedDose{Medication: med.Name, Dosage: med.Dosage, Slot: slot})
			markers = append(markers, marker)
		}
	}
	if len(missed) == 0 {
		return nil
	}

	profile, err := p.db.UserProfile(ctx)
	if err != nil {
		return fmt.Errorf("while reading user profile: %w", err)
	}
	family, err := p.db.FamilyProfiles(ctx)
	if err != nil {
		return fmt.Errorf("while listing family profiles: %w", err)
	}

	var recipients []dbtypes.FamilyProfile
	for _, fp := range family {
		// The patient already got the on-device reminder; family alerts
		// go to everyone else.
		if fp.Email == "" || fp.Email == profile.Email {
			continue
		}
		recipients = append(recipients, fp)
	}
	if len(recipients) == 0 {
		slog.InfoContext(ctx, "Missed doses found but no family recipients configured", slog.Int("missed", len(missed)))
		return nil
	}

	alert := &missedDoseAlert{
		PatientName: profile.Name,
		Missed:      missed,
	}
	for _, fp := range recipients {
		if err := p.sendEmailAlert(ctx, fp, alert); err != nil {
			return fmt.Errorf("while alerting %s: %w", fp.Name, err)
		}
		p.metrics.RecordAlertEmail(ctx)
	}

	for _, marker := range markers {
		if err := p.store.SetMeta(marker, []byte("1")); err != nil {
			return fmt.Errorf("while recording sent alert: %w", err)
		}
	}
	return nil
}

// missedSlots returns the scheduled slots of med that are more than
// GracePeriod overdue today.  Any taken dose for the medication today clears
// all of its slots.
func missedSlots(med dbtypes.Medication, today []dbtypes.DoseEvent, now time.Time) []string {
	if !med.ReminderEnabled {
		return nil
	}
	if med.StartDate.After(now) {
		return nil
	}
	if med.DurationDays != dbtypes.DurationOngoing {
		if now.After(med.StartDate.AddDate(0, 0, int(med.DurationDays))) {
			return nil
		}
	}

	for _, e := range today {
		if e.MedicationID == med.ID && e.Taken {
			return nil
		}
	}

	loc := now.Location()
	y, m, d := now.Date()
	var missed []string
	for _, slot := range med.Times {
		slotTime, err := time.ParseInLocation("15:04", slot, loc)
		if err != nil {
			continue
		}
		scheduled := time.Date(y, m, d, slotTime.Hour(), slotTime.Minute(), 0, 0, loc)
		if now.Sub(scheduled) > GracePeriod {
			missed = append(missed, slot)
		}
	}
	return missed
}

// sentMarker names the dedup record for one (medication, day, slot) alert.
func sentMarker(medicationID, slot string, now time.Time) string {
	return fmt.Sprintf("alerts/sent/%s/%s/%s", medicationID, now.Format("2006-01-02"), slot)
}

func (p *Poller) alreadySent(marker string) (bool, error) {
	_, ok, err := p.store.GetMeta(marker)
	if err != nil {
		return false, fmt.Errorf("while checking sent alert: %w", err)
	}
	return ok, nil
}

type missedDoseAlert struct {
	PatientName string
	Missed      []MissedDose
}

const emailPlain = `
{{- if .PatientName -}}
{{.PatientName}} has missed the following doses today:
{{- else -}}
The following doses were missed today:
{{- end}}
{{range .Missed}}
* {{.Medication}}{{if .Dosage}} ({{.Dosage}}){{end}}, scheduled for {{.Slot}}
{{- end}}

You are receiving this because you are listed as a family contact in
MediRemind.
`

var emailPlainTemplate = template.Must(template.New("email").Parse(emailPlain))

func (p *Poller) sendEmailAlert(ctx context.Context, fp dbtypes.FamilyProfile, alert *missedDoseAlert) error {
	message := mail.NewV3Mail()
	message.From = mail.NewEmail("MediRemind Alerts", p.fromEmail)
	message.Subject = "Missed medication alert"

	personalization := mail.NewPersonalization()
	personalization.To = append(personalization.To, mail.NewEmail(fp.Name, fp.Email))
	message.Personalizations = append(message.Personalizations, personalization)

	textContent := &bytes.Buffer{}
	if err := emailPlainTemplate.Execute(textContent, alert); err != nil {
		return fmt.Errorf("while templating plain-text email content: %w", err)
	}

	message.Content = append(message.Content, mail.NewContent("text/plain", textContent.String()))

	resp, err := p.mailer.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("while sending mail through SendGrid: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2XX response while sending mail through SendGrid: %d %s", resp.StatusCode, resp.Body)
	}

	return nil
}
