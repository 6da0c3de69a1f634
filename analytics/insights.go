package analytics

import "fmt"

// insightRule is one row of the insight table.  Rules are evaluated in
// order; every rule whose condition holds contributes a line.
type insightRule struct {
	applies func(AdherenceStats, []MedicationStats, TimeOfDayBreakdown) bool
	render  func(AdherenceStats, []MedicationStats, TimeOfDayBreakdown) string
}

var insightRules = []insightRule{
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.AdherenceRate >= 90
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("Excellent adherence: you have taken %.1f%% of your doses.", s.AdherenceRate)
		},
	},
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.AdherenceRate >= 75 && s.AdherenceRate < 90
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("Good adherence at %.1f%%. Keep up the consistency.", s.AdherenceRate)
		},
	},
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.AdherenceRate >= 50 && s.AdherenceRate < 75
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("Adherence is at %.1f%%. Setting more reminders could help.", s.AdherenceRate)
		},
	},
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.AdherenceRate < 50
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("Adherence is at %.1f%%. Consider reviewing the schedule with your doctor.", s.AdherenceRate)
		},
	},
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.CurrentStreak >= 7
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("You are on a %d-day streak of taking every dose.", s.CurrentStreak)
		},
	},
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.CurrentStreak >= 3 && s.CurrentStreak < 7
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("%d-day streak so far. Keep it going.", s.CurrentStreak)
		},
	},
	{
		applies: func(_ AdherenceStats, perMed []MedicationStats, _ TimeOfDayBreakdown) bool {
			worst, ok := worstMedication(perMed)
			return ok && worst.Rate < 70
		},
		render: func(_ AdherenceStats, perMed []MedicationStats, _ TimeOfDayBreakdown) string {
			worst, _ := worstMedication(perMed)
			name := worst.Name
			if name == "" {
				name = worst.MedicationID
			}
			return fmt.Sprintf("%s is your most missed medication at %.1f%% adherence.", name, worst.Rate)
		},
	},
	{
		applies: func(_ AdherenceStats, _ []MedicationStats, tod TimeOfDayBreakdown) bool {
			return tod.Best() != ""
		},
		render: func(_ AdherenceStats, _ []MedicationStats, tod TimeOfDayBreakdown) string {
			return fmt.Sprintf("You take doses most reliably in the %s.", tod.Best())
		},
	},
	{
		applies: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) bool {
			return s.MissedDoses*5 > s.TakenDoses
		},
		render: func(s AdherenceStats, _ []MedicationStats, _ TimeOfDayBreakdown) string {
			return fmt.Sprintf("You have missed %d doses recently. Reminders can help close the gap.", s.MissedDoses)
		},
	},
}

func worstMedication(perMed []MedicationStats) (MedicationStats, bool) {
	if len(perMed) == 0 {
		return MedicationStats{}, false
	}
	// PerMedication sorts best first.
	return perMed[len(perMed)-1], true
}

// Insights renders the human-readable findings for the given breakdowns.
// The result is deterministic: rules are checked in a fixed order and every
// matching rule contributes one line.
func Insights(stats AdherenceStats, perMed []MedicationStats, tod TimeOfDayBreakdown) []string {
	if stats.TotalDoses == 0 {
		return []string{"No dose history yet. Log your first dose to start tracking adherence."}
	}

	var lines []string
	for _, rule := range insightRules {
		if rule.applies(stats, perMed, tod) {
			lines = append(lines, rule.render(stats, perMed, tod))
		}
	}
	return lines
}
