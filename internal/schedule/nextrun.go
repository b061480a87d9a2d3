package schedule

import (
	"time" // Calendar arithmetic

	"banking_system/internal/domain" // Frequencies
)

// NextRun returns the occurrence after from, or nil for one-off payments.
// Month-based frequencies keep the day of anchor (the start date), clamped to the end of shorter
// months, so a payment starting on the 31st runs on Feb 28/29 and again on Mar 31.
func NextRun(freq domain.Frequency, anchor, from time.Time) *time.Time {
	var next time.Time
	switch freq {
	case domain.FrequencyWeekly:
		next = from.AddDate(0, 0, 7) // Seven days
	case domain.FrequencyBiweekly:
		next = from.AddDate(0, 0, 14) // Fourteen days
	case domain.FrequencyMonthly:
		next = addMonths(anchor, from, 1)
	case domain.FrequencyQuarterly:
		next = addMonths(anchor, from, 3)
	case domain.FrequencyYearly:
		next = addMonths(anchor, from, 12)
	default:
		return nil // Once, or unknown
	}
	return &next
}

func addMonths(anchor, from time.Time, months int) time.Time {
	y, m := from.Year(), from.Month()+time.Month(months)
	day := anchor.Day()
	if last := time.Date(y, m+1, 0, 0, 0, 0, 0, from.Location()).Day(); day > last {
		day = last // Clamp to the month's last day
	}
	return time.Date(y, m, day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

// StartOfDay truncates t to midnight UTC of its calendar date
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
