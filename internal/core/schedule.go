package core

import "time"

// NextRunDate advances a recurrence by one occurrence. Steps are
// calendar-aware: monthly and yearly move by calendar units with the day
// clamped to the target month's length (Jan 31 -> Feb 28/29), never by a
// fixed duration.
func NextRunDate(date time.Time, f Frequency) (time.Time, error) {
	date = DateOnly(date)
	switch f {
	case FrequencyDaily:
		return date.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return date.AddDate(0, 0, 7), nil
	case FrequencyBiweekly:
		return date.AddDate(0, 0, 14), nil
	case FrequencyMonthly:
		return addMonthsClamped(date, 1), nil
	case FrequencyYearly:
		return addMonthsClamped(date, 12), nil
	default:
		return time.Time{}, BadRequestf("invalid frequency %q", f)
	}
}

// addMonthsClamped adds months keeping the day of month when it exists,
// otherwise clamping to the last day. time.AddDate would normalize
// Jan 31 + 1 month into March; billing and recurrence semantics need
// February's last day instead.
func addMonthsClamped(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := lastDayOfMonth(firstOfTarget); d > last {
		d = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, time.UTC)
}

// lastDayOfMonth returns the number of days in t's month.
func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// BillingPeriod returns the half-open interval [start, end) of a credit
// card's billing cycle for the given calendar month. With a closing day the
// cycle runs from the closing day of the previous month up to (excluding)
// the closing day of the month itself; without one it is the calendar
// month. Closing days beyond a month's length clamp to its last day.
func BillingPeriod(closingDay, year int, month time.Month) (start, end time.Time) {
	if closingDay <= 0 {
		start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		end = addMonthsClamped(start, 1)
		return start, end
	}
	start = clampedDate(year, month-1, closingDay)
	end = clampedDate(year, month, closingDay)
	return start, end
}

func clampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if last := lastDayOfMonth(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
