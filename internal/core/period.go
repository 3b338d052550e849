package core

import "time"

// PeriodLayout formats calendar months as fixed-width, lexicographically sortable keys.
const PeriodLayout = "2006-01"

// PeriodOf buckets an event time into its UTC calendar month.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// ParsePeriod validates a YYYY-MM key and returns it normalized.
func ParsePeriod(s string) (string, error) {
	t, err := time.Parse(PeriodLayout, s)
	if err != nil {
		return "", Invalid("period must be formatted as YYYY-MM", err)
	}
	return t.Format(PeriodLayout), nil
}
