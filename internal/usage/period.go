package usage

import (
	"context"
	"fmt"
	"time"
)

// Report is the usage of a time window, broken down by model and by
// purpose.
type Report struct {
	Period    string             `json:"period"`
	Start     time.Time          `json:"start,omitzero"`
	End       time.Time          `json:"end"`
	Total     Summary            `json:"total"`
	ByModel   map[string]Summary `json:"by_model"`
	ByPurpose map[string]Summary `json:"by_purpose"`
}

// ParsePeriod converts a period name ("today", "yesterday", "week",
// "month", "all") or a duration such as "24h" into a [start, end)
// range ending slightly after now.
func ParsePeriod(period string, now time.Time) (time.Time, time.Time, error) {
	end := now.Add(time.Minute) // slight future buffer

	switch period {
	case "", "all":
		return time.Time{}, end, nil
	case "today":
		return midnight(now), end, nil
	case "yesterday":
		today := midnight(now)
		return today.AddDate(0, 0, -1), today, nil
	case "week":
		return now.AddDate(0, 0, -7), end, nil
	case "month":
		return now.AddDate(0, -1, 0), end, nil
	}

	d, err := time.ParseDuration(period)
	if err != nil || d <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q (want today, yesterday, week, month, all or a duration like 24h)", period)
	}
	return now.Add(-d), end, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Report aggregates the usage of period.
func (s *Store) Report(ctx context.Context, period string) (Report, error) {
	start, end, err := ParsePeriod(period, time.Now())
	if err != nil {
		return Report{}, err
	}
	if period == "" {
		period = "all"
	}

	r := Report{Period: period, Start: start, End: end}
	if r.Total, err = s.Summary(ctx, start, end); err != nil {
		return Report{}, err
	}
	if r.ByModel, err = s.SummaryByModel(ctx, start, end); err != nil {
		return Report{}, err
	}
	if r.ByPurpose, err = s.SummaryByPurpose(ctx, start, end); err != nil {
		return Report{}, err
	}
	return r, nil
}

// FormatTokens formats a token count compactly: "1.23M", "456.0K", "789".
func FormatTokens(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000.0)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000.0)
	}
	return fmt.Sprintf("%d", n)
}
