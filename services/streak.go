package services

import (
	"sort"
	"time"

	"activity-rewards-system/models"
)

// ComputeStreaks derives streak lengths from day buckets (YYYY-MM-DD, any order,
// duplicates allowed).
//
// current is the run of consecutive days ending at the most recent active day, which
// need not be today: a user active yesterday but not yet today keeps the streak.
// longest is the longest run anywhere in the history. last is the most recent day.
func ComputeStreaks(dayBuckets []string) (current, longest int, last string) {
	days := distinctDays(dayBuckets)
	if len(days) == 0 {
		return 0, 0, ""
	}

	// days is sorted most recent first.
	run := 1
	longest = 1
	current = 1
	inCurrent := true
	for i := 1; i < len(days); i++ {
		if days[i].Equal(days[i-1].AddDate(0, 0, -1)) {
			run++
		} else {
			run = 1
			inCurrent = false
		}
		if inCurrent {
			current = run
		}
		if run > longest {
			longest = run
		}
	}
	return current, longest, days[0].Format(models.DayBucketLayout)
}

func distinctDays(dayBuckets []string) []time.Time {
	seen := make(map[string]struct{}, len(dayBuckets))
	days := make([]time.Time, 0, len(dayBuckets))
	for _, b := range dayBuckets {
		if _, ok := seen[b]; ok {
			continue
		}
		d, err := time.ParseInLocation(models.DayBucketLayout, b, time.UTC)
		if err != nil {
			continue
		}
		seen[b] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days
}
