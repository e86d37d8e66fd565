package countstore

import (
	"context"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

// Named counters, bucketed by period. The automod filter counts actions per
// guild ("automod-spam", "automod-banned-word") and distinct offenders.
type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	// Increments all period buckets at once.
	Increment(ctx context.Context, name, val string) error
	GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string) error
}

type periodSpec struct {
	name string
	// time layout appended to the bucket key; empty for the all-time bucket
	layout string
	// how long a backend needs to keep the bucket around; zero is forever
	retention time.Duration
}

var periods = []periodSpec{
	{name: PeriodTotal},
	{name: PeriodDay, layout: "2006-01-02", retention: 48 * time.Hour},
	{name: PeriodHour, layout: "2006-01-02T15", retention: 2 * time.Hour},
}

func lookupPeriod(period string) (periodSpec, bool) {
	for _, p := range periods {
		if p.name == period {
			return p, true
		}
	}
	return periodSpec{}, false
}

// Storage key for one counter bucket at the given time.
func bucketKey(name, val string, p periodSpec, now time.Time) string {
	key := name + "/" + val
	if p.layout != "" {
		key += "/" + now.UTC().Format(p.layout)
	}
	return key
}

// Unknown periods read the all-time bucket.
func periodKey(name, val, period string, now time.Time) string {
	p, _ := lookupPeriod(period)
	return bucketKey(name, val, p, now)
}
