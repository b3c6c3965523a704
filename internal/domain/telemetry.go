package domain

import "time"

// TelemetrySample is one delivery-quality measurement reported by the
// external mining proxy. Samples are append-only evidence.
type TelemetrySample struct {
	ID            int64
	OrderID       string
	Timestamp     time.Time
	Hashrate      float64
	AcceptedDelta int64
	RejectedDelta int64
}

// FoldSample folds one sample into a running summary. The average hashrate is
// time-weighted by the gap since the previous sample; the first sample seeds
// the average with its own value. Uptime is the fraction of expected sampling
// intervals for which at least one sample arrived, capped at 100.
func FoldSample(sum TelemetrySummary, s TelemetrySample, promisedHashrate float64, interval time.Duration) TelemetrySummary {
	ts := s.Timestamp

	if sum.FirstSampleAt == nil {
		first := ts
		sum.FirstSampleAt = &first
		// Seed the weighted average with one nominal interval.
		sum.WeightedSum = s.Hashrate * interval.Seconds()
		sum.WeightedDuration = interval.Seconds()
	} else {
		gap := ts.Sub(*sum.LastSampleAt).Seconds()
		if gap <= 0 {
			// Out-of-order or duplicate timestamp: count it as a minimal gap
			// so the sample still contributes.
			gap = 1
		}
		sum.WeightedSum += s.Hashrate * gap
		sum.WeightedDuration += gap
	}

	last := ts
	sum.LastSampleAt = &last
	sum.CurrentHashrate = s.Hashrate
	sum.SharesAccepted += s.AcceptedDelta
	sum.SharesRejected += s.RejectedDelta
	sum.SampleCount++

	if sum.WeightedDuration > 0 {
		sum.AvgHashrate = sum.WeightedSum / sum.WeightedDuration
	}
	if promisedHashrate > 0 {
		acc := 100 * sum.AvgHashrate / promisedHashrate
		if acc > 100 {
			acc = 100
		}
		sum.HashrateAccuracy = acc
	}

	expected := expectedIntervals(*sum.FirstSampleAt, ts, interval)
	if expected > 0 {
		up := 100 * float64(sum.SampleCount) / float64(expected)
		if up > 100 {
			up = 100
		}
		sum.UptimePercent = up
	} else {
		sum.UptimePercent = 100
	}

	return sum
}

// expectedIntervals counts the sampling slots between first and last,
// inclusive of the seeding slot.
func expectedIntervals(first, last time.Time, interval time.Duration) int64 {
	if interval <= 0 || last.Before(first) {
		return 1
	}
	return int64(last.Sub(first)/interval) + 1
}
