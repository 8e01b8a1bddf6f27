package domain

import "time"

// Stats are aggregate figures over all tracked assets.
type Stats struct {
	TotalAssets       int     `json:"total_assets"`
	DerivativesListed int     `json:"derivatives_listed"`
	NewToday          int     `json:"new_today"`
	NewThisWeek       int     `json:"new_this_week"`
	AvgMarketCap      float64 `json:"avg_market_cap"`
	TotalVolume24h    float64 `json:"total_volume_24h"`
}

// ComputeStats aggregates active assets. "Today" is the UTC calendar day of now;
// "this week" is the trailing seven days.
func ComputeStats(s Snapshot, now time.Time) *Stats {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := now.Add(-7 * 24 * time.Hour)

	st := &Stats{}
	var capSum float64
	var capCount int
	for _, r := range s {
		if !r.Active {
			continue
		}
		st.TotalAssets++
		if r.IsListed() {
			st.DerivativesListed++
		}
		if !r.FirstSeen.Before(dayStart) {
			st.NewToday++
		}
		if !r.FirstSeen.Before(weekStart) {
			st.NewThisWeek++
		}
		if v, ok := Positive(r.MarketCap); ok {
			capSum += v
			capCount++
		}
		if v, ok := Positive(r.Volume24h); ok {
			st.TotalVolume24h += v
		}
	}
	if capCount > 0 {
		st.AvgMarketCap = capSum / float64(capCount)
	}
	return st
}
