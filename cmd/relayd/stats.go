package main

import "time"

// Stats represents current relay stats for the dashboard & API.
type Stats struct {
	Waiting     int    `json:"waiting"`
	Active      int    `json:"active"`
	PairedTotal int64  `json:"paired_total"`
	Timeouts    int64  `json:"timeouts"`
	BytesTotal  uint64 `json:"bytes_total"`
	Now         string `json:"now"`
}

func collectStats(l sessionLedger) Stats {
	st := l.getStats()
	return Stats{
		Waiting:     st.Waiting,
		Active:      st.Active,
		PairedTotal: st.PairedTotal,
		Timeouts:    st.Timeouts,
		BytesTotal:  st.BytesTotal,
		Now:         time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Waiting":  s.Waiting,
		"Active":   s.Active,
		"Paired":   s.PairedTotal,
		"Timeouts": s.Timeouts,
		"Bytes":    s.BytesTotal,
	}
}
