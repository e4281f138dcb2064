package models

import "time"

// Dashboard is the aggregated summary served to the dashboard UI.
type Dashboard struct {
	GeneratedAt           time.Time             `json:"generated_at"`
	WindowDays            int                   `json:"window_days"`
	TotalSignals          int                   `json:"total_signals"`
	SignalsByType         []CountByKey          `json:"signals_by_type"`
	SignalsByJurisdiction []CountByKey          `json:"signals_by_jurisdiction"`
	SignalsByCompetitor   []CountByKey          `json:"signals_by_competitor"`
	HighPrioritySignals   []*CompetitorSignal   `json:"high_priority_signals"`
	RecentAnalyses        []*CompetitorAnalysis `json:"recent_analyses"`
	ActiveCompetitors     []*CompetitorEntity   `json:"active_competitors"`
	ActiveJurisdictions   []*Jurisdiction       `json:"active_jurisdictions"`
}
