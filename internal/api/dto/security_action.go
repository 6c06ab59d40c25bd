package dto

// SecurityAction is the manual moderation request from the dashboard:
// ban or unban a single IP or wallet.
type SecurityAction struct {
	Action          string `json:"action"`
	Type            string `json:"type"`
	Target          string `json:"target"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
	Permanent       bool   `json:"permanent"`
}
