package dto

import "time"

type ChartPoint struct {
	Time     time.Time `json:"time"`
	Requests uint64    `json:"requests"`
	Blocked  uint64    `json:"blocked"`
}

type ChartSeries struct {
	Identity string       `json:"identity,omitempty"`
	Points   []ChartPoint `json:"points"`
}
