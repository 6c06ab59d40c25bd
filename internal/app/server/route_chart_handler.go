package server

import (
	"net/http"
	"time"

	"rpcguard/internal/aggregator"
	"rpcguard/internal/api/dto"
	"rpcguard/internal/domain"
)

// getChart returns the gap-filled realtime series for one identity, or the
// platform-wide series when no target is given. Every bucket of the window
// is present, zeroes included, so the dashboard timeline never has holes.
func getChart(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	now := time.Now()

	if value := query.Get("value"); value != "" {
		banType, err := domain.ParseIdentityType(query.Get("type"))
		if err != nil {
			writeError(w, "Unknown target type", http.StatusBadRequest)
			return
		}
		identity, err := domain.ParseIdentity(banType, value)
		if err != nil {
			writeError(w, "Invalid target", http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusOK, dto.ChartSeries{
			Identity: identity.Key(),
			Points:   chartPoints(trafficAgg.Series(identity, now)),
		})
		return
	}

	writeJSON(w, http.StatusOK, dto.ChartSeries{
		Points: chartPoints(trafficAgg.GlobalSeries(now)),
	})
}

func chartPoints(series []aggregator.Point) []dto.ChartPoint {
	points := make([]dto.ChartPoint, 0, len(series))
	for _, p := range series {
		points = append(points, dto.ChartPoint{
			Time:     p.Start,
			Requests: p.Requests,
			Blocked:  p.Blocked,
		})
	}
	return points
}
