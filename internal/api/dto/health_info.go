package dto

type HealthInfo struct {
	Status             string  `json:"status"`
	BanSnapshotAgeSecs float64 `json:"ban_snapshot_age_secs"`
	IngestQueueDepth   int     `json:"ingest_queue_depth"`
	ActiveInstances    int     `json:"active_instances"`
}
