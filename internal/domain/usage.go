package domain

import "time"

// UsageLog records what one finished recolor job cost: how many garment
// pixels were touched, how large the emitted rasters were, and wall-clock
// compute time.
type UsageLog struct {
	UserID           string
	JobID            string
	ForegroundPixels int64
	OutputBytes      int64
	ComputeTimeMS    int64
	CreatedAt        time.Time
}
