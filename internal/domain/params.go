package domain

import "time"

// JobParams is the typed parameter set the scheduler hands to a job body.
// Each job type owns one variant; the scheduler treats the value opaquely.
type JobParams interface {
	jobParams()
}

// TourismSyncParams drives a tourism harvest run.
type TourismSyncParams struct {
	ContentTypeIDs []int // empty means every catalogued content type
	AreaCodes      []int // empty means every catalogued area
	PageSize       int
	Incremental    bool          // restrict to recently modified records
	ModifiedWithin time.Duration // incremental lookback window
}

func (TourismSyncParams) jobParams() {}

// WeatherSyncParams drives a weather harvest run.
type WeatherSyncParams struct {
	Regions       []string // catalog region names; empty means all
	ForecastTypes []string // ultra_srt_ncst | ultra_srt_fcst | vilage_fcst
}

func (WeatherSyncParams) jobParams() {}

// HistoricalWeatherParams drives the daily rollup of observed weather.
type HistoricalWeatherParams struct {
	Regions []string
	Days    int // how many past days to roll up
}

func (HistoricalWeatherParams) jobParams() {}

// QualityCheckParams selects the tables the gate inspects.
type QualityCheckParams struct {
	Tables []string // empty means every table in the quality spec
}

func (QualityCheckParams) jobParams() {}

// ArchivePruneParams tunes the raw archive sweep.
type ArchivePruneParams struct {
	Grace time.Duration // extra retention on top of each row's expiry
}

func (ArchivePruneParams) jobParams() {}

// KeyProbeParams selects providers whose disabled keys get probed.
type KeyProbeParams struct {
	Providers []Provider // empty means both
}

func (KeyProbeParams) jobParams() {}
