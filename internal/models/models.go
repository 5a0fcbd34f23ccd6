package models

import (
	"database/sql"
	"time"
)

// Gauge is the metadata record for one rain gauge. It is created once at
// ingestion and not modified afterwards.
type Gauge struct {
	StationID   string
	Name        string
	Latitude    float64
	Longitude   float64
	Start       time.Time
	End         time.Time
	Units       string // "mm", "in", ...
	Elevation   sql.NullFloat64
	NoDataValue sql.NullFloat64
}

// Resolution is the canonical time step of a record.
type Resolution string

const (
	Resolution15Min   Resolution = "15m"
	ResolutionHourly  Resolution = "hourly"
	ResolutionDaily   Resolution = "daily"
	ResolutionMonthly Resolution = "monthly"
)

// Step returns the nominal duration of one time step. Monthly returns zero
// because calendar months differ in length.
func (r Resolution) Step() time.Duration {
	switch r {
	case Resolution15Min:
		return 15 * time.Minute
	case ResolutionHourly:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	}
	return 0
}

// StepsPerDay is the number of records per calendar day (0 for monthly).
func (r Resolution) StepsPerDay() int {
	step := r.Step()
	if step == 0 {
		return 0
	}
	return int((24 * time.Hour) / step)
}

func (r Resolution) Valid() bool {
	switch r {
	case Resolution15Min, ResolutionHourly, ResolutionDaily, ResolutionMonthly:
		return true
	}
	return false
}

// Flag values shared by per-timestep checks.
const (
	FlagUnevaluated = -1
	FlagNone        = 0
)

// Climate index variable names of the ETCCDI reference grids.
const (
	IndexR99p    = "R99p"
	IndexPRCPTOT = "PRCPTOT"
	IndexCDD     = "CDD"
	IndexSDII    = "SDII"
	IndexRx1day  = "Rx1day"
	IndexCWD     = "CWD"
)
