package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FileClass is the forecast family a file belongs to.
type FileClass string

const (
	ClassDayAhead FileClass = "da"
	ClassRealTime FileClass = "rt"
)

// Valid reports whether c is one of the known classes.
func (c FileClass) Valid() bool {
	return c == ClassDayAhead || c == ClassRealTime
}

// FileIdentity is what a forecast filename tells us about its contents.
type FileIdentity struct {
	LocationTag       string
	Class             FileClass
	Version           int64
	ForecastTimestamp time.Time
}

// CandidateFile is a file seen on the portal listing.
type CandidateFile struct {
	Filename string
	Identity FileIdentity
}

// AcquiredPayload holds the raw bytes of one downloaded file. It only lives
// for the duration of that file's processing.
type AcquiredPayload struct {
	Filename string
	Data     []byte
	Strategy string
}

// ForecastRow is the canonical persisted unit.
//
// Congestion, loss and energy prices are reserved columns and always null.
type ForecastRow struct {
	TargetTimestamp   time.Time
	Hour              *int
	Price             decimal.NullDecimal
	CongestionPrice   decimal.NullDecimal
	LossPrice         decimal.NullDecimal
	EnergyPrice       decimal.NullDecimal
	Location          string
	ForecastTimestamp time.Time
	Version           int64
	Filename          string
}

// BusinessKey identifies a row for conflict resolution. A row without an
// hour dimension uses hour 0.
type BusinessKey struct {
	TargetTimestamp time.Time
	Version         int64
	Location        string
	Hour            int
}

// Key returns the row's business key.
func (r *ForecastRow) Key() BusinessKey {
	hour := 0
	if r.Hour != nil {
		hour = *r.Hour
	}
	return BusinessKey{
		TargetTimestamp: r.TargetTimestamp.UTC(),
		Version:         r.Version,
		Location:        r.Location,
		Hour:            hour,
	}
}
