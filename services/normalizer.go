package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/utils"
)

// Schema names reported in NormalizeResult.
const (
	SchemaGeneric = "generic"
	SchemaHourly  = "hourly"
)

var (
	timeTokens  = []string{"time", "date", "period", "datetime"}
	priceTokens = []string{"price", "lmp", "total"}

	dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "2006/01/02", "20060102"}
)

// NormalizeResult is the outcome of normalizing one payload. Dropped counts
// rows that could not be read at all; rows with an unreadable value are kept
// with a null price and are not counted.
type NormalizeResult struct {
	Rows    []*models.ForecastRow
	Dropped int
	Schema  string
}

// Normalizer turns raw forecast CSV payloads into ForecastRows.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// rowParser converts one CSV record into a row or fails for that row only.
type rowParser func(record []string) (*models.ForecastRow, error)

// Normalize parses data under whichever schema its header matches and
// stamps every row with the file's identity. It never fails; a payload
// without a readable header yields zero rows.
func (n *Normalizer) Normalize(data []byte, id models.FileIdentity, filename string) NormalizeResult {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		n.logger.Warn("[normalizer] %s: unreadable header: %v", filename, err)
		return NormalizeResult{}
	}

	schema, parse := n.detect(header, id)
	n.logger.Debug("[normalizer] %s: columns %v, schema %s", filename, header, schema)

	result := NormalizeResult{Schema: schema}
	line := 1
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				result.Dropped++
				n.logger.Debug("[normalizer] %s line %d: %v", filename, line, err)
				continue
			}
			n.logger.Warn("[normalizer] %s: read aborted at line %d: %v", filename, line, err)
			break
		}

		row, err := parse(record)
		if err != nil {
			result.Dropped++
			n.logger.Debug("[normalizer] %s line %d dropped: %v", filename, line, err)
			continue
		}

		row.Version = id.Version
		row.ForecastTimestamp = id.ForecastTimestamp
		row.Filename = filename
		result.Rows = append(result.Rows, row)
	}

	n.logger.Info("[normalizer] %s: parsed %d rows (dropped %d, schema %s)",
		filename, len(result.Rows), result.Dropped, schema)
	return result
}

// detect picks the schema from the header. The hourly variant needs both a
// date and an hour-ending column; everything else is read as generic.
func (n *Normalizer) detect(header []string, id models.FileIdentity) (string, rowParser) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	dateIdx, hasDate := cols["date"]
	heIdx, hasHE := cols["he"]
	if hasDate && hasHE {
		valueIdx, ok := cols["mw"]
		if !ok {
			valueIdx, ok = cols["kw"]
		}
		if !ok {
			valueIdx = -1
		}
		nodeIdx, ok := cols["node"]
		if !ok {
			nodeIdx = -1
		}
		return SchemaHourly, hourlyParser(dateIdx, heIdx, valueIdx, nodeIdx, id.LocationTag)
	}

	timeIdx, priceIdx := -1, -1
	for i, h := range header {
		name := strings.ToLower(h)
		if containsAny(name, timeTokens) {
			timeIdx = i
		} else if containsAny(name, priceTokens) {
			priceIdx = i
		}
	}
	if timeIdx < 0 {
		timeIdx = 0
	}
	if priceIdx < 0 {
		priceIdx = 1
	}
	return SchemaGeneric, genericParser(timeIdx, priceIdx, id.LocationTag)
}

func genericParser(timeIdx, priceIdx int, location string) rowParser {
	return func(record []string) (*models.ForecastRow, error) {
		if len(record) <= timeIdx || len(record) <= priceIdx {
			return nil, fmt.Errorf("record has %d fields", len(record))
		}
		target, err := dateparse.ParseIn(strings.TrimSpace(record[timeIdx]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("target timestamp: %w", err)
		}
		return &models.ForecastRow{
			TargetTimestamp: target.UTC(),
			Price:           parseDecimal(record[priceIdx]),
			Location:        location,
		}, nil
	}
}

func hourlyParser(dateIdx, heIdx, valueIdx, nodeIdx int, location string) rowParser {
	return func(record []string) (*models.ForecastRow, error) {
		if len(record) <= dateIdx || len(record) <= heIdx {
			return nil, fmt.Errorf("record has %d fields", len(record))
		}
		day, err := parseDay(record[dateIdx])
		if err != nil {
			return nil, err
		}
		he, err := parseHourEnding(record[heIdx])
		if err != nil {
			return nil, err
		}

		row := &models.ForecastRow{
			TargetTimestamp: day.Add(time.Duration(he-1) * time.Hour),
			Hour:            &he,
			Location:        location,
		}
		if valueIdx >= 0 && valueIdx < len(record) {
			row.Price = parseDecimal(record[valueIdx])
		}
		if nodeIdx >= 0 && nodeIdx < len(record) {
			if node := strings.TrimSpace(record[nodeIdx]); node != "" {
				row.Location = node
			}
		}
		return row, nil
	}
}

// parseDay returns midnight UTC of the calendar day in s.
func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// parseHourEnding accepts "7" or "7.0" in the range 1–24.
func parseHourEnding(s string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("hour ending %q: %w", s, err)
	}
	if f != math.Trunc(f) || f < 1 || f > 24 {
		return 0, fmt.Errorf("hour ending %q out of range", s)
	}
	return int(f), nil
}

// parseDecimal returns a null decimal for blanks and anything non-numeric.
func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
