package services

import (
	"testing"
	"time"

	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/utils"
)

func newTestLogger() *utils.Logger { return utils.NewDiscardLogger() }

func testIdentity() models.FileIdentity {
	return models.FileIdentity{
		LocationTag:       models.DefaultLocationTag,
		Class:             models.ClassDayAhead,
		Version:           20240115093000,
		ForecastTimestamp: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

const testFilename = "NIPS.WVPA_da_price_forecast_20240115093000.csv"

func TestNormalizeGenericDropsMalformedRow(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("Date,Price\n2024-01-16 01:00:00,45.25\nnot-a-date,12\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if res.Schema != SchemaGeneric {
		t.Errorf("schema: got %s, want %s", res.Schema, SchemaGeneric)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows: got %d, want 1", len(res.Rows))
	}
	if res.Dropped != 1 {
		t.Errorf("dropped: got %d, want 1", res.Dropped)
	}

	row := res.Rows[0]
	if !row.Price.Valid || row.Price.Decimal.String() != "45.25" {
		t.Errorf("price: got %v, want 45.25", row.Price)
	}
	want := time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC)
	if !row.TargetTimestamp.Equal(want) {
		t.Errorf("target: got %v, want %v", row.TargetTimestamp, want)
	}
	if row.Hour != nil {
		t.Errorf("generic rows have no hour, got %d", *row.Hour)
	}
}

func TestNormalizeGenericKeepsUnreadablePriceAsNull(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("Date,Price\n2024-01-16 01:00,n/a\n2024-01-16 02:00,\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if len(res.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(res.Rows))
	}
	if res.Dropped != 0 {
		t.Errorf("dropped: got %d, want 0", res.Dropped)
	}
	for i, r := range res.Rows {
		if r.Price.Valid {
			t.Errorf("row %d price should be null, got %v", i, r.Price.Decimal)
		}
	}
}

func TestNormalizeGenericColumnDetection(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   string
		target time.Time
	}{
		{
			name:   "named columns in any order",
			data:   "LMP Total,Interval Period\n31.5,2024-01-16T03:00:00\n",
			want:   "31.5",
			target: time.Date(2024, 1, 16, 3, 0, 0, 0, time.UTC),
		},
		{
			name:   "positional fallback",
			data:   "when,value\n01/16/2024 04:00,12.75\n",
			want:   "12.75",
			target: time.Date(2024, 1, 16, 4, 0, 0, 0, time.UTC),
		},
	}

	n := NewNormalizer(newTestLogger())
	for _, tt := range tests {
		res := n.Normalize([]byte(tt.data), testIdentity(), testFilename)
		if len(res.Rows) != 1 {
			t.Errorf("%s: rows got %d, want 1", tt.name, len(res.Rows))
			continue
		}
		r := res.Rows[0]
		if r.Price.Decimal.String() != tt.want {
			t.Errorf("%s: price got %s, want %s", tt.name, r.Price.Decimal.String(), tt.want)
		}
		if !r.TargetTimestamp.Equal(tt.target) {
			t.Errorf("%s: target got %v, want %v", tt.name, r.TargetTimestamp, tt.target)
		}
	}
}

func TestNormalizeHourly(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("DATE,HE,MW\n2024-03-01,1,45.2\n2024-03-01,24,50\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if res.Schema != SchemaHourly {
		t.Fatalf("schema: got %s, want %s", res.Schema, SchemaHourly)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(res.Rows))
	}

	first := res.Rows[0]
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !first.TargetTimestamp.Equal(want) {
		t.Errorf("he=1 target: got %v, want %v", first.TargetTimestamp, want)
	}
	if first.Price.Decimal.String() != "45.2" {
		t.Errorf("he=1 price: got %s, want 45.2", first.Price.Decimal.String())
	}
	if first.Hour == nil || *first.Hour != 1 {
		t.Errorf("he=1 hour: got %v", first.Hour)
	}

	last := res.Rows[1]
	if want := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC); !last.TargetTimestamp.Equal(want) {
		t.Errorf("he=24 target: got %v, want %v", last.TargetTimestamp, want)
	}
}

func TestNormalizeHourlyPrefersMW(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("date,he,kw,mw\n2024-03-01,1,45200,45.2\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if len(res.Rows) != 1 {
		t.Fatalf("rows: got %d, want 1", len(res.Rows))
	}
	if got := res.Rows[0].Price.Decimal.String(); got != "45.2" {
		t.Errorf("price: got %s, want mw value 45.2", got)
	}
}

func TestNormalizeHourlyFallsBackToKW(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("date,he,kw\n2024-03-01,2,33.1\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if len(res.Rows) != 1 || res.Rows[0].Price.Decimal.String() != "33.1" {
		t.Fatalf("expected one row priced from kw, got %+v", res.Rows)
	}
}

func TestNormalizeHourlyNodeOverridesLocation(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("date,he,mw,node\n2024-03-01,1,10,WVPA.HUB\n2024-03-01,2,11,\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if len(res.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(res.Rows))
	}
	if res.Rows[0].Location != "WVPA.HUB" {
		t.Errorf("node override: got %s", res.Rows[0].Location)
	}
	if res.Rows[1].Location != models.DefaultLocationTag {
		t.Errorf("blank node should keep the tag, got %s", res.Rows[1].Location)
	}
}

func TestNormalizeHourlyDropsBadHourEnding(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	data := []byte("date,he,mw\n2024-03-01,0,1\n2024-03-01,25,1\n2024-03-01,x,1\nbad,3,1\n2024-03-01,3,1\n")

	res := n.Normalize(data, testIdentity(), testFilename)

	if len(res.Rows) != 1 {
		t.Errorf("rows: got %d, want 1", len(res.Rows))
	}
	if res.Dropped != 4 {
		t.Errorf("dropped: got %d, want 4", res.Dropped)
	}
}

func TestNormalizeStampsFileIdentity(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	id := testIdentity()
	data := []byte("\xef\xbb\xbfDate,Price\n2024-01-16 01:00,1\n2024-01-16 02:00,2\n")

	res := n.Normalize(data, id, testFilename)

	if len(res.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(res.Rows))
	}
	for i, r := range res.Rows {
		if r.Version != id.Version {
			t.Errorf("row %d version: got %d, want %d", i, r.Version, id.Version)
		}
		if !r.ForecastTimestamp.Equal(id.ForecastTimestamp) {
			t.Errorf("row %d forecast_timestamp: got %v", i, r.ForecastTimestamp)
		}
		if r.Filename != testFilename {
			t.Errorf("row %d filename: got %s", i, r.Filename)
		}
		if r.CongestionPrice.Valid || r.LossPrice.Valid || r.EnergyPrice.Valid {
			t.Errorf("row %d reserved prices should be null", i)
		}
	}
}

func TestNormalizeEmptyPayload(t *testing.T) {
	n := NewNormalizer(newTestLogger())

	for _, data := range [][]byte{nil, []byte(""), []byte("Date,Price\n")} {
		res := n.Normalize(data, testIdentity(), testFilename)
		if len(res.Rows) != 0 {
			t.Errorf("Normalize(%q): got %d rows, want 0", data, len(res.Rows))
		}
	}
}
