package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultLocationTag is the node the portal publishes forecasts for.
const DefaultLocationTag = "NIPS.WVPA"

// FilenameCodec parses `<tag>_<da|rt>_price_forecast_<YYYYMMDDHHMMSS>.csv`.
type FilenameCodec struct {
	tag      string
	exact    *regexp.Regexp
	embedded *regexp.Regexp
}

// NewFilenameCodec builds a codec for the given location tag. The tag is
// matched literally.
func NewFilenameCodec(locationTag string) *FilenameCodec {
	body := regexp.QuoteMeta(locationTag) + `_(da|rt)_price_forecast_(\d{14})\.csv`
	return &FilenameCodec{
		tag:      locationTag,
		exact:    regexp.MustCompile(`^` + body + `$`),
		embedded: regexp.MustCompile(body),
	}
}

// LocationTag returns the tag the codec was built for.
func (c *FilenameCodec) LocationTag() string { return c.tag }

// Parse returns the identity encoded in filename. ok is false for anything
// that does not match the pattern exactly or carries an impossible date.
func (c *FilenameCodec) Parse(filename string) (FileIdentity, bool) {
	m := c.exact.FindStringSubmatch(filename)
	if m == nil {
		return FileIdentity{}, false
	}

	ts, err := parseVersionTimestamp(m[2])
	if err != nil {
		return FileIdentity{}, false
	}
	version, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return FileIdentity{}, false
	}

	return FileIdentity{
		LocationTag:       c.tag,
		Class:             FileClass(m[1]),
		Version:           version,
		ForecastTimestamp: ts,
	}, true
}

// FindAll returns every filename embedded in text, in order of appearance.
func (c *FilenameCodec) FindAll(text string) []string {
	return c.embedded.FindAllString(text, -1)
}

// parseVersionTimestamp reads the 14 digits positionally as
// YYYY MM DD HH MM SS in UTC and rejects values time.Date would normalise.
func parseVersionTimestamp(digits string) (time.Time, error) {
	var parts [6]int
	bounds := [7]int{0, 4, 6, 8, 10, 12, 14}
	for i := range parts {
		n, err := strconv.Atoi(digits[bounds[i]:bounds[i+1]])
		if err != nil {
			return time.Time{}, err
		}
		parts[i] = n
	}

	ts := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, time.UTC)
	if ts.Year() != parts[0] || int(ts.Month()) != parts[1] || ts.Day() != parts[2] ||
		ts.Hour() != parts[3] || ts.Minute() != parts[4] || ts.Second() != parts[5] {
		return time.Time{}, fmt.Errorf("invalid version timestamp %q", digits)
	}
	return ts, nil
}
