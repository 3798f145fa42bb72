package aces

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/utils"
)

// DiscoveryOptions controls how hard Discovery works to render the listing.
type DiscoveryOptions struct {
	ListingURL string
	// ListingMarker is the substring of the location that means the
	// listing view is already open.
	ListingMarker    string
	LoadMoreAttempts int
	LoadMoreDelay    time.Duration
	SettleDelay      time.Duration
}

// Discoverer reads the set of published forecast files off the listing.
type Discoverer struct {
	session Session
	codec   *models.FilenameCodec
	opts    DiscoveryOptions
	logger  *utils.Logger
}

func NewDiscoverer(session Session, codec *models.FilenameCodec, opts DiscoveryOptions, logger *utils.Logger) *Discoverer {
	return &Discoverer{session: session, codec: codec, opts: opts, logger: logger}
}

// ListingMarker derives the location marker of the listing view from its
// configured path: "#/" becomes "/#/".
func ListingMarker(listingPath string) string {
	return "/" + strings.TrimLeft(listingPath, "/")
}

// Scan returns every distinct forecast file named on the listing, first
// occurrence first. An empty result is not an error.
func (d *Discoverer) Scan(ctx context.Context) ([]models.CandidateFile, error) {
	loc, err := d.session.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: read location: %w", err)
	}
	if d.opts.ListingMarker == "" || !strings.Contains(loc, d.opts.ListingMarker) {
		d.logger.Info("[discovery] Navigating to listing %s", d.opts.ListingURL)
		if err := d.session.Navigate(ctx, d.opts.ListingURL); err != nil {
			return nil, fmt.Errorf("discovery: open listing: %w", err)
		}
	}

	for i := 0; i < d.opts.LoadMoreAttempts; i++ {
		if err := d.session.RunScript(ctx, scrollScript, nil); err != nil {
			d.logger.Debug("[discovery] Scroll %d failed: %v", i+1, err)
		}
		if err := sleep(ctx, d.opts.LoadMoreDelay); err != nil {
			return nil, err
		}
	}
	if err := sleep(ctx, d.opts.SettleDelay); err != nil {
		return nil, err
	}

	var rows []string
	if err := d.session.RunScript(ctx, rowTextsScript, &rows); err != nil {
		return nil, fmt.Errorf("discovery: read rows: %w", err)
	}

	seen := utils.NewStringSet()
	var files []models.CandidateFile
	for _, text := range rows {
		for _, name := range d.codec.FindAll(text) {
			id, ok := d.codec.Parse(name)
			if !ok || !seen.Add(name) {
				continue
			}
			files = append(files, models.CandidateFile{Filename: name, Identity: id})
		}
	}

	d.logger.Info("[discovery] %d row(s) scanned, %d forecast file(s) found", len(rows), len(files))
	return files, nil
}
