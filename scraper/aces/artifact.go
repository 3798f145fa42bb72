package aces

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ilya1470/aces/utils"
)

// ErrNoArtifact means nothing usable appeared in the download directory
// before the timeout.
var ErrNoArtifact = errors.New("aces: no download appeared")

var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// ArtifactWatcher turns "a file showed up in the download directory" into a
// call result. The directory only counts between the clear that opens a
// Capture and the collect that closes it.
type ArtifactWatcher struct {
	mu           sync.Mutex
	dir          string
	ext          string
	initialWait  time.Duration
	timeout      time.Duration
	pollInterval time.Duration
	logger       *utils.Logger
}

// NewArtifactWatcher watches dir for files with extension ext. After each
// trigger it waits initialWait, then polls until timeout.
func NewArtifactWatcher(dir, ext string, initialWait, timeout time.Duration, logger *utils.Logger) (*ArtifactWatcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("aces: resolve download dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("aces: create download dir: %w", err)
	}
	return &ArtifactWatcher{
		dir:          abs,
		ext:          strings.ToLower(ext),
		initialWait:  initialWait,
		timeout:      timeout,
		pollInterval: 500 * time.Millisecond,
		logger:       logger,
	}, nil
}

// Dir returns the watched directory.
func (w *ArtifactWatcher) Dir() string { return w.dir }

// Capture clears the directory, runs trigger, and waits for the file it
// produces. The directory is cleared again before returning, whatever the
// outcome.
func (w *ArtifactWatcher) Capture(ctx context.Context, expected string, trigger func(ctx context.Context) error) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.clear(); err != nil {
		return nil, err
	}
	defer func() {
		if err := w.clear(); err != nil {
			w.logger.Warn("[artifact] clear after collect: %v", err)
		}
	}()

	if err := trigger(ctx); err != nil {
		return nil, err
	}
	return w.await(ctx, expected)
}

// Clear removes every entry in the directory.
func (w *ArtifactWatcher) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clear()
}

func (w *ArtifactWatcher) clear() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("aces: read download dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(w.dir, e.Name())); err != nil {
			return fmt.Errorf("aces: clear download dir: %w", err)
		}
	}
	return nil
}

func (w *ArtifactWatcher) await(ctx context.Context, expected string) ([]byte, error) {
	if err := sleep(ctx, w.initialWait); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(w.timeout)
	for {
		name, ok, err := w.pick(expected)
		if err != nil {
			return nil, err
		}
		if ok {
			data, err := os.ReadFile(filepath.Join(w.dir, name))
			if err != nil {
				return nil, fmt.Errorf("aces: read download %s: %w", name, err)
			}
			if name != expected {
				w.logger.Debug("[artifact] Collected %s for %s", name, expected)
			}
			return data, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w within %v", ErrNoArtifact, w.initialWait+w.timeout)
		}
		if err := sleep(ctx, w.pollInterval); err != nil {
			return nil, err
		}
	}
}

// pick returns the completed file to collect, preferring one named expected.
func (w *ArtifactWatcher) pick(expected string) (string, bool, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", false, fmt.Errorf("aces: read download dir: %w", err)
	}

	var fallback string
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), w.ext) {
			continue
		}
		if e.Name() == expected {
			return e.Name(), true, nil
		}
		if fallback == "" {
			fallback = e.Name()
		}
	}
	return fallback, fallback != "", nil
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
