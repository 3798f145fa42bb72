package aces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ilya1470/aces/utils"
)

// fakeSession is a scripted Session. Script handlers are matched by a
// substring of the script source.
type fakeSession struct {
	mu        sync.Mutex
	location  string
	navigated []string
	clicks    []ClickAction
	scripts   map[string]func(script string) (any, error)
	onClick   func(xpath string, action ClickAction) error
	cookies   []*http.Cookie
}

var _ Session = (*fakeSession)(nil)

func newFakeSession(location string) *fakeSession {
	return &fakeSession{location: location, scripts: map[string]func(string) (any, error){}}
}

func (f *fakeSession) handle(marker string, fn func(script string) (any, error)) {
	f.scripts[marker] = fn
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	f.location = url
	return nil
}

func (f *fakeSession) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, nil
}

func (f *fakeSession) RunScript(_ context.Context, script string, out any) error {
	for marker, fn := range f.scripts {
		if !strings.Contains(script, marker) {
			continue
		}
		v, err := fn(script)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, out)
	}
	return errors.New("fake: no handler for script")
}

func (f *fakeSession) Click(_ context.Context, xpath string, action ClickAction) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, action)
	f.mu.Unlock()
	if f.onClick == nil {
		return errors.New("fake: element not found")
	}
	return f.onClick(xpath, action)
}

func (f *fakeSession) Cookies(context.Context) ([]*http.Cookie, error) {
	return f.cookies, nil
}

func newTestWatcher(dir string) *ArtifactWatcher {
	w, err := NewArtifactWatcher(dir, ".csv", 0, 150*time.Millisecond, utils.NewDiscardLogger())
	if err != nil {
		panic(err)
	}
	w.pollInterval = 10 * time.Millisecond
	return w
}
