package proposal

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Source supplies the current rule table. The engine re-reads it on every
// proposal pass, so a reload takes effect without restarting anything.
type Source interface {
	Rules() *Rules
}

// Static is a Source fixed at construction, used when no rules file is
// configured.
type Static struct {
	rules *Rules
}

func NewStatic(r *Rules) *Static {
	if r == nil {
		r = DefaultRules()
	}

	r.normalize()

	return &Static{rules: r}
}

func (s *Static) Rules() *Rules { return s.rules }

// Loader reads the rules YAML file and watches it for changes.
type Loader struct {
	path string

	mu       sync.RWMutex
	current  *Rules
	onChange []func(*Rules)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}

	rules, err := l.load()
	if err != nil {
		return nil, err
	}

	l.current = rules

	return l, nil
}

// Rules returns the current rule table.
func (l *Loader) Rules() *Rules {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.current
}

// OnChange registers a callback invoked whenever the rules reload.
func (l *Loader) OnChange(fn func(*Rules)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the rules on file
// changes. A broken edit keeps the previous rules in place. Call the returned
// stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating rules watcher: %w", err)
	}

	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching rules file %s: %w", l.path, err)
	}

	done := make(chan struct{})

	go func() {
		defer w.Close()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("keeping previous proposal rules", "path", l.path, "error", err)
					}
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the rules file.
func (l *Loader) Reload() (*Rules, error) {
	rules, err := l.load()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = rules
	callbacks := make([]func(*Rules), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(rules)
	}

	slog.Info("proposal rules loaded", "path", l.path, "bands", len(rules.Bands))

	return rules, nil
}

func (l *Loader) load() (*Rules, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", l.path, err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules %s: %w", l.path, err)
	}

	rules.normalize()

	return &rules, nil
}
