// Package watch reports changes to a set of files, such as the configuration file of
// a long running server.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// defaultSettle is the time given for an editor to finish a burst of writes.
const defaultSettle time.Duration = 50 * time.Millisecond

// Notifier watches files by watching their directories, so that files replaced by
// rename (as many editors save) are still seen.
type Notifier struct {
	files   map[string]map[string]bool // dir -> base names
	watcher *fsnotify.Watcher
	changed chan string
	settle  time.Duration
}

// New returns a Notifier for the given files, each of which must exist.
func New(paths ...string) (*Notifier, error) {

	if len(paths) < 1 {
		return nil, errors.New("at least one file to watch is needed")
	}

	n := &Notifier{
		files:   map[string]map[string]bool{},
		changed: make(chan string),
		settle:  defaultSettle,
	}

	var err error
	n.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify new watcher error: %w", err)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = n.watcher.Close()
			return nil, fmt.Errorf("could not resolve %q: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			_ = n.watcher.Close()
			return nil, fmt.Errorf("file %q not found: %w", p, err)
		}
		if info.IsDir() {
			_ = n.watcher.Close()
			return nil, fmt.Errorf("%q is a directory", p)
		}
		dir, base := filepath.Split(abs)
		dir = filepath.Clean(dir)
		if _, ok := n.files[dir]; !ok {
			if err := n.watcher.Add(dir); err != nil {
				_ = n.watcher.Close()
				return nil, fmt.Errorf("fsnotify add error for dir %q: %w", dir, err)
			}
			n.files[dir] = map[string]bool{}
		}
		n.files[dir][base] = true
	}
	return n, nil
}

// Watch blocks until ctx is done or the watcher fails, sending the path of each
// changed file on Changed. A burst of events for one file within the settle time is
// sent once. Changed is closed when Watch returns.
func (n *Notifier) Watch(ctx context.Context) error {

	events := make(chan string)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-n.watcher.Errors:
				if !ok {
					return errors.New("unexpected close from watcher.Errors")
				}
				return fmt.Errorf("unexpected notify error: %w", err)
			case e, ok := <-n.watcher.Events:
				if !ok {
					return errors.New("unexpected close from watcher.Events")
				}
				if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
					continue
				}
				dir, base := filepath.Split(e.Name)
				if !n.files[filepath.Clean(dir)][base] {
					continue
				}
				select {
				case events <- e.Name:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	// coalesce bursts of writes
	g.Go(func() error {
		pending := map[string]bool{}
		timer := time.NewTimer(n.settle)
		timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case name := <-events:
				pending[name] = true
				timer.Reset(n.settle)
			case <-timer.C:
				for name := range pending {
					select {
					case n.changed <- name:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				clear(pending)
			}
		}
	})

	err := g.Wait()
	close(n.changed)
	_ = n.watcher.Close()
	return err
}

// Changed returns the channel of changed file paths.
func (n *Notifier) Changed() <-chan string {
	return n.changed
}
