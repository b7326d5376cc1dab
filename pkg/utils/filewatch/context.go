// Package filewatch notifies changes of configuration files.
package filewatch

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opst/modelsync/pkg/logger"
)

// UntilModifyContext returns a context that is canceled
// when one of target files is modified (= written, created, removed, or renamed).
//
// Cause of the context tells which file is modified.
//
// If error is not nil, both of the the context and the cancel function are nil.
func UntilModifyContext(ctx context.Context, targetFilePath ...string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	for _, f := range targetFilePath {
		if err = w.Add(f); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, err
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				cancel(fmt.Errorf("%s is updated (%s)", event.Name, event.Op.String()))
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}

type followOptions struct {
	logger   *log.Logger
	debounce time.Duration
}

type FollowOption func(*followOptions) *followOptions

func WithLogger(l *log.Logger) FollowOption {
	return func(o *followOptions) *followOptions {
		o.logger = l
		return o
	}
}

// WithDebounce sets how long changes are gathered before loading.
//
// Editors often write a file in several steps.
func WithDebounce(d time.Duration) FollowOption {
	return func(o *followOptions) *followOptions {
		o.debounce = d
		return o
	}
}

// Follow loads a file each time it is changed, and sends what is loaded.
//
// The directory containing the file is watched, so the file may be created later
// or replaced by renaming. Failures of load are logged and not sent.
//
// The channel is closed when ctx is done.
func Follow[T any](ctx context.Context, path string, load func(string) (T, error), opts ...FollowOption) (<-chan T, error) {
	o := &followOptions{logger: logger.Null(), debounce: 100 * time.Millisecond}
	for _, opt := range opts {
		o = opt(o)
	}

	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	ch := make(chan T)
	go func() {
		defer close(ch)
		defer w.Close()

		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				o.logger.Printf("watching %s: %s", path, err)
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || ev.Op == fsnotify.Chmod {
					continue
				}
				fire = time.After(o.debounce)
			case <-fire:
				fire = nil
				v, err := load(path)
				if err != nil {
					o.logger.Printf("cannot reload %s: %s", path, err)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case ch <- v:
				}
			}
		}
	}()

	return ch, nil
}
