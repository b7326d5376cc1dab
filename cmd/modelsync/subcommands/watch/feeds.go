package watch

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/internal/printer"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/eventstream"
)

// follow prints updates of a feed until it ends or ctx is done.
func follow[T any](ctx context.Context, feed eventstream.Feed[T], print func(T) error) error {
	defer feed.Cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-feed.Updates():
			if !ok {
				return nil
			}
			if u.Err != nil {
				return u.Err
			}
			if err := print(u.Value); err != nil {
				return err
			}
		}
	}
}

func eventPrinter(w io.Writer, logger *log.Logger, asJSON bool) func(resources.EventsUpdate) error {
	return func(u resources.EventsUpdate) error {
		if asJSON {
			return printer.JSONLine(w, u)
		}
		switch u.Type {
		case resources.EventInitial:
			return printer.Events(w, u.Items)
		case resources.EventAdded, resources.EventModified:
			return printer.EventLine(w, *u.Object)
		case resources.EventError:
			logger.Printf("event stream reports an error: %s", u.Message)
		}
		return nil
	}
}

// logPrinter prints lines of logs not printed yet.
//
// Each UPDATE carries whole logs. When logs of a pod get shorter (restarted, or rotated),
// they are printed again from the beginning.
func logPrinter(w io.Writer, logger *log.Logger, asJSON bool) func(resources.LogsUpdate) error {
	printed := map[string]int{}
	return func(u resources.LogsUpdate) error {
		if asJSON {
			return printer.JSONLine(w, u)
		}
		if u.Type == resources.EventError {
			logger.Printf("log stream reports an error: %s", u.Message)
			return nil
		}

		components := make([]string, 0, len(u.Logs))
		for c := range u.Logs {
			components = append(components, c)
		}
		sort.Strings(components)

		for _, c := range components {
			for _, pod := range u.Logs[c] {
				key := c + "/" + pod.PodName
				from := printed[key]
				if len(pod.Logs) < from {
					from = 0
				}
				for _, line := range pod.Logs[from:] {
					if _, err := fmt.Fprintf(w, "[%s] %s\n", key, line); err != nil {
						return err
					}
				}
				printed[key] = len(pod.Logs)
			}
		}
		return nil
	}
}
