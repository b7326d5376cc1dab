package delete

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/common"
	"github.com/opst/modelsync/cmd/modelsync/subcommands/internal/printer"
	substatus "github.com/opst/modelsync/cmd/modelsync/subcommands/status"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/collection"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/mutation"
	"github.com/opst/modelsync/pkg/syncctl"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Kind      string        `flag:"kind" alias:"k" metavar:"isvc|ig" help:"kind of the resource."`
	Namespace string        `flag:"namespace" alias:"n" help:"namespace of the resource. The namespace selected by the backend when not given."`
	Yes       bool          `flag:"yes" alias:"y" help:"delete without confirmation."`
	Wait      bool          `flag:"wait" help:"wait until the resource disappears."`
	Timeout   time.Duration `flag:"timeout" help:"give up finding or waiting for the resource after this duration."`
}

const ARG_NAME = "NAME"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Delete an InferenceService or an InferenceGraph.",
		Flag{Kind: "isvc", Timeout: time.Minute},
		flarc.Args{
			{
				Name: ARG_NAME, Required: true,
				Help: "name of the resource to be deleted.",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Delete a resource after confirmation.

The resource is shown as terminating as soon as deletion is requested.
When the backend rejects the deletion, the error is reported and the resource is not deleted.
`),
	)
}

var ErrCancelled = errors.New("deletion is cancelled")

// Confirm asks users whether the deletion should be performed.
func Confirm(stdin io.Reader, stderr io.Writer, key resources.Key) bool {
	fmt.Fprintf(stderr, "Delete %s %s in %s? [y/N]: ", key.Kind, key.Name, key.Namespace)
	sc := bufio.NewScanner(stdin)
	if !sc.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// lookup waits for a snapshot for which found returns true.
func lookup(ctx context.Context, snaps <-chan syncctl.Snapshot, found func(syncctl.Snapshot) bool) (syncctl.Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return syncctl.Snapshot{}, ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return syncctl.Snapshot{}, ctx.Err()
			}
			if found(snap) {
				return snap, nil
			}
		}
	}
}

func Task() common.Task[Flag] {
	return func(
		ctx context.Context,
		logger *log.Logger,
		env common.Env,
		cl flarc.Commandline[Flag],
		params []any,
	) error {
		flags := cl.Flags()
		kind, err := resources.ParseKind(flags.Kind)
		if err != nil {
			return fmt.Errorf("%w: %w", flarc.ErrUsage, err)
		}
		requested := []string{}
		if flags.Namespace != "" {
			requested = append(requested, flags.Namespace)
		}
		scope, err := substatus.Scope(env, requested)
		if err != nil {
			return err
		}
		ns, _ := scope.Namespace()
		name := cl.Args()[ARG_NAME][0]
		key := resources.Key{Kind: kind, Namespace: ns, Name: name}

		client, err := env.Resources.Resources(kind)
		if err != nil {
			return err
		}

		ctrl := syncctl.New(
			syncctl.Config{
				PreferStream: env.Console.PreferStream(env.Settings),
				Poll:         env.Settings.Poll,
			},
			[]syncctl.Source{client},
			syncctl.WithLogger(logger),
		)
		if err := ctrl.StartSync(ctx, kind, scope, syncctl.ForResource(name)); err != nil {
			return err
		}
		defer ctrl.Stop()
		snaps, unsubscribe := ctrl.Subscribe()
		defer unsubscribe()

		tracker := mutation.New(
			ctrl, client,
			mutation.WithPolicy(env.Settings.DeletePolicy),
			mutation.WithLogger(logger),
		)

		findCtx, cancelFind := context.WithTimeout(ctx, flags.Timeout)
		defer cancelFind()
		snap, err := lookup(findCtx, snaps, func(s syncctl.Snapshot) bool {
			_, ok := s.Lookup(key)
			return ok
		})
		if err != nil {
			return xe.New(
				fmt.Sprintf("%s is not found", key),
				xe.WithKind(xe.ErrNotFound), xe.WithCause(err),
			)
		}
		entry, _ := snap.Lookup(key)
		if err := printer.Table(cl.Stdout(), printer.FromEntries([]collection.Entry{entry})); err != nil {
			return err
		}

		tok := tracker.RequestDelete(key)
		if !flags.Yes && !Confirm(cl.Stdin(), cl.Stderr(), key) {
			tracker.Cancel(tok)
			fmt.Fprintln(cl.Stderr(), "cancelled.")
			return nil
		}

		if err := tracker.Confirm(ctx, tok); err != nil {
			tracker.Cancel(tok)
			return err
		}
		logger.Printf("deletion of %s is requested.", key)

		if !flags.Wait {
			return nil
		}

		waitCtx, cancelWait := context.WithTimeout(ctx, flags.Timeout)
		defer cancelWait()
		if _, err := lookup(waitCtx, snaps, func(s syncctl.Snapshot) bool {
			_, ok := s.Lookup(key)
			return !ok
		}); err != nil {
			return fmt.Errorf("%s is still there: %w", key, err)
		}
		fmt.Fprintf(cl.Stdout(), "%s is deleted.\n", key)
		return nil
	}
}
