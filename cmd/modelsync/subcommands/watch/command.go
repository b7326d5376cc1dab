package watch

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/common"
	"github.com/opst/modelsync/cmd/modelsync/subcommands/internal/printer"
	substatus "github.com/opst/modelsync/cmd/modelsync/subcommands/status"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/configs/console"
	"github.com/opst/modelsync/pkg/metrics"
	"github.com/opst/modelsync/pkg/namespaces"
	"github.com/opst/modelsync/pkg/syncctl"
	"github.com/opst/modelsync/pkg/utils/filewatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Kind        string        `flag:"kind" alias:"k" metavar:"isvc|ig" help:"kind of resources."`
	Namespace   []string      `flag:"namespace" alias:"n" help:"namespace of resources. Repeatable. The namespace selected by the backend when not given."`
	JSON        bool          `flag:"json" help:"print each snapshot as a line of json."`
	Timeout     time.Duration `flag:"timeout" help:"stop watching after this duration. Keep watching until interrupted when 0."`
	Resubscribe time.Duration `flag:"resubscribe" help:"interval to try streaming again while polling. Never when 0."`
	Metrics     bool          `flag:"metrics" help:"print metrics of synchronization to stderr on exit."`
	NoReload    bool          `flag:"no-reload" help:"do not reload the settings file when it is changed."`
	Events      bool          `flag:"events" help:"follow Kubernetes events about NAME, instead of its status."`
	Logs        bool          `flag:"logs" help:"follow logs of pods of NAME, instead of its status."`
	Component   []string      `flag:"component" alias:"c" metavar:"predictor|transformer|explainer" help:"component which logs are followed. Repeatable. All components when not given."`
}

const ARG_NAME = "NAME"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Keep watching status of InferenceServices or InferenceGraphs.",
		Flag{Kind: "isvc", Resubscribe: time.Minute},
		flarc.Args{
			{
				Name: ARG_NAME, Required: false,
				Help: "name of a resource to be watched. All resources in namespaces when not given.",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Keep watching status of resources, printing the collection each time it changes.

Resources are streamed when the backend supports that, and polled otherwise.
When the stream is lost, it falls back to polling.

With --events or --logs, it follows Kubernetes events or logs of pods of NAME instead.
They need the backend to stream.

When the settings file is changed, synchronization restarts with new settings.
`),
	)
}

// snapshotLine is a snapshot printed in json.
type snapshotLine struct {
	Generation uint64        `json:"generation"`
	Target     string        `json:"target"`
	State      syncctl.State `json:"state"`
	Entries    []printer.Row `json:"entries"`
}

func printSnapshot(w io.Writer, asJSON bool, snap syncctl.Snapshot) error {
	rows := printer.FromEntries(snap.Entries)
	if asJSON {
		return printer.JSONLine(w, snapshotLine{
			Generation: snap.Generation,
			Target:     snap.Target.String(),
			State:      snap.State,
			Entries:    rows,
		})
	}
	fmt.Fprintf(w, "--- %s (%s, generation %d) %s\n", snap.Target, snap.State, snap.Generation, time.Now().Format(time.RFC3339))
	return printer.Table(w, rows)
}

// session is a controller synchronizing under settings.
type session struct {
	settings console.Settings
	ctrl     *syncctl.Controller
	snaps    <-chan syncctl.Snapshot
	cancel   func()
}

func (s *session) close() {
	s.cancel()
	s.ctrl.Stop()
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
		scope, err := substatus.Scope(env, flags.Namespace)
		if err != nil {
			return err
		}
		name := ""
		if names := cl.Args()[ARG_NAME]; 0 < len(names) {
			if _, ok := scope.Namespace(); !ok {
				return fmt.Errorf("%w: NAME needs exactly one namespace", flarc.ErrUsage)
			}
			name = names[0]
		}
		if flags.Events && flags.Logs {
			return fmt.Errorf("%w: --events and --logs are exclusive", flarc.ErrUsage)
		}
		if (flags.Events || flags.Logs) && name == "" {
			return fmt.Errorf("%w: --events and --logs need NAME", flarc.ErrUsage)
		}
		if 0 < len(flags.Component) && !flags.Logs {
			return fmt.Errorf("%w: --component needs --logs", flarc.ErrUsage)
		}
		src, err := env.Resources.Resources(kind)
		if err != nil {
			return err
		}

		if 0 < flags.Timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flags.Timeout)
			defer cancel()
		}

		if flags.Events || flags.Logs {
			ns, _ := scope.Namespace()
			if flags.Events {
				feed, err := src.WatchEvents(ctx, ns, name)
				if err != nil {
					return err
				}
				return follow(ctx, feed, eventPrinter(cl.Stdout(), logger, flags.JSON))
			}
			feed, err := src.WatchLogs(ctx, ns, name, flags.Component...)
			if err != nil {
				return err
			}
			return follow(ctx, feed, logPrinter(cl.Stdout(), logger, flags.JSON))
		}

		reg := prometheus.NewRegistry()
		mtr := metrics.New(reg)
		if flags.Metrics {
			defer func() {
				if err := metrics.Dump(cl.Stderr(), reg); err != nil {
					logger.Printf("cannot print metrics: %s", err)
				}
			}()
		}

		start := func(settings console.Settings) (*session, error) {
			ctrl := syncctl.New(
				syncctl.Config{
					PreferStream: env.Console.PreferStream(settings),
					Poll:         settings.Poll,
				},
				[]syncctl.Source{src},
				syncctl.WithLogger(logger),
				syncctl.WithMetrics(mtr),
				syncctl.WithCoordinator(namespaces.NewCoordinator(namespaces.WithLogger(logger))),
			)
			opts := []syncctl.SyncOption{}
			if name != "" {
				opts = append(opts, syncctl.ForResource(name))
			}
			if err := ctrl.StartSync(ctx, kind, scope, opts...); err != nil {
				return nil, err
			}
			snaps, cancel := ctrl.Subscribe()
			return &session{settings: settings, ctrl: ctrl, snaps: snaps, cancel: cancel}, nil
		}

		current, err := start(env.Settings)
		if err != nil {
			return err
		}
		defer func() { current.close() }()

		var reloads <-chan console.Settings
		if !flags.NoReload && env.SettingsPath != "" {
			ch, err := filewatch.Follow(ctx, env.SettingsPath, console.LoadSettings, filewatch.WithLogger(logger))
			if err != nil {
				logger.Printf("settings are not reloaded: %s", err)
			} else {
				reloads = ch
			}
		}

		var resubscribe <-chan time.Time
		if 0 < flags.Resubscribe {
			t := time.NewTicker(flags.Resubscribe)
			defer t.Stop()
			resubscribe = t.C
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-current.snaps:
				if !ok {
					return nil
				}
				if err := printSnapshot(cl.Stdout(), flags.JSON, snap); err != nil {
					return err
				}
			case settings, ok := <-reloads:
				if !ok {
					reloads = nil
					continue
				}
				logger.Printf("settings are changed. restarting synchronization.")
				next, err := start(settings)
				if err != nil {
					logger.Printf("cannot restart with new settings. keep going: %s", err)
					continue
				}
				current.close()
				current = next
			case <-resubscribe:
				if current.ctrl.State() != syncctl.Polling || !env.Console.PreferStream(current.settings) {
					continue
				}
				if err := current.ctrl.Resubscribe(); err != nil {
					logger.Printf("cannot resubscribe: %s", err)
				}
			}
		}
	}
}
