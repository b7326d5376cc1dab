package status

import (
	"context"
	"fmt"
	"log"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/common"
	"github.com/opst/modelsync/cmd/modelsync/subcommands/internal/printer"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/namespaces"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Kind      string   `flag:"kind" alias:"k" metavar:"isvc|ig" help:"kind of resources."`
	Namespace []string `flag:"namespace" alias:"n" help:"namespace of resources. Repeatable. The namespace selected by the backend when not given."`
	Events    bool     `flag:"events" help:"show events of the resource. Only with NAME."`
	JSON      bool     `flag:"json" help:"print in json."`
}

const ARG_NAME = "NAME"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Show status of InferenceServices or InferenceGraphs.",
		Flag{Kind: "isvc"},
		flarc.Args{
			{
				Name: ARG_NAME, Required: false,
				Help: "name of a resource. All resources in namespaces when not given.",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Show status of resources, once.

Each status is derived from conditions of the resource.
When some namespaces cannot be read, resources in other namespaces are shown.

To keep watching status, use "watch".
`),
	)
}

// Scope resolves namespaces from flags, or the namespace selected at startup.
func Scope(env common.Env, requested []string) (namespaces.Scope, error) {
	if len(requested) == 0 {
		if env.Console.Namespaces.AutoSelected == "" {
			return namespaces.Scope{}, fmt.Errorf("%w: no namespaces are available. specify --namespace", flarc.ErrUsage)
		}
		requested = []string{env.Console.Namespaces.AutoSelected}
	}
	scope, err := namespaces.ResolveScope(requested...)
	if err != nil {
		return namespaces.Scope{}, fmt.Errorf("%w: %w", flarc.ErrUsage, err)
	}
	return scope, nil
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
		scope, err := Scope(env, flags.Namespace)
		if err != nil {
			return err
		}
		client, err := env.Resources.Resources(kind)
		if err != nil {
			return err
		}

		if names := cl.Args()[ARG_NAME]; 0 < len(names) {
			ns, ok := scope.Namespace()
			if !ok {
				return fmt.Errorf("%w: NAME needs exactly one namespace", flarc.ErrUsage)
			}
			r, err := client.Get(ctx, ns, names[0])
			if err != nil {
				return err
			}
			rows := printer.FromResources([]resources.Resource{r})
			if !flags.Events {
				return output(cl, flags, rows)
			}

			events, err := client.Events(ctx, ns, names[0])
			if err != nil {
				return err
			}
			if flags.JSON {
				return printer.JSON(cl.Stdout(), map[string]any{"resource": rows[0], "events": events})
			}
			if err := printer.Table(cl.Stdout(), rows); err != nil {
				return err
			}
			fmt.Fprintln(cl.Stdout())
			return printer.Events(cl.Stdout(), events)
		}

		if flags.Events {
			return fmt.Errorf("%w: --events needs NAME", flarc.ErrUsage)
		}

		coord := namespaces.NewCoordinator(namespaces.WithLogger(logger))
		merged, err := coord.List(ctx, scope, client.List)
		if err != nil {
			return err
		}
		for _, f := range merged.Failures {
			logger.Printf("WARNING: %s", f)
		}
		return output(cl, flags, printer.FromResources(merged.Items()))
	}
}

func output(cl flarc.Commandline[Flag], flags Flag, rows []printer.Row) error {
	if flags.JSON {
		return printer.JSON(cl.Stdout(), rows)
	}
	return printer.Table(cl.Stdout(), rows)
}
