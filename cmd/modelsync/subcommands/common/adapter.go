package common

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/auth"
	"github.com/opst/modelsync/pkg/configs/console"
	"github.com/opst/modelsync/pkg/configs/profiles"
	"github.com/opst/modelsync/pkg/kube"
	"github.com/opst/modelsync/pkg/rest"
	"github.com/opst/modelsync/pkg/sse"
	"github.com/youta-t/flarc"
)

// Resources gives clients of resources for each kind.
//
// Both of the backend client and the cluster satisfy this.
type Resources interface {
	Resources(kind resources.Kind) (rest.ResourceClient, error)
}

// Env is what subcommands work with.
type Env struct {
	Settings console.Settings

	// SettingsPath is where Settings are loaded from.
	SettingsPath string

	Console   console.Console
	Resources Resources
}

type TaskWithCommonFlag[T any] func(
	ctx context.Context,
	logger *log.Logger,
	commonFlag CommonFlags,
	cl flarc.Commandline[T],
	params []any,
) error

func NewTaskWithCommonFlag[T any](task TaskWithCommonFlag[T]) flarc.Task[T] {
	return func(ctx context.Context, cl flarc.Commandline[T], pos []any) error {
		var commonFlag CommonFlags
		found := false
		newpos := make([]any, 0, len(pos))
		for _, p := range pos {
			switch v := p.(type) {
			case CommonFlags:
				found = true
				commonFlag = v
			default:
				newpos = append(newpos, p)
			}
		}
		if !found {
			return errors.New("programming error: common flags not found")
		}

		logger := log.New(cl.Stderr(), "", log.LstdFlags)
		logger.SetPrefix(fmt.Sprintf("[%s] ", cl.Fullname()))

		return task(
			ctx,
			logger,
			commonFlag,
			cl,
			newpos,
		)
	}
}

type Task[T any] func(
	ctx context.Context,
	logger *log.Logger,
	env Env,
	cl flarc.Commandline[T],
	params []any,
) error

func NewTask[T any](task Task[T]) flarc.Task[T] {
	return NewTaskWithCommonFlag(func(
		ctx context.Context,
		logger *log.Logger,
		commonFlag CommonFlags,
		cl flarc.Commandline[T],
		params []any,
	) error {
		settings, err := console.LoadSettings(commonFlag.Settings)
		if err != nil {
			return fmt.Errorf("%w: failed to load settings (%s)", err, commonFlag.Settings)
		}

		env := Env{Settings: settings, SettingsPath: commonFlag.Settings}
		if commonFlag.Direct || commonFlag.Kubeconfig != "" {
			conf, err := kube.Config(commonFlag.Kubeconfig)
			if err != nil {
				return fmt.Errorf("%w: failed to load kubeconfig", err)
			}
			cluster, err := kube.NewForConfig(conf, kube.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("%w: failed to connect to the cluster", err)
			}
			env.Resources = cluster

			// clusters can always be watched.
			app := backend.DefaultAppConfig()
			app.SSEEnabled = true
			env.Console = console.Console{App: app, Namespaces: console.NewNamespaceConfig(nil)}
			return task(ctx, logger, env, cl, params)
		}

		client, err := NewClient(commonFlag, settings, logger)
		if err != nil {
			return err
		}
		env.Resources = client
		env.Console = console.Bootstrap(ctx, client, console.WithLogger(logger))
		return task(ctx, logger, env, cl, params)
	})
}

// NewClient builds a client of the backend from the profile in common flags.
func NewClient(commonFlag CommonFlags, settings console.Settings, logger *log.Logger) (rest.Client, error) {
	store, err := profiles.LoadProfileStore(commonFlag.ProfileStore)
	if err != nil {
		if errors.Is(err, profiles.ErrProfileStoreNotFound) {
			return nil, fmt.Errorf(
				"%w: profile store (%s) is not found. Please try `modelsync init` first",
				err, commonFlag.ProfileStore,
			)
		}
		return nil, fmt.Errorf(
			"%w: failed to load profile store (%s)",
			err, commonFlag.ProfileStore,
		)
	}
	prof, ok := store[commonFlag.Profile]
	if !ok {
		return nil, fmt.Errorf(
			"profile '%s' not found in the profile store (%s)",
			commonFlag.Profile, commonFlag.ProfileStore,
		)
	}

	client, err := rest.NewClient(
		prof,
		rest.WithLogger(logger),
		rest.WithChecker(auth.NewChecker(auth.WithLimits(settings.TokenSize), auth.WithLogger(logger))),
		rest.WithStreamOptions(
			sse.WithLogger(logger),
			sse.WithMaxAttempts(settings.MaxAttempts),
			sse.WithReconnectDelay(settings.ReconnectDelay),
		),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed to create client. Your profile (%s in %s) can be broken.\n\nRemove it and try `modelsync init` again",
			err, commonFlag.Profile, commonFlag.ProfileStore,
		)
	}
	return client, nil
}
