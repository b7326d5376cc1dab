package console

import (
	"context"
	"log"
	"slices"

	"github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/logger"
)

// DefaultNamespace is selected at startup when the backend lists it.
const DefaultNamespace = "default"

// NamespaceConfig is what the backend allows users to see.
type NamespaceConfig struct {
	Namespaces []string

	// SingleNamespace is true when only one namespace is available,
	// so users need not choose.
	SingleNamespace bool

	// AutoSelected is the namespace selected when nothing is requested.
	//
	// Empty when no namespaces are available.
	AutoSelected string
}

func NewNamespaceConfig(nss []string) NamespaceConfig {
	nc := NamespaceConfig{Namespaces: nss, SingleNamespace: len(nss) == 1}
	if nc.Namespaces == nil {
		nc.Namespaces = []string{}
	}
	if slices.Contains(nss, DefaultNamespace) {
		nc.AutoSelected = DefaultNamespace
	} else if 0 < len(nss) {
		nc.AutoSelected = nss[0]
	}
	return nc
}

// Console is the configuration read at startup.
type Console struct {
	App        backend.AppConfig
	Namespaces NamespaceConfig
}

// PreferStream tells whether resources should be streamed.
func (c Console) PreferStream(s Settings) bool {
	switch s.Stream {
	case StreamAlways:
		return true
	case StreamNever:
		return false
	default:
		return c.App.SSEEnabled
	}
}

// Source serves the configuration of the backend.
type Source interface {
	Config(ctx context.Context) (backend.AppConfig, error)
	Namespaces(ctx context.Context) ([]string, error)
}

type bootstrapOptions struct {
	logger *log.Logger
}

type BootstrapOption func(*bootstrapOptions) *bootstrapOptions

func WithLogger(l *log.Logger) BootstrapOption {
	return func(o *bootstrapOptions) *bootstrapOptions {
		o.logger = l
		return o
	}
}

// Bootstrap reads configurations of the backend.
//
// It never fails: when the backend does not serve them, built-in defaults
// and an empty namespace list are used.
func Bootstrap(ctx context.Context, src Source, opts ...BootstrapOption) Console {
	o := &bootstrapOptions{logger: logger.Null()}
	for _, opt := range opts {
		o = opt(o)
	}

	c := Console{}

	app, err := src.Config(ctx)
	if err != nil {
		o.logger.Printf("cannot get configuration of backend. defaults are used: %s", err)
		app = backend.DefaultAppConfig()
	}
	c.App = app

	nss, err := src.Namespaces(ctx)
	if err != nil {
		o.logger.Printf("cannot get namespaces: %s", err)
		nss = nil
	}
	c.Namespaces = NewNamespaceConfig(nss)
	return c
}
