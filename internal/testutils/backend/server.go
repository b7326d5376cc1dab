// Package backend is an in-memory models web app backend, for development and tests.
//
// It serves the REST and SSE endpoints for InferenceServices and InferenceGraphs,
// and lets callers change resources and inject failures.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/opst/modelsync/pkg/api/types/backend"
	apierr "github.com/opst/modelsync/pkg/api/types/errors"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/auth"
	"github.com/opst/modelsync/pkg/configs/profiles"
	"github.com/opst/modelsync/pkg/sse"
	"github.com/opst/modelsync/pkg/utils/echoutil"
)

const (
	// DefaultHeartbeat is the interval of heartbeats in idle streams.
	DefaultHeartbeat = 30 * time.Second

	// DefaultLogInterval is the interval of UPDATEs in log streams.
	DefaultLogInterval = 3 * time.Second

	// maxLogComponents is the maximum number of components in a log stream.
	maxLogComponents = 10
)

type Backend struct {
	Store *Store

	app          backend.AppConfig
	namespaces   []string
	limits       auth.Limits
	useridHeader string
	heartbeat    time.Duration
	logInterval  time.Duration
	grace        time.Duration

	mux    sync.Mutex
	broken map[string]int
}

type Option func(*Backend) *Backend

func WithAppConfig(app backend.AppConfig) Option {
	return func(b *Backend) *Backend {
		b.app = app
		return b
	}
}

// WithNamespaces sets namespaces which users can see.
func WithNamespaces(nss ...string) Option {
	return func(b *Backend) *Backend {
		b.namespaces = nss
		return b
	}
}

func WithLimits(l auth.Limits) Option {
	return func(b *Backend) *Backend {
		b.limits = l
		return b
	}
}

func WithUserIDHeader(h string) Option {
	return func(b *Backend) *Backend {
		b.useridHeader = h
		return b
	}
}

func WithHeartbeat(d time.Duration) Option {
	return func(b *Backend) *Backend {
		b.heartbeat = d
		return b
	}
}

func WithLogInterval(d time.Duration) Option {
	return func(b *Backend) *Backend {
		b.logInterval = d
		return b
	}
}

// WithDeletionGrace keeps deleted resources as terminating for d.
func WithDeletionGrace(d time.Duration) Option {
	return func(b *Backend) *Backend {
		b.grace = d
		return b
	}
}

func New(store *Store, opts ...Option) *Backend {
	app := backend.DefaultAppConfig()
	app.SSEEnabled = true
	b := &Backend{
		Store:        store,
		app:          app,
		namespaces:   []string{"default"},
		limits:       auth.DefaultLimits(),
		useridHeader: profiles.DefaultUserIDHeader,
		heartbeat:    DefaultHeartbeat,
		logInterval:  DefaultLogInterval,
		broken:       map[string]int{},
	}
	for _, o := range opts {
		b = o(b)
	}
	return b
}

// Break makes requests to the namespace fail with status code.
func (b *Backend) Break(namespace string, code int) {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.broken[namespace] = code
}

// Repair undoes Break.
func (b *Backend) Repair(namespace string) {
	b.mux.Lock()
	defer b.mux.Unlock()
	delete(b.broken, namespace)
}

func (b *Backend) brokenStatus(namespace string) (int, bool) {
	b.mux.Lock()
	defer b.mux.Unlock()
	code, ok := b.broken[namespace]
	return code, ok
}

// Build returns an echo server serving the backend.
func (b *Backend) Build(loglevel string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	echoutil.SetLevel(e, loglevel)

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(echoutil.LogHandlerFunc)
	e.Use(identity(b.useridHeader, b.limits))

	e.GET("/api/config", b.config)
	e.GET("/api/config/namespaces", b.listNamespaces)

	for _, kind := range []resources.Kind{resources.KindInferenceService, resources.KindInferenceGraph} {
		col := fmt.Sprintf("/api/namespaces/:ns/%s", kind.Plural())
		item := col + "/:name"
		e.GET(col, b.list(kind), b.faults)
		e.POST(col, b.create(kind), b.faults)
		e.GET(item, b.get(kind), b.faults)
		e.PUT(item, b.update(kind), b.faults)
		e.DELETE(item, b.delete(kind), b.faults)
		e.GET(item+"/events", b.events(kind), b.faults)
	}

	// only InferenceServices are streamed.
	isvcs := fmt.Sprintf("/api/sse/namespaces/:ns/%s", resources.KindInferenceService.Plural())
	e.GET(isvcs, b.stream(resources.KindInferenceService), b.faults)
	e.GET(isvcs+"/:name", b.stream(resources.KindInferenceService), b.faults)
	e.GET(isvcs+"/:name/events", b.streamEvents(resources.KindInferenceService), b.faults)
	e.GET(isvcs+"/:name/logs", b.streamLogs, b.faults)

	return e
}

func (b *Backend) config(c echo.Context) error {
	return c.JSON(http.StatusOK, b.app)
}

func (b *Backend) listNamespaces(c echo.Context) error {
	nss := b.namespaces
	if nss == nil {
		nss = []string{}
	}
	return c.JSON(http.StatusOK, backend.NamespaceList{Namespaces: nss, Status: http.StatusOK, Success: true})
}

func (b *Backend) list(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		items := b.Store.List(kind, c.Param("ns"))
		return c.JSON(http.StatusOK, backend.Success(userOf(c)).WithItems(kind, items))
	}
}

func (b *Backend) get(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns, name := c.Param("ns"), c.Param("name")
		r, ok := b.Store.Get(kind, ns, name)
		if !ok {
			return apierr.NotFound(fmt.Sprintf("%s %s/%s is not found", kind, ns, name))
		}
		return c.JSON(http.StatusOK, backend.Success(userOf(c)).WithItem(kind, &r))
	}
}

func decodeResource(c echo.Context) (resources.Resource, error) {
	r := resources.Resource{}
	if err := json.NewDecoder(c.Request().Body).Decode(&r); err != nil {
		return resources.Resource{}, apierr.BadRequest("malformed resource", err)
	}
	return r, nil
}

func (b *Backend) create(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns := c.Param("ns")
		r, err := decodeResource(c)
		if err != nil {
			return err
		}
		if r.Name == "" {
			return apierr.BadRequest("metadata.name is required", nil)
		}
		if _, err := b.Store.Create(kind, ns, r); errors.Is(err, ErrConflict) {
			return apierr.NewErrorMessage(http.StatusConflict, err.Error())
		} else if err != nil {
			return apierr.InternalServerError(err)
		}
		env := backend.Success(userOf(c))
		env.Message = fmt.Sprintf("%s %s/%s successfully created.", kind, ns, r.Name)
		return c.JSON(http.StatusOK, env)
	}
}

func (b *Backend) update(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns, name := c.Param("ns"), c.Param("name")
		r, err := decodeResource(c)
		if err != nil {
			return err
		}
		if _, err := b.Store.Update(kind, ns, name, r); errors.Is(err, ErrMissing) {
			return apierr.NotFound(err.Error())
		} else if err != nil {
			return apierr.InternalServerError(err)
		}
		env := backend.Success(userOf(c))
		env.Message = fmt.Sprintf("%s %s/%s successfully updated.", kind, ns, name)
		return c.JSON(http.StatusOK, env)
	}
}

func (b *Backend) delete(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns, name := c.Param("ns"), c.Param("name")
		if err := b.Store.Delete(kind, ns, name, b.grace); errors.Is(err, ErrMissing) {
			return apierr.NotFound(err.Error())
		} else if err != nil {
			return apierr.InternalServerError(err)
		}
		env := backend.Success(userOf(c))
		env.Message = fmt.Sprintf("%s %s/%s successfully deleted.", kind, ns, name)
		return c.JSON(http.StatusOK, env)
	}
}

func (b *Backend) events(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns, name := c.Param("ns"), c.Param("name")
		env := backend.Success(userOf(c))
		env.Events = b.Store.Events(kind, ns, name)
		return c.JSON(http.StatusOK, env)
	}
}

// wireInitial is an INITIAL frame of single resource streams, which carries the resource itself.
type wireInitial struct {
	Type   resources.EventType `json:"type"`
	Object resources.Resource  `json:"object"`
}

func (b *Backend) stream(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns, name := c.Param("ns"), c.Param("name")
		initial, ch, cancel := b.Store.Watch(kind, ns, name)
		defer cancel()

		res := c.Response()
		sse.Header(res.Header())
		res.WriteHeader(http.StatusOK)
		w := sse.NewWriter(res)

		var first any = resources.Initial(initial...)
		if name != "" {
			if len(initial) == 0 {
				first = resources.WatchEvent{
					Type:    resources.EventError,
					Message: fmt.Sprintf("Resource not found: %s %s/%s", kind, ns, name),
				}
			} else {
				first = wireInitial{Type: resources.EventInitial, Object: initial[0]}
			}
		}
		if err := b.send(w, first); err != nil {
			return nil
		}

		ctx := c.Request().Context()
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					c.Logger().Infof("stream of %s in %s is disconnected", kind, ns)
					return nil
				}
				if err := b.send(w, ev); err != nil {
					return nil
				}
				ticker.Reset(b.heartbeat)
			case <-ticker.C:
				if err := w.Comment("heartbeat"); err != nil {
					return nil
				}
			}
		}
	}
}

// streamEvents sends Kubernetes events about a resource: INITIAL with events so far,
// then ADDED for each event recorded.
func (b *Backend) streamEvents(kind resources.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		ns, name := c.Param("ns"), c.Param("name")
		initial, ch, cancel := b.Store.WatchEvents(kind, ns, name)
		defer cancel()

		res := c.Response()
		sse.Header(res.Header())
		res.WriteHeader(http.StatusOK)
		w := sse.NewWriter(res)

		if err := b.send(w, resources.EventsUpdate{Type: resources.EventInitial, Items: initial}); err != nil {
			return nil
		}

		ctx := c.Request().Context()
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					c.Logger().Infof("stream of events of %s %s/%s is disconnected", kind, ns, name)
					return nil
				}
				if err := b.send(w, resources.EventsUpdate{Type: resources.EventAdded, Object: &ev}); err != nil {
					return nil
				}
				ticker.Reset(b.heartbeat)
			case <-ticker.C:
				if err := w.Comment("heartbeat"); err != nil {
					return nil
				}
			}
		}
	}
}

type tooManyComponents struct {
	Error string `json:"error"`
}

// streamLogs sends logs of an InferenceService as UPDATE, periodically.
func (b *Backend) streamLogs(c echo.Context) error {
	ns, name := c.Param("ns"), c.Param("name")
	components := c.QueryParams()["component"]
	if maxLogComponents < len(components) {
		return c.JSON(http.StatusBadRequest, tooManyComponents{
			Error: fmt.Sprintf("Too many components requested (max %d)", maxLogComponents),
		})
	}

	res := c.Response()
	sse.Header(res.Header())
	res.WriteHeader(http.StatusOK)
	w := sse.NewWriter(res)

	ctx := c.Request().Context()
	ticker := time.NewTicker(b.logInterval)
	defer ticker.Stop()
	for {
		update := resources.LogsUpdate{Type: resources.EventUpdate, Logs: b.Store.Logs(ns, name, components...)}
		if err := b.send(w, update); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Backend) send(w *sse.Writer, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return w.Data(payload)
}
