package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/opst/modelsync/internal/testutils/backend"
	apibackend "github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/loop"
	corev1 "k8s.io/api/core/v1"
)

func main() {
	port := flag.Int("port", 8080, "port to listen")
	loglevel := flag.String("loglevel", "warn", "log level. debug|info|warn|error|off")
	nss := flag.String("namespaces", "default", "comma separated namespaces which users can see")
	seed := flag.String("seed", os.Getenv("MODELSYNC_SEED"), "path to seed file (yaml)")
	sse := flag.Bool("sse", true, "report SSE is enabled")
	heartbeat := flag.Duration("heartbeat", backend.DefaultHeartbeat, "interval of heartbeats in idle streams")
	grace := flag.Duration("deletion-grace", 3*time.Second, "how long deleted resources are terminating")
	churn := flag.Duration("churn", 0, "when positive, flip readiness of a random InferenceService at this interval")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store := backend.NewStore()
	if *seed != "" {
		s, err := LoadSeed(*seed)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		s.Into(store)
	}

	app := apibackend.DefaultAppConfig()
	app.SSEEnabled = *sse
	b := backend.New(
		store,
		backend.WithAppConfig(app),
		backend.WithNamespaces(strings.Split(*nss, ",")...),
		backend.WithHeartbeat(*heartbeat),
		backend.WithDeletionGrace(*grace),
	)

	server := b.Build(*loglevel)
	for _, r := range server.Routes() {
		server.Logger.Debugf("- mount handler: %s %s", strings.ToUpper(r.Method), r.Path)
	}

	if 0 < *churn {
		go loop.Start(ctx, struct{}{}, func(ctx context.Context, s struct{}) (struct{}, loop.Next) {
			flip(store, strings.Split(*nss, ","))
			return s, loop.Continue(*churn)
		})
	}

	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		if err := server.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			ch <- err
		}
	}()

	exit := 0
	select {
	case <-ctx.Done():
		server.Logger.Infof("context has been done: %s", context.Cause(ctx))
	case err := <-ch:
		if err != nil {
			server.Logger.Error("server stops with error:", err)
			exit = 1
		}
	}

	server.Logger.Info("shutting down...")
	store.Disconnect()
	qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer qcancel()
	if err := server.Shutdown(qctx); err != nil {
		server.Logger.Errorf("Shutdown with error. %+v", err)
		exit = 1
	}
	os.Exit(exit)
}

// flip toggles the Ready condition of a random InferenceService.
func flip(store *backend.Store, nss []string) {
	items := []resources.Resource{}
	for _, ns := range nss {
		items = append(items, store.List(resources.KindInferenceService, ns)...)
	}
	if len(items) == 0 {
		return
	}
	r := items[rand.IntN(len(items))]
	if r.Terminating() {
		return
	}

	ready := corev1.ConditionTrue
	if r.Status != nil {
		for _, c := range r.Status.Conditions {
			if c.Type == "Ready" && c.Status == corev1.ConditionTrue {
				ready = corev1.ConditionFalse
			}
		}
	}
	cond := resources.Condition{Type: "Ready", Status: ready}
	if ready != corev1.ConditionTrue {
		cond.Reason = "RevisionMissing"
		cond.Message = "Revision is not ready."
	}
	r.Status = &resources.Status{Conditions: []resources.Condition{cond}}
	store.Put(resources.KindInferenceService, r)
}
