package sse_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opst/modelsync/pkg/api/types/resources"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/eventstream"
	"github.com/opst/modelsync/pkg/sse"
)

func receive(t *testing.T, s eventstream.Stream) (eventstream.Message, bool) {
	t.Helper()
	select {
	case m, ok := <-s.Messages():
		return m, ok
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
		return eventstream.Message{}, false
	}
}

func writeFrames(w http.ResponseWriter, frames ...string) {
	for _, f := range frames {
		fmt.Fprint(w, f)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestSubscribe(t *testing.T) {
	t.Run("it delivers events, ignoring heartbeats", func(t *testing.T) {
		var accept string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept = r.Header.Get("Accept")
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			writeFrames(
				w,
				": heartbeat\n\n",
				`data: {"type":"INITIAL","object":{"items":[{"metadata":{"name":"m1","namespace":"kf"}}]}}`+"\n\n",
				"\n\n",
				`data: {"type":"DELETED","object":{"metadata":{"name":"m1","namespace":"kf"}}}`+"\n\n",
			)
			<-r.Context().Done()
		}))
		defer server.Close()

		testee := sse.Subscribe(context.Background(), sse.HTTPDialer{}, server.URL)
		defer testee.Cancel()

		first, _ := receive(t, testee)
		if first.Err != nil || first.Event.Type != resources.EventInitial || len(first.Event.Items) != 1 {
			t.Errorf("unexpected first message: %+v", first)
		}
		second, _ := receive(t, testee)
		if second.Err != nil || second.Event.Type != resources.EventDeleted || second.Event.Object.Name != "m1" {
			t.Errorf("unexpected second message: %+v", second)
		}
		if accept != "text/event-stream" {
			t.Errorf("unexpected Accept header: %s", accept)
		}
	})

	t.Run("when connections keep failing, it ends with a transport error after max attempts", func(t *testing.T) {
		requests := new(atomic.Int32)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		testee := sse.Subscribe(
			context.Background(), sse.HTTPDialer{}, server.URL,
			sse.WithReconnectDelay(time.Millisecond),
		)
		defer testee.Cancel()

		m, ok := receive(t, testee)
		if !ok || !errors.Is(m.Err, xe.ErrTransport) {
			t.Fatalf("unexpected message: %+v (ok = %v)", m, ok)
		}
		if _, ok := receive(t, testee); ok {
			t.Error("stream is not closed after the error")
		}
		if n := requests.Load(); n != sse.DefaultMaxAttempts {
			t.Errorf("unexpected attempts: %d", n)
		}
	})

	t.Run("when a message is delivered between failures, attempts are reset", func(t *testing.T) {
		requests := new(atomic.Int32)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := requests.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			if n <= 4 {
				// deliver one event and close the connection.
				writeFrames(w, fmt.Sprintf(
					`data: {"type":"ADDED","object":{"metadata":{"name":"m%d","namespace":"kf"}}}`+"\n\n", n,
				))
			}
		}))
		defer server.Close()

		testee := sse.Subscribe(
			context.Background(), sse.HTTPDialer{}, server.URL,
			sse.WithReconnectDelay(time.Millisecond),
		)
		defer testee.Cancel()

		for i := 1; i <= 4; i++ {
			m, _ := receive(t, testee)
			if m.Err != nil {
				t.Fatalf("#%d: unexpected error: %v", i, m.Err)
			}
		}

		m, _ := receive(t, testee)
		if !errors.Is(m.Err, xe.ErrTransport) {
			t.Errorf("unexpected message: %+v", m)
		}
		// 4 connections with a message, then 3 failing ones
		if n := requests.Load(); n != 4+sse.DefaultMaxAttempts-1 {
			t.Errorf("unexpected requests: %d", n)
		}
	})

	t.Run("when a frame is malformed, it ends with a decode error without reconnecting", func(t *testing.T) {
		requests := new(atomic.Int32)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusOK)
			writeFrames(w, "data: {not json\n\n")
			<-r.Context().Done()
		}))
		defer server.Close()

		testee := sse.Subscribe(context.Background(), sse.HTTPDialer{}, server.URL)
		defer testee.Cancel()

		m, _ := receive(t, testee)
		if !errors.Is(m.Err, xe.ErrDecode) {
			t.Errorf("unexpected message: %+v", m)
		}
		if n := requests.Load(); n != 1 {
			t.Errorf("unexpected requests: %d", n)
		}
	})

	t.Run("when it is cancelled, the connection is closed and the channel is closed", func(t *testing.T) {
		closed := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			writeFrames(w, ": hello\n\n")
			<-r.Context().Done()
			close(closed)
		}))
		defer server.Close()

		testee := sse.Subscribe(context.Background(), sse.HTTPDialer{}, server.URL)
		time.Sleep(10 * time.Millisecond)
		testee.Cancel()
		testee.Cancel()

		if _, ok := receive(t, testee); ok {
			t.Error("channel is not closed")
		}
		select {
		case <-closed:
		case <-time.After(3 * time.Second):
			t.Error("connection is not closed")
		}
	})

	t.Run("the server's retry field overrides the reconnect delay", func(t *testing.T) {
		requests := new(atomic.Int32)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusOK)
			writeFrames(w, "retry: 1\n\n")
		}))
		defer server.Close()

		testee := sse.Subscribe(
			context.Background(), sse.HTTPDialer{}, server.URL,
			sse.WithReconnectDelay(time.Hour),
		)
		defer testee.Cancel()

		m, _ := receive(t, testee)
		if !errors.Is(m.Err, xe.ErrTransport) {
			t.Errorf("unexpected message: %+v", m)
		}
	})
}

type fakeDialer struct {
	bodies []string
	n      int
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string, lastEventID string) (io.ReadCloser, error) {
	if len(d.bodies) <= d.n {
		return nil, errors.New("no more")
	}
	b := d.bodies[d.n]
	d.n += 1
	return io.NopCloser(strings.NewReader(b)), nil
}

func TestSubscribe_WithDialer(t *testing.T) {
	t.Run("it uses the given dialer, and ERROR events are delivered as events", func(t *testing.T) {
		d := &fakeDialer{bodies: []string{
			`data: {"type":"ERROR","object":{"message":"too old resource version"}}` + "\n\n",
		}}
		testee := sse.Subscribe(
			context.Background(), d, "fake://",
			sse.WithReconnectDelay(time.Millisecond), sse.WithMaxAttempts(1),
		)
		defer testee.Cancel()

		m, _ := receive(t, testee)
		if m.Err != nil || m.Event.Type != resources.EventError || m.Event.Message != "too old resource version" {
			t.Errorf("unexpected message: %+v", m)
		}
		if testee.Endpoint() != "fake://" {
			t.Errorf("unexpected endpoint: %s", testee.Endpoint())
		}
	})
}

func TestSubscribeFeed(t *testing.T) {
	t.Run("it decodes events of a resource, in the INITIAL-then-changes shape", func(t *testing.T) {
		d := &fakeDialer{bodies: []string{
			`data: {"type":"INITIAL","object":null,"items":[{"metadata":{"name":"e1"},"reason":"Created"}]}` + "\n\n" +
				": ping\n\n" +
				`data: {"type":"ADDED","object":{"metadata":{"name":"e2"},"reason":"Ready"},"items":null}` + "\n\n" +
				`data: {"type":"ERROR","object":{"message":"watch expired"},"items":null}` + "\n\n",
		}}
		testee := sse.SubscribeFeed[resources.EventsUpdate](
			context.Background(), d, "fake://events",
			sse.WithReconnectDelay(time.Millisecond), sse.WithMaxAttempts(1),
		)
		defer testee.Cancel()

		got := []resources.EventsUpdate{}
		var last error
		for u := range testee.Updates() {
			if u.Err != nil {
				last = u.Err
				continue
			}
			got = append(got, u.Value)
		}

		if len(got) != 3 {
			t.Fatalf("unexpected updates: %+v", got)
		}
		if got[0].Type != resources.EventInitial || len(got[0].Items) != 1 || got[0].Items[0].Reason != "Created" {
			t.Errorf("unexpected INITIAL: %+v", got[0])
		}
		if got[1].Type != resources.EventAdded || got[1].Object == nil || got[1].Object.Reason != "Ready" {
			t.Errorf("unexpected ADDED: %+v", got[1])
		}
		if got[2].Type != resources.EventError || got[2].Message != "watch expired" {
			t.Errorf("unexpected ERROR: %+v", got[2])
		}
		if !errors.Is(last, xe.ErrTransport) {
			t.Errorf("feed does not end with transport error: %v", last)
		}
		if testee.Endpoint() != "fake://events" {
			t.Errorf("unexpected endpoint: %s", testee.Endpoint())
		}
	})

	t.Run("it decodes logs per component and pod", func(t *testing.T) {
		d := &fakeDialer{bodies: []string{
			`data: {"type":"UPDATE","logs":{"predictor":[{"podName":"p-1","logs":["a","b"]}]},"message":null}` + "\n\n" +
				`data: {"type":"UPDATE","logs":{},"message":null}` + "\n\n",
		}}
		testee := sse.SubscribeFeed[resources.LogsUpdate](
			context.Background(), d, "fake://logs",
			sse.WithReconnectDelay(time.Millisecond), sse.WithMaxAttempts(1),
		)
		defer testee.Cancel()

		first := <-testee.Updates()
		if first.Err != nil || first.Value.Type != resources.EventUpdate {
			t.Fatalf("unexpected update: %+v", first)
		}
		pods := first.Value.Logs["predictor"]
		if len(pods) != 1 || pods[0].PodName != "p-1" || strings.Join(pods[0].Logs, ",") != "a,b" {
			t.Errorf("unexpected logs: %+v", first.Value.Logs)
		}

		second := <-testee.Updates()
		if second.Err != nil || len(second.Value.Logs) != 0 {
			t.Errorf("unexpected update: %+v", second)
		}
	})

	t.Run("when a frame has an unknown type, it ends with a decode error", func(t *testing.T) {
		d := &fakeDialer{bodies: []string{
			`data: {"type":"RESYNC","logs":{}}` + "\n\n",
		}}
		testee := sse.SubscribeFeed[resources.LogsUpdate](context.Background(), d, "fake://logs")
		defer testee.Cancel()

		u := <-testee.Updates()
		if !errors.Is(u.Err, xe.ErrDecode) {
			t.Errorf("unexpected update: %+v", u)
		}
		if _, ok := <-testee.Updates(); ok {
			t.Error("feed is not closed")
		}
	})
}
