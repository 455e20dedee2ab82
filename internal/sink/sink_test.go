package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/oremus-labs/agent-dispatch/internal/events"
)

type recordedPublish struct {
	Path    string
	APIKey  string
	Request publishRequest
}

type fakeCentrifugo struct {
	mu       sync.Mutex
	calls    []recordedPublish
	status   int
	response string
}

func (f *fakeCentrifugo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req publishRequest
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.calls = append(f.calls, recordedPublish{Path: r.URL.Path, APIKey: r.Header.Get("X-API-Key"), Request: req})
	status, response := f.status, f.response
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if response == "" {
		response = `{"result":{}}`
	}
	_, _ = w.Write([]byte(response))
}

func TestClientPublishesChunkAndCompletion(t *testing.T) {
	t.Parallel()

	fake := &fakeCentrifugo{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(Options{URL: srv.URL + "/api", Token: "default-token"})
	dest := client.Resolve(Destination{})
	ref := Ref{ResponseID: "t-1", ThreadID: "thread"}

	if err := client.SendChunk(context.Background(), dest, ref, "Hello "); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}
	if err := client.Complete(context.Background(), dest, ref, "Hello ", Metadata{ChunksSent: 1, ChunksTotal: 1}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []recordedPublish{
		{
			Path:   "/api/publish",
			APIKey: "default-token",
			Request: publishRequest{Channel: "t-1", Data: Envelope{
				Type: TypeChunk, ResponseUUID: "t-1", ThreadID: "thread", Content: "Hello ",
			}},
		},
		{
			Path:   "/api/publish",
			APIKey: "default-token",
			Request: publishRequest{Channel: "t-1", Data: Envelope{
				Type: TypeComplete, ResponseUUID: "t-1", ThreadID: "thread", Content: "Hello ",
				Metadata: &Metadata{ChunksSent: 1, ChunksTotal: 1},
			}},
		},
	}
	if diff := cmp.Diff(want, fake.calls); diff != "" {
		t.Fatalf("publish mismatch (-want +got):\n%s", diff)
	}
}

func TestClientReportsDeliveryFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeCentrifugo{
		"http status":      {status: http.StatusUnauthorized},
		"centrifugo error": {response: `{"error":{"code":102,"message":"unknown channel"}}`},
	}
	for name, fake := range cases {
		name, fake := name, fake
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(fake)
			defer srv.Close()

			client := NewClient(Options{URL: srv.URL})
			err := client.SendChunk(context.Background(), client.Resolve(Destination{}), Ref{ResponseID: "r"}, "x")
			if !errors.Is(err, ErrDelivery) {
				t.Fatalf("expected ErrDelivery, got %v", err)
			}
		})
	}
}

func TestClientWithoutURLFails(t *testing.T) {
	t.Parallel()

	client := NewClient(Options{})
	err := client.Complete(context.Background(), client.Resolve(Destination{}), Ref{ResponseID: "r"}, "", Metadata{})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestResolveDoesNotMutateDefaults(t *testing.T) {
	t.Parallel()

	d := NewDefaults("http://default/api", "default-token")

	got := d.Resolve(Destination{URL: "http://override/api"})
	if got != (Destination{URL: "http://override/api", Token: "default-token"}) {
		t.Fatalf("unexpected resolved destination %+v", got)
	}
	if d.Current() != (Destination{URL: "http://default/api", Token: "default-token"}) {
		t.Fatalf("override leaked into defaults: %+v", d.Current())
	}

	d.Reconfigure("http://new/api", "new-token")
	if got := d.Resolve(Destination{}); got != (Destination{URL: "http://new/api", Token: "new-token"}) {
		t.Fatalf("reconfigure not applied: %+v", got)
	}
}

func TestBusSinkPublishesEnvelopes(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(events.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(ctx, "room")

	s := NewBusSink(bus)
	ref := Ref{ResponseID: "t-1", Channel: "room"}
	if err := s.SendChunk(ctx, Destination{}, ref, "hi "); err != nil {
		t.Fatalf("SendChunk: %v", err)
	}
	if err := s.Complete(ctx, Destination{}, ref, "hi ", Metadata{ChunksSent: 1, ChunksTotal: 1}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	for _, wantType := range []string{TypeChunk, TypeComplete} {
		evt := <-ch
		if evt.Type != wantType {
			t.Fatalf("expected %s got %s", wantType, evt.Type)
		}
		var env Envelope
		if err := json.Unmarshal(evt.Data, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.ResponseUUID != "t-1" || env.Content != "hi " {
			t.Fatalf("unexpected envelope %+v", env)
		}
	}
}
