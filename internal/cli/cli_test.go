package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/oremus-labs/agent-dispatch/config"
	"github.com/oremus-labs/agent-dispatch/internal/agent"
	"github.com/oremus-labs/agent-dispatch/internal/app"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSimulateRunsEveryFlow(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := runSimulate(context.Background(), &buf, &config.Config{}, &simulateOptions{
		message: "hi",
		flows:   []string{FlowHTTP, FlowQueue, FlowCron},
		source:  agent.CannedSource{Text: "hello world"},
	})
	if err != nil {
		t.Fatalf("runSimulate: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"==> http flow (http)",
		`"status":"ok"`,
		"==> queue flow (queue)",
		`<== queue result: {"statusCode":200}`,
		"==> cron flow (scheduled)",
		`<== cron result: {"statusCode":200}`,
		`"hello world "`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "complete "); n != 2 {
		t.Fatalf("expected two completions (http + queue) got %d:\n%s", n, out)
	}
}

func TestSimulateRejectsUnknownFlow(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := runSimulate(context.Background(), &buf, &config.Config{}, &simulateOptions{flows: []string{"ftp"}, source: agent.CannedSource{Text: "x"}})
	if err == nil || !strings.Contains(err.Error(), "unknown flow") {
		t.Fatalf("expected unknown flow error got %v", err)
	}
}

func TestStreamChannelParsesEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stream/room" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event:ready\ndata:{\"channel\":\"room\"}\n\n")
		fmt.Fprint(w, ": comment\n\n")
		fmt.Fprint(w, "event:chunk\ndata:{\"content\":\"hi \"}\n\n")
		fmt.Fprint(w, "event:complete\ndata:{\"content\":\"hi \"}\n\n")
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL}
	var got []string
	err := client.StreamChannel(context.Background(), "room", func(evt StreamEvent) bool {
		got = append(got, evt.Type+" "+string(evt.Data))
		return evt.Type != "complete"
	})
	if err != nil {
		t.Fatalf("StreamChannel: %v", err)
	}
	want := []string{
		`ready {"channel":"room"}`,
		`chunk {"content":"hi "}`,
		`complete {"content":"hi "}`,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSendFollowsDevStream(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), &config.Config{DevMode: true}, nil, app.Options{Source: agent.CannedSource{Text: "fix your titles"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()
	ts := httptest.NewServer(a.Server.Engine())
	defer ts.Close()

	var buf bytes.Buffer
	err = runSend(context.Background(), &syncWriter{w: &buf}, &Client{BaseURL: ts.URL}, &sendOptions{
		message:      "hi",
		responseUUID: "t-1",
		follow:       true,
	})
	if err != nil {
		t.Fatalf("runSend: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ok", "t-1", `chunk    t-1 "fix "`, `complete t-1 "fix your titles "`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
