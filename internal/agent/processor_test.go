package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/profile"
	"github.com/oremus-labs/agent-dispatch/internal/sink"
	"github.com/oremus-labs/agent-dispatch/internal/sink/sinktest"
	"github.com/oremus-labs/agent-dispatch/internal/store"
)

type failingSource struct {
	before []string
	err    error
}

func (s failingSource) Stream(context.Context, *chat.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, frag := range s.before {
			if !yield(frag, nil) {
				return
			}
		}
		yield("", s.err)
	}
}

// staticSource yields fixed fragments and ignores cancellation.
type staticSource []string

func (s staticSource) Stream(context.Context, *chat.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, frag := range s {
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// cancellingSink cancels the request context after the first delivered chunk.
type cancellingSink struct {
	*sinktest.Recorder
	cancel context.CancelFunc
}

func (s cancellingSink) SendChunk(ctx context.Context, dest sink.Destination, ref sink.Ref, text string) error {
	err := s.Recorder.SendChunk(ctx, dest, ref, text)
	s.cancel()
	return err
}

func newTestProcessor(t *testing.T, rec *sinktest.Recorder, src Source, ledger Ledger) *Processor {
	t.Helper()
	p, err := NewProcessor(Options{Sink: rec, Source: src, Ledger: ledger})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func TestFragmentsSplitOnWords(t *testing.T) {
	t.Parallel()

	got := Fragments("  Hello   brave\nnew world ")
	want := []string{"Hello ", "brave ", "new ", "world "}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fragments mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessStreamsChunksThenCompletes(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://stream/api", "token")
	p := newTestProcessor(t, rec, CannedSource{Text: "one two three"}, nil)

	if err := p.Process(context.Background(), &chat.Message{Message: "hi", ResponseUUID: "t-1"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 3 chunks and 1 completion, got %d calls", len(calls))
	}
	var streamed strings.Builder
	for _, c := range calls[:3] {
		if c.Type != sink.TypeChunk {
			t.Fatalf("expected chunk got %s", c.Type)
		}
		streamed.WriteString(c.Text)
	}
	final := calls[3]
	if final.Type != sink.TypeComplete {
		t.Fatalf("expected completion last, got %s", final.Type)
	}
	if streamed.String() != final.Text {
		t.Fatalf("chunks %q do not reconstruct completion %q", streamed.String(), final.Text)
	}
	if diff := cmp.Diff(sink.Metadata{ChunksSent: 3, ChunksTotal: 3}, final.Meta); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
	if final.Dest != (sink.Destination{URL: "http://stream/api", Token: "token"}) {
		t.Fatalf("unexpected destination %+v", final.Dest)
	}
}

func TestProcessCompletesOnceWhenEveryChunkFails(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://stream/api", "token")
	rec.FailChunks = true
	p := newTestProcessor(t, rec, CannedSource{Text: "alpha beta gamma delta"}, nil)

	if err := p.Process(context.Background(), &chat.Message{ResponseUUID: "r-1"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if chunks := rec.Filter(sink.TypeChunk, "r-1"); len(chunks) != 1 {
		t.Fatalf("expected emission to halt after first failure, got %d chunk calls", len(chunks))
	}
	completes := rec.Filter(sink.TypeComplete, "r-1")
	if len(completes) != 1 {
		t.Fatalf("expected exactly one completion got %d", len(completes))
	}
	got := completes[0]
	if got.Text != "alpha beta gamma delta " {
		t.Fatalf("expected full text in completion, got %q", got.Text)
	}
	if diff := cmp.Diff(sink.Metadata{ChunksSent: 0, ChunksTotal: 4, Truncated: true}, got.Meta); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessSwallowsCompletionFailure(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://stream/api", "")
	rec.FailComplete = true
	p := newTestProcessor(t, rec, CannedSource{Text: "ok"}, nil)

	if err := p.Process(context.Background(), &chat.Message{ResponseUUID: "r-2"}); err != nil {
		t.Fatalf("completion failure must not surface, got %v", err)
	}
	if n := len(rec.Filter(sink.TypeComplete, "r-2")); n != 1 {
		t.Fatalf("expected one completion attempt got %d", n)
	}
}

func TestProcessUsesPerRequestOverrideWithoutLeaking(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://default/api", "default-token")
	p := newTestProcessor(t, rec, CannedSource{Text: "x"}, nil)

	ctx := context.Background()
	if err := p.Process(ctx, &chat.Message{ResponseUUID: "a", StreamURL: "http://override/api", StreamToken: "override-token"}); err != nil {
		t.Fatalf("Process a: %v", err)
	}
	if err := p.Process(ctx, &chat.Message{ResponseUUID: "b"}); err != nil {
		t.Fatalf("Process b: %v", err)
	}

	a := rec.Filter(sink.TypeComplete, "a")[0].Dest
	b := rec.Filter(sink.TypeComplete, "b")[0].Dest
	if a != (sink.Destination{URL: "http://override/api", Token: "override-token"}) {
		t.Fatalf("override not applied: %+v", a)
	}
	if b != (sink.Destination{URL: "http://default/api", Token: "default-token"}) {
		t.Fatalf("override leaked into next request: %+v", b)
	}
}

func TestProcessReportsGenerationFault(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	rec := sinktest.New("http://stream/api", "")
	p := newTestProcessor(t, rec, failingSource{before: []string{"partial "}, err: boom}, nil)

	err := p.Process(context.Background(), &chat.Message{ResponseUUID: "r-3"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected generation fault, got %v", err)
	}

	var kinds []string
	for _, c := range rec.Calls() {
		kinds = append(kinds, c.Type)
	}
	if diff := cmp.Diff([]string{sink.TypeChunk, sink.TypeError, sink.TypeComplete}, kinds); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
	final := rec.Filter(sink.TypeComplete, "r-3")[0]
	if final.Text != "partial " || final.Meta.Error != GenericErrorMessage {
		t.Fatalf("unexpected completion %+v", final)
	}
}

func TestProcessSkipsCompletedResponses(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://stream/api", "")
	ledger := store.NewMemory()
	p := newTestProcessor(t, rec, CannedSource{Text: "hello world"}, ledger)

	msg := &chat.Message{ResponseUUID: "dup"}
	for i := 0; i < 2; i++ {
		if err := p.Process(context.Background(), msg); err != nil {
			t.Fatalf("Process #%d: %v", i, err)
		}
	}

	if n := len(rec.Filter(sink.TypeComplete, "dup")); n != 1 {
		t.Fatalf("expected one completion across redelivery got %d", n)
	}
	stored, err := ledger.GetResponse(context.Background(), "dup")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if stored.Status != store.ResponseCompleted || stored.ChunksSent != 2 {
		t.Fatalf("unexpected ledger record %+v", stored)
	}
}

func TestProcessConcurrentDuplicatesCompleteOnce(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://stream/api", "")
	ledger := store.NewMemory()
	p := newTestProcessor(t, rec, CannedSource{Text: "one two three four five"}, ledger)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Process(context.Background(), &chat.Message{ResponseUUID: "dup"}); err != nil {
				t.Errorf("Process: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(rec.Filter(sink.TypeComplete, "dup")); n != 1 {
		t.Fatalf("expected one completion for concurrent deliveries got %d", n)
	}
	if n := len(rec.Filter(sink.TypeChunk, "dup")); n != 5 {
		t.Fatalf("expected a single run of 5 chunks got %d", n)
	}
}

func TestProcessCancelledWhilePacingStillCompletes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := sinktest.New("http://stream/api", "")
	p, err := NewProcessor(Options{
		Sink:          cancellingSink{Recorder: rec, cancel: cancel},
		Source:        staticSource{"one ", "two ", "three "},
		ChunkInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	if err := p.Process(ctx, &chat.Message{ResponseUUID: "paced"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected one chunk then the completion, got %+v", calls)
	}
	if calls[0].Type != sink.TypeChunk || calls[0].Text != "one " {
		t.Fatalf("unexpected first call %+v", calls[0])
	}
	final := calls[1]
	if final.Type != sink.TypeComplete || final.Text != "one two three " {
		t.Fatalf("unexpected completion %+v", final)
	}
	want := sink.Metadata{ChunksSent: 1, ChunksTotal: 3, Truncated: true}
	if diff := cmp.Diff(want, final.Meta); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessRejectsMissingResponseID(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("", "")
	p := newTestProcessor(t, rec, CannedSource{Text: "x"}, nil)
	if err := p.Process(context.Background(), &chat.Message{}); !errors.Is(err, chat.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload got %v", err)
	}
	if len(rec.Calls()) != 0 {
		t.Fatalf("expected no sink calls")
	}
}

func TestOpenAISourceStreamsDeltas(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer payload-key" {
			http.Error(w, `{"error":{"message":"payload key must win"}}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Audit ", "", "your ", "titles."} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	src := NewOpenAISource(OpenAIOptions{APIKey: "process-key", BaseURL: srv.URL + "/v1", Profile: profile.Default()})
	msg := &chat.Message{
		Message:      "how do I rank?",
		ResponseUUID: "r",
		Variables:    []chat.Variable{{Name: APIKeyVariable, Value: "payload-key"}},
	}

	var got []string
	for frag, err := range src.Stream(context.Background(), msg) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got = append(got, frag)
	}
	if diff := cmp.Diff([]string{"Audit ", "your ", "titles."}, got); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectSourceFallsBackToCanned(t *testing.T) {
	t.Parallel()

	src := NewSource(profile.Profile{CannedReply: "canned reply"}, "", "")
	var got []string
	for frag, err := range src.Stream(context.Background(), &chat.Message{ResponseUUID: "r"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		got = append(got, frag)
	}
	if diff := cmp.Diff([]string{"canned ", "reply "}, got); diff != "" {
		t.Fatalf("fragments mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAISourceRequiresKey(t *testing.T) {
	t.Parallel()

	src := NewOpenAISource(OpenAIOptions{Profile: profile.Default()})
	for _, err := range src.Stream(context.Background(), &chat.Message{ResponseUUID: "r"}) {
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Fatalf("expected ErrMissingAPIKey got %v", err)
		}
		return
	}
	t.Fatalf("expected an error from the stream")
}
