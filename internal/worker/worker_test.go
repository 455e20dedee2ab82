package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/agent-dispatch/internal/agent"
	"github.com/oremus-labs/agent-dispatch/internal/chat"
	"github.com/oremus-labs/agent-dispatch/internal/queue"
	"github.com/oremus-labs/agent-dispatch/internal/sink"
	"github.com/oremus-labs/agent-dispatch/internal/sink/sinktest"
)

func newAgent(t *testing.T, rec *sinktest.Recorder) *agent.Processor {
	t.Helper()
	p, err := agent.NewProcessor(agent.Options{Sink: rec, Source: agent.CannedSource{Text: "hello there"}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func TestBatchIsolatesMalformedRecord(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://stream/api", "token")
	bp := NewBatchProcessor(newAgent(t, rec), nil)

	result := bp.ProcessBatch(context.Background(), []queue.Record{
		{ID: "1", Source: queue.SourceSQS, Body: []byte(`{"message":"a","response_uuid":"r-1"}`)},
		{ID: "2", Source: queue.SourceSQS, Body: []byte(`{not json`)},
		{ID: "3", Source: queue.SourceSQS, Body: []byte(`{"message":"c","response_uuid":"r-3"}`)},
	})

	if result.Succeeded() != 2 || result.Failed() != 1 {
		t.Fatalf("unexpected aggregate: %d ok %d failed", result.Succeeded(), result.Failed())
	}
	if !errors.Is(result.Results[1].Err, chat.ErrInvalidPayload) {
		t.Fatalf("expected record 2 to fail parsing, got %v", result.Results[1].Err)
	}
	for _, id := range []string{"r-1", "r-3"} {
		if n := len(rec.Filter(sink.TypeComplete, id)); n != 1 {
			t.Fatalf("expected one completion for %s got %d", id, n)
		}
	}
}

func TestBatchAppliesOverridePerRecord(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("http://default/api", "default")
	bp := NewBatchProcessor(newAgent(t, rec), nil)

	bp.ProcessBatch(context.Background(), []queue.Record{
		{ID: "1", Body: []byte(`{"response_uuid":"a","stream_url":"http://override/api","stream_token":"o"}`)},
		{ID: "2", Body: []byte(`{"response_uuid":"b"}`)},
	})

	got := []sink.Destination{
		rec.Filter(sink.TypeComplete, "a")[0].Dest,
		rec.Filter(sink.TypeComplete, "b")[0].Dest,
	}
	want := []sink.Destination{
		{URL: "http://override/api", Token: "o"},
		{URL: "http://default/api", Token: "default"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("destinations mismatch (-want +got):\n%s", diff)
	}
}

type panicProcessor struct{}

func (panicProcessor) Process(context.Context, *chat.Message) error { panic("boom") }

func TestBatchRecoversFromPanics(t *testing.T) {
	t.Parallel()

	bp := NewBatchProcessor(panicProcessor{}, nil)
	result := bp.ProcessBatch(context.Background(), []queue.Record{
		{ID: "1", Body: []byte(`{"response_uuid":"a"}`)},
		{ID: "2", Body: []byte(`{"response_uuid":"b"}`)},
	})
	if result.Failed() != 2 {
		t.Fatalf("expected both records to fail, got %d", result.Failed())
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	rec := sinktest.New("", "")
	result := NewBatchProcessor(newAgent(t, rec), nil).ProcessBatch(context.Background(), nil)
	if len(result.Results) != 0 || len(rec.Calls()) != 0 {
		t.Fatalf("expected no work for empty batch")
	}
}

type fakeSource struct {
	mu      sync.Mutex
	batches [][]queue.Record
	acked   []string
	done    chan struct{}
}

func (f *fakeSource) EnsureGroup(context.Context) error { return nil }

func (f *fakeSource) NextBatch(ctx context.Context, _ int) ([]queue.Record, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		next := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return next, nil
	}
	f.mu.Unlock()

	select {
	case <-f.done:
	default:
		close(f.done)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) Ack(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func TestRunnerAcksEveryRecord(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		batches: [][]queue.Record{{
			{ID: "1", Body: []byte(`{"response_uuid":"a"}`)},
			{ID: "2", Body: []byte(`oops`)},
		}},
		done: make(chan struct{}),
	}
	rec := sinktest.New("http://stream/api", "")
	runner := New(Options{Consumer: src, Batch: NewBatchProcessor(newAgent(t, rec), nil)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	select {
	case <-src.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not drain the batch")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if diff := cmp.Diff([]string{"1", "2"}, src.acked); diff != "" {
		t.Fatalf("acked mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerConsumesRedisStream(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	consumer := queue.NewConsumer(rdb, "s", "g", "w")
	consumer.SetBlock(20 * time.Millisecond)
	producer := queue.NewProducer(rdb, "s")

	rec := sinktest.New("http://stream/api", "")
	runner := New(Options{Consumer: consumer, Batch: NewBatchProcessor(newAgent(t, rec), nil)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if _, err := producer.Enqueue(ctx, []byte(`{"message":"hi","response_uuid":"t-1"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.Filter(sink.TypeComplete, "t-1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for completion")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-errCh
}
