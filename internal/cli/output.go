package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/oremus-labs/agent-dispatch/internal/sink"
)

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func flushTable(tw *tabwriter.Writer) {
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush table: %v\n", err)
	}
}

// syncWriter serializes writes from the event printer and the command.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printEnvelope renders one stream event on a single line.
func printEnvelope(w io.Writer, kind string, raw []byte) {
	var env sink.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Fprintf(w, "  %-8s %s\n", kind, raw)
		return
	}
	switch kind {
	case sink.TypeComplete:
		meta := ""
		if env.Metadata != nil {
			meta = fmt.Sprintf(" (chunks %d/%d truncated=%t)", env.Metadata.ChunksSent, env.Metadata.ChunksTotal, env.Metadata.Truncated)
		}
		fmt.Fprintf(w, "  %-8s %s %q%s\n", kind, env.ResponseUUID, env.Content, meta)
	default:
		fmt.Fprintf(w, "  %-8s %s %q\n", kind, env.ResponseUUID, env.Content)
	}
}
