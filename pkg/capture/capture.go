// Package capture streams bus topics to disk in json, csv, or raw form.
package capture

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/store"
	"github.com/roostlabs/roost/pkg/tool"
)

// Formats accepted by Start.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatRaw  = "raw"
)

// Subscriber is the slice of the topic bridge the router needs.
type Subscriber interface {
	Subscribe(suffix string, callback func(bus.Sample)) error
	Decode(s bus.Sample) bus.Decoded
}

// Router manages active captures. Each capture subscribes to one topic and
// appends samples to files under its output directory until stopped.
type Router struct {
	bridge   Subscriber
	captures store.CaptureStore
	policy   tool.Policy

	mu     sync.Mutex
	active map[string]*writer
}

func NewRouter(bridge Subscriber, captures store.CaptureStore, policy tool.Policy) *Router {
	return &Router{
		bridge:   bridge,
		captures: captures,
		policy:   policy,
		active:   make(map[string]*writer),
	}
}

// writer is the per-capture sink. Samples for one topic arrive serially from
// the bridge, but Stop races with delivery, so state is locked.
type writer struct {
	mu      sync.Mutex
	cap     domain.Capture
	stopped bool

	csvHeader []string
	rawFiles  []string
}

// Start begins capturing a topic. The output path must fall inside an
// allowed prefix even when called internally: captures outlive the tool
// call that created them.
func (r *Router) Start(ctx context.Context, topic, outputPath, format string, maxFiles int) (domain.Capture, error) {
	switch format {
	case FormatJSON, FormatCSV, FormatRaw:
	default:
		return domain.Capture{}, fmt.Errorf("unknown format %q (want json, csv, or raw)", format)
	}
	if err := r.policy.CheckPath(outputPath); err != nil {
		return domain.Capture{}, err
	}
	if maxFiles <= 0 {
		maxFiles = 100
	}
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return domain.Capture{}, fmt.Errorf("creating output dir: %w", err)
	}

	c := domain.Capture{
		ID:         "cap-" + uuid.NewString()[:8],
		Topic:      topic,
		OutputPath: outputPath,
		Format:     format,
		MaxFiles:   maxFiles,
		StartedAt:  time.Now(),
		Active:     true,
	}
	if err := r.captures.SaveCapture(ctx, &c); err != nil {
		return domain.Capture{}, fmt.Errorf("persisting capture: %w", err)
	}
	if err := r.attach(c); err != nil {
		return domain.Capture{}, err
	}
	slog.Info("Capture started", "id", c.ID, "topic", topic, "format", format, "path", outputPath)
	return c, nil
}

// Resume re-attaches persisted captures after a restart. Only samples
// arriving from now on are written; nothing is backfilled.
func (r *Router) Resume(ctx context.Context) error {
	caps, err := r.captures.ListCaptures(ctx)
	if err != nil {
		return fmt.Errorf("listing captures: %w", err)
	}
	for _, c := range caps {
		if err := r.attach(c); err != nil {
			slog.Warn("Failed to resume capture", "id", c.ID, "error", err)
			continue
		}
		slog.Info("Capture resumed", "id", c.ID, "topic", c.Topic)
	}
	return nil
}

func (r *Router) attach(c domain.Capture) error {
	w := &writer{cap: c}
	r.mu.Lock()
	r.active[c.ID] = w
	r.mu.Unlock()

	return r.bridge.Subscribe(c.Topic, func(s bus.Sample) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped {
			return
		}
		if err := w.write(s, r.bridge.Decode(s)); err != nil {
			slog.Warn("Capture write failed", "id", w.cap.ID, "error", err)
		}
	})
}

// Stop deactivates a capture, flushes its counters, and removes it from the
// active set. The bus subscription stays but delivers into a stopped writer.
func (r *Router) Stop(ctx context.Context, id string) (domain.Capture, error) {
	r.mu.Lock()
	w, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if !ok {
		return domain.Capture{}, fmt.Errorf("capture %s: %w", id, store.ErrNotFound)
	}

	w.mu.Lock()
	w.stopped = true
	w.cap.Active = false
	final := w.cap
	w.mu.Unlock()

	if err := r.captures.SaveCapture(ctx, &final); err != nil {
		return domain.Capture{}, fmt.Errorf("persisting capture: %w", err)
	}
	slog.Info("Capture stopped", "id", id, "samples", final.SamplesReceived, "bytes", final.BytesWritten)
	return final, nil
}

// List returns active captures with live counters.
func (r *Router) List() []domain.Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Capture, 0, len(r.active))
	for _, w := range r.active {
		w.mu.Lock()
		out = append(out, w.cap)
		w.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (w *writer) write(s bus.Sample, d bus.Decoded) error {
	var n int64
	var err error
	switch w.cap.Format {
	case FormatJSON:
		n, err = w.writeJSON(s, d)
	case FormatCSV:
		n, err = w.writeCSV(s, d)
	case FormatRaw:
		n, err = w.writeRaw(s)
	}
	if err != nil {
		return err
	}
	w.cap.SamplesReceived++
	w.cap.BytesWritten += n
	return nil
}

func (w *writer) writeJSON(s bus.Sample, d bus.Decoded) (int64, error) {
	record := map[string]any{
		"timestamp": s.Timestamp.Format(time.RFC3339Nano),
		"topic":     s.Key,
		"data":      d.Value,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	line = append(line, '\n')
	return w.appendFile("data.jsonl", line)
}

func (w *writer) writeCSV(s bus.Sample, d bus.Decoded) (int64, error) {
	fields, ok := d.Value.(map[string]any)
	if !ok {
		// Non-object samples get a single value column.
		fields = map[string]any{"value": d.String()}
	}

	path := filepath.Join(w.cap.OutputPath, "data.csv")
	newFile := w.csvHeader == nil
	if newFile {
		// Header is fixed by the first sample; later samples are projected
		// onto it.
		w.csvHeader = []string{"timestamp"}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.csvHeader = append(w.csvHeader, keys...)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if newFile {
		if err := cw.Write(w.csvHeader); err != nil {
			return 0, err
		}
		w.cap.FilesWritten++
	}
	row := make([]string, len(w.csvHeader))
	row[0] = s.Timestamp.Format(time.RFC3339Nano)
	for i, col := range w.csvHeader[1:] {
		if v, ok := fields[col]; ok {
			row[i+1] = fmt.Sprintf("%v", v)
		}
	}
	if err := cw.Write(row); err != nil {
		return 0, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return int64(len(strings.Join(row, ",")) + 1), nil
}

func (w *writer) writeRaw(s bus.Sample) (int64, error) {
	name := fmt.Sprintf("%08d.bin", w.cap.SamplesReceived)
	path := filepath.Join(w.cap.OutputPath, name)
	if err := os.WriteFile(path, s.Payload, 0o644); err != nil {
		return 0, err
	}
	w.cap.FilesWritten++
	w.rawFiles = append(w.rawFiles, path)
	// Oldest files are dropped once the cap is hit, keeping disk bounded.
	for len(w.rawFiles) > w.cap.MaxFiles {
		old := w.rawFiles[0]
		w.rawFiles = w.rawFiles[1:]
		if err := os.Remove(old); err != nil {
			slog.Debug("Failed to remove rotated file", "path", old, "error", err)
		}
	}
	return int64(len(s.Payload)), nil
}

func (w *writer) appendFile(name string, data []byte) (int64, error) {
	path := filepath.Join(w.cap.OutputPath, name)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if os.IsNotExist(statErr) {
		w.cap.FilesWritten++
	}
	n, err := f.Write(data)
	return int64(n), err
}
