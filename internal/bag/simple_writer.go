package bag

import "go.uber.org/zap"

// SimpleBagWriter is the public writer entry point; it wraps an
// AsyncWriter (spec §4.E), which owns the single writer goroutine, queue,
// and rotation/retention machinery. Kept as a separate type so callers
// depend on a narrow name rather than the queue/rotation internals.
type SimpleBagWriter struct {
	async *AsyncWriter
}

// NewSimpleBagWriter creates a SimpleBagWriter backed by a new AsyncWriter.
func NewSimpleBagWriter(dir string, queueCap int, rotation RotationPolicy, retain RetentionPolicy, log *zap.Logger) (*SimpleBagWriter, error) {
	async, err := NewAsyncWriter(dir, queueCap, rotation, retain, log)
	if err != nil {
		return nil, err
	}
	return &SimpleBagWriter{async: async}, nil
}

// AppendAsync is non-blocking; returns false if the queue is full.
func (w *SimpleBagWriter) AppendAsync(msg Message) bool { return w.async.AppendAsync(msg) }

// Append blocks until msg is accepted into the writer queue; it does not
// wait for msg to be written or flushed.
func (w *SimpleBagWriter) Append(msg Message) bool { return w.async.Append(msg) }

// Stats returns a snapshot of writer counters.
func (w *SimpleBagWriter) Stats() WriterStats { return w.async.Stats() }

// Close flushes, finalizes the open file, and stops the writer goroutine.
func (w *SimpleBagWriter) Close() error { return w.async.Close() }
