package bag

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// emergencyFreeBytes is how much space FreeBytes tries to reclaim on
// ENOSPC when no rotation size budget is configured to size the request.
const emergencyFreeBytes = 64 << 20

// WriterStats is a snapshot of writer activity counters.
type WriterStats struct {
	Written  uint64
	Dropped  uint64
	Rotations uint64
}

// AsyncWriter owns a single writer goroutine draining a bounded in-memory
// queue onto disk: a buffered channel, select/default backpressure on
// AppendAsync, one dedicated consumer goroutine, stop-channel shutdown.
type AsyncWriter struct {
	dir      string
	rotation RotationPolicy
	retain   RetentionPolicy
	log      *zap.Logger

	queue chan Message
	stop  chan struct{}
	done  chan struct{}

	written  atomic.Uint64
	dropped  atomic.Uint64
	rotations atomic.Uint64

	mu        sync.Mutex
	file      *os.File
	filePath  string
	openedAt  time.Time
	entries   []IndexEntry
	dataBytes int64
	crc       hash.Hash32
	closed    bool
}

// NewAsyncWriter creates a writer over dir with queueCap-deep backpressure.
// dir must already exist. Call Close to flush, finalize, and stop the
// writer goroutine.
func NewAsyncWriter(dir string, queueCap int, rotation RotationPolicy, retain RetentionPolicy, log *zap.Logger) (*AsyncWriter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w := &AsyncWriter{
		dir:      dir,
		rotation: rotation,
		retain:   retain,
		log:      log,
		queue:    make(chan Message, queueCap),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := w.openNewFile(); err != nil {
		return nil, err
	}
	go w.run()
	return w, nil
}

// AppendAsync enqueues msg without blocking. Returns false, incrementing
// the drop counter, if the queue is full.
func (w *AsyncWriter) AppendAsync(msg Message) bool {
	select {
	case w.queue <- msg:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Append blocks the caller until msg is accepted into the writer queue,
// and returns false if the writer is stopped first. It does not wait for
// msg to be written to the file or flushed.
func (w *AsyncWriter) Append(msg Message) bool {
	ack := make(chan struct{})
	wrapped := msg
	go func() {
		w.queue <- wrapped
		close(ack)
	}()
	select {
	case <-ack:
		return true
	case <-w.stop:
		return false
	}
}

// Stats returns a snapshot of writer counters.
func (w *AsyncWriter) Stats() WriterStats {
	return WriterStats{
		Written:   w.written.Load(),
		Dropped:   w.dropped.Load(),
		Rotations: w.rotations.Load(),
	}
}

// Close stops the writer goroutine, finalizes the open file, and applies
// retention once more. Safe to call once.
func (w *AsyncWriter) Close() error {
	close(w.stop)
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.finalizeLocked(); err != nil {
		return err
	}
	// Every file is closed now, so the final one counts toward the policy.
	mgr := RetentionManager{Dir: w.dir, Policy: w.retain}
	if _, err := mgr.Prune(""); err != nil {
		w.log.Warn("bag retention prune failed", zap.Error(err))
	}
	return nil
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for {
		select {
		case msg := <-w.queue:
			w.writeOne(msg)
			w.maybeRotate()
		case <-w.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-w.queue:
					w.writeOne(msg)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) writeOne(msg Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, err := msg.encode()
	if err != nil {
		w.log.Warn("failed to encode bag message", zap.Error(err))
		return
	}
	if _, err := w.file.Write(rec); err != nil {
		if !errors.Is(err, syscall.ENOSPC) {
			w.log.Error("bag write failed", zap.Error(err))
			return
		}
		w.log.Warn("bag write hit ENOSPC — freeing space from closed bag files", zap.Error(err))
		freed := w.freeEmergencySpaceLocked()
		if freed == 0 {
			w.log.Error("bag write failed: disk full and emergency retention freed nothing")
			return
		}
		if _, err := w.file.Write(rec); err != nil {
			w.log.Error("bag write still failing after emergency retention", zap.Error(err), zap.Int64("freed_bytes", freed))
			return
		}
	}
	w.crc.Write(rec)
	w.entries = append(w.entries, IndexEntry{TimestampNs: msg.TimestampNs, FileOffset: w.dataBytes})
	w.dataBytes += int64(len(rec))
	w.written.Add(1)
}

func (w *AsyncWriter) maybeRotate() {
	w.mu.Lock()
	size := w.dataBytes
	age := time.Since(w.openedAt)
	w.mu.Unlock()

	if !w.rotation.ShouldRotate(size, age) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.finalizeLocked(); err != nil {
		w.log.Error("bag rotation finalize failed", zap.Error(err))
		return
	}
	if err := w.openNewFileLocked(); err != nil {
		w.log.Error("bag rotation reopen failed", zap.Error(err))
		return
	}
	w.rotations.Add(1)
	w.applyRetention()
}

// finalizeLocked writes the index block and footer and closes the active
// file. Caller holds mu. The index entries are sorted by timestamp before
// being written, so the CRC32 (accumulated over the data block as each
// message was appended, per spec §3) is extended over the index block in
// its final, on-disk order: the footer's CRC32 covers exactly
// [data_block | index_block].
func (w *AsyncWriter) finalizeLocked() error {
	if w.file == nil {
		return nil
	}
	sort.SliceStable(w.entries, func(i, j int) bool {
		return w.entries[i].TimestampNs < w.entries[j].TimestampNs
	})

	indexOffset := uint64(w.dataBytes)
	for _, e := range w.entries {
		b := e.encode()
		if _, err := w.file.Write(b); err != nil {
			return fmt.Errorf("bag: write index entry: %w", err)
		}
		w.crc.Write(b)
	}

	footer := Footer{
		Version:     FormatVersion,
		DataSize:    uint64(w.dataBytes),
		IndexOffset: indexOffset,
		IndexCount:  uint64(len(w.entries)),
		CRC32:       w.crc.Sum32(),
	}
	if _, err := w.file.Write(footer.encode()); err != nil {
		return fmt.Errorf("bag: write footer: %w", err)
	}
	return w.file.Close()
}

func (w *AsyncWriter) openNewFile() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openNewFileLocked()
}

func (w *AsyncWriter) openNewFileLocked() error {
	name := "bag_" + time.Now().UTC().Format("20060102T150405.000000000Z") + ".bag"
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("bag: open %q: %w", path, err)
	}
	w.file = f
	w.filePath = path
	w.openedAt = time.Now()
	w.entries = nil
	w.dataBytes = 0
	w.crc = crc32.NewIEEE()
	return nil
}

// applyRetention prunes closed bag files per policy. Caller holds mu.
func (w *AsyncWriter) applyRetention() {
	mgr := RetentionManager{Dir: w.dir, Policy: w.retain}
	deleted, err := mgr.Prune(w.filePath)
	if err != nil {
		w.log.Warn("bag retention prune failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.log.Info("bag retention pruned files", zap.Int("deleted", deleted))
	}
}

// freeEmergencySpaceLocked deletes the oldest closed bag files to recover
// from ENOSPC on the active file. Caller holds mu. Returns bytes freed.
func (w *AsyncWriter) freeEmergencySpaceLocked() int64 {
	want := w.rotation.MaxBytes
	if want <= 0 {
		want = emergencyFreeBytes
	}
	mgr := RetentionManager{Dir: w.dir, Policy: w.retain}
	freed, err := mgr.FreeBytes(w.filePath, want)
	if err != nil {
		w.log.Warn("bag emergency retention failed", zap.Error(err))
		return freed
	}
	if freed > 0 {
		w.log.Warn("bag emergency retention freed space", zap.Int64("freed_bytes", freed), zap.Int64("wanted_bytes", want))
	}
	return freed
}
