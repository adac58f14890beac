package bag

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mxrc/control-core/internal/coreerr"
)

// BagReader reads a closed bag file: validates the footer, loads the
// index, and provides sequential iteration plus timestamp seeking (spec
// §4.E).
type BagReader struct {
	file   *os.File
	footer Footer
	index  []IndexEntry
	cursor int
	topic  string // empty means no topic filter
}

// OpenReader opens path, validates its footer (the final FooterSize
// bytes), and loads its index block.
func OpenReader(path string) (*BagReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bag.OpenReader(%q): %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size() < FooterSize {
		f.Close()
		return nil, fmt.Errorf("bag.OpenReader(%q): %w: file too small", path, coreerr.ErrCorruptFooter)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, stat.Size()-FooterSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("bag.OpenReader(%q): read footer: %w", path, err)
	}
	footer, err := decodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	indexBuf := make([]byte, int(footer.IndexCount)*IndexEntrySize)
	if len(indexBuf) > 0 {
		if _, err := f.ReadAt(indexBuf, int64(footer.IndexOffset)); err != nil {
			f.Close()
			return nil, fmt.Errorf("bag.OpenReader(%q): read index: %w", path, err)
		}
	}
	index := make([]IndexEntry, footer.IndexCount)
	for i := range index {
		index[i] = decodeIndexEntry(indexBuf[i*IndexEntrySize : (i+1)*IndexEntrySize])
	}

	return &BagReader{file: f, footer: footer, index: index}, nil
}

// Close closes the underlying file.
func (r *BagReader) Close() error { return r.file.Close() }

// SetTopicFilter restricts ReadNext to messages on the given topic. Pass
// "" to clear the filter.
func (r *BagReader) SetTopicFilter(topic string) { r.topic = topic }

// GetMessageCount returns the total number of indexed messages.
func (r *BagReader) GetMessageCount() int { return len(r.index) }

// GetStartTimestamp returns the timestamp of the first indexed message.
func (r *BagReader) GetStartTimestamp() (int64, bool) {
	if len(r.index) == 0 {
		return 0, false
	}
	return r.index[0].TimestampNs, true
}

// GetEndTimestamp returns the timestamp of the last indexed message.
func (r *BagReader) GetEndTimestamp() (int64, bool) {
	if len(r.index) == 0 {
		return 0, false
	}
	return r.index[len(r.index)-1].TimestampNs, true
}

// HasNext reports whether a subsequent ReadNext call (respecting any
// topic filter) would return a message.
func (r *BagReader) HasNext() bool {
	if r.topic == "" {
		return r.cursor < len(r.index)
	}
	for i := r.cursor; i < len(r.index); i++ {
		msg, err := r.readAt(r.index[i].FileOffset)
		// A read error is left for ReadNext to report.
		if err != nil || msg.Topic == r.topic {
			return true
		}
	}
	return false
}

// ReadNext returns the next message in index (timestamp) order, applying the topic
// filter if set, advancing the cursor past it.
func (r *BagReader) ReadNext() (Message, bool, error) {
	for r.cursor < len(r.index) {
		entry := r.index[r.cursor]
		r.cursor++
		msg, err := r.readAt(entry.FileOffset)
		if err != nil {
			return Message{}, false, err
		}
		if r.topic != "" && msg.Topic != r.topic {
			continue
		}
		return msg, true, nil
	}
	return Message{}, false, nil
}

// SeekToTimestamp repositions the cursor to the lower-bound entry: the
// largest indexed timestamp <= ts, or the first entry if ts precedes all
// messages.
func (r *BagReader) SeekToTimestamp(ts int64) {
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].TimestampNs > ts })
	if i > 0 {
		i--
	}
	r.cursor = i
}

// Reset returns the cursor to the beginning of the file.
func (r *BagReader) Reset() { r.cursor = 0 }

// readAt decodes the message starting at the given data-block offset. The
// section reader is bounded by the index offset so decodeMessage's
// io.ReadFull never reads into the index block.
func (r *BagReader) readAt(offset int64) (Message, error) {
	sr := io.NewSectionReader(r.file, offset, int64(r.footer.IndexOffset)-offset)
	msg, _, err := decodeMessage(sr)
	if err != nil {
		return Message{}, fmt.Errorf("bag: decode message at offset %d: %w", offset, err)
	}
	return msg, nil
}
