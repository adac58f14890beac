// Package bag implements the Bag Logger (spec §4.E): an append-only,
// rotating, retained binary log of timestamped messages, with a reader and
// a real-time-aware replayer.
//
// File layout: [message 0][message 1]...[message N-1][index block][footer].
// The footer is exactly the last 64 bytes of a closed file; the index
// block immediately precedes it, one 16-byte IndexEntry per message,
// ordered by timestamp.
package bag

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mxrc/control-core/internal/coreerr"
)

// FooterSize is the exact size, in bytes, of a closed bag file's footer.
const FooterSize = 64

// IndexEntrySize is the exact size, in bytes, of one index entry.
const IndexEntrySize = 16

// magic identifies a valid bag file footer.
var magic = [8]byte{'M', 'X', 'R', 'C', 'B', 'A', 'G', 0}

// FormatVersion is the current on-disk footer version.
const FormatVersion = uint32(1)

// Message is one recorded Bag Message (spec §3).
type Message struct {
	TimestampNs     int64  `json:"timestamp_ns"`
	Topic           string `json:"topic"`
	DataType        string `json:"data_type"`
	SerializedValue []byte `json:"serialized_value"`
}

// encode serializes a message as a length-prefixed JSON record: a uint32
// record length followed by the JSON body. Self-delimiting, so a reader
// can step through messages without needing the index.
func (m Message) encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bag: marshal message: %w", err)
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

func decodeMessage(r io.Reader) (Message, int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, 0, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, 0, err
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, 0, fmt.Errorf("bag: unmarshal message: %w", err)
	}
	return m, 4 + int(n), nil
}

// IndexEntry maps a message's timestamp to its byte offset in the data
// block (spec §3: exactly 16 bytes, timestamp_ns + file_offset).
type IndexEntry struct {
	TimestampNs int64
	FileOffset  int64
}

func (e IndexEntry) encode() []byte {
	buf := make([]byte, IndexEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.TimestampNs))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.FileOffset))
	return buf
}

func decodeIndexEntry(buf []byte) IndexEntry {
	return IndexEntry{
		TimestampNs: int64(binary.LittleEndian.Uint64(buf[0:8])),
		FileOffset:  int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// Footer is the fixed 64-byte trailer of a closed bag file (spec §3).
type Footer struct {
	Version     uint32
	DataSize    uint64
	IndexOffset uint64
	IndexCount  uint64
	CRC32       uint32
}

func (f Footer) encode() []byte {
	buf := make([]byte, FooterSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], f.Version)
	binary.LittleEndian.PutUint64(buf[12:20], f.DataSize)
	binary.LittleEndian.PutUint64(buf[20:28], f.IndexOffset)
	binary.LittleEndian.PutUint64(buf[28:36], f.IndexCount)
	binary.LittleEndian.PutUint32(buf[36:40], f.CRC32)
	// buf[40:64] is 24 bytes reserved, left zero.
	return buf
}

func decodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, fmt.Errorf("bag: %w: footer is %d bytes, want %d", coreerr.ErrCorruptFooter, len(buf), FooterSize)
	}
	for i, b := range magic {
		if buf[i] != b {
			return Footer{}, fmt.Errorf("bag: %w: bad magic", coreerr.ErrCorruptFooter)
		}
	}
	f := Footer{
		Version:     binary.LittleEndian.Uint32(buf[8:12]),
		DataSize:    binary.LittleEndian.Uint64(buf[12:20]),
		IndexOffset: binary.LittleEndian.Uint64(buf[20:28]),
		IndexCount:  binary.LittleEndian.Uint64(buf[28:36]),
		CRC32:       binary.LittleEndian.Uint32(buf[36:40]),
	}
	if f.Version != FormatVersion {
		return Footer{}, fmt.Errorf("bag: %w: unsupported version %d", coreerr.ErrCorruptFooter, f.Version)
	}
	return f, nil
}

// RotationPolicy configures when SimpleBagWriter rotates to a new file.
// Zero value on a field disables that trigger.
type RotationPolicy struct {
	MaxBytes    int64
	MaxAge      time.Duration
}

// ShouldRotate reports whether the policy triggers given the current
// file's size and age.
func (p RotationPolicy) ShouldRotate(currentSize int64, age time.Duration) bool {
	if p.MaxBytes > 0 && currentSize >= p.MaxBytes {
		return true
	}
	if p.MaxAge > 0 && age >= p.MaxAge {
		return true
	}
	return false
}

// RetentionPolicy configures how SimpleBagWriter prunes old bag files
// after rotation.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxCount int
}
