package bag

import (
	"testing"
	"time"
)

func writeTestBag(t *testing.T, timestamps []int64, topics []string) string {
	t.Helper()
	dir := t.TempDir()
	w, err := NewAsyncWriter(dir, 64, RotationPolicy{}, RetentionPolicy{}, nil)
	if err != nil {
		t.Fatalf("NewAsyncWriter: %v", err)
	}
	path := w.filePath
	for i, ts := range timestamps {
		topic := "t"
		if topics != nil {
			topic = topics[i]
		}
		if !w.Append(Message{TimestampNs: ts, Topic: topic, SerializedValue: []byte("x")}) {
			t.Fatalf("Append failed")
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestBagReplayerAsFastAsPossible(t *testing.T) {
	path := writeTestBag(t, []int64{0, 1000, 2000}, nil)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	replayer := NewBagReplayer(r, ReplayerConfig{Mode: ReplayAsFastAsPossible}, nil)
	var got []int64
	done := make(chan struct{})
	replayer.SetMessageCallback(func(m Message) {
		got = append(got, m.TimestampNs)
		if len(got) == 3 {
			close(done)
		}
	})
	replayer.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("replay did not deliver all messages in time, got %v", got)
	}
	replayer.Stop()

	if len(got) != 3 || got[0] != 0 || got[1] != 1000 || got[2] != 2000 {
		t.Fatalf("got %v, want [0 1000 2000]", got)
	}
}

func TestBagReplayerTopicFilter(t *testing.T) {
	path := writeTestBag(t, []int64{0, 1, 2}, []string{"a", "b", "a"})
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	replayer := NewBagReplayer(r, ReplayerConfig{Mode: ReplayAsFastAsPossible, Topic: "a"}, nil)
	var got int
	done := make(chan struct{})
	replayer.SetMessageCallback(func(m Message) {
		got++
		if m.Topic != "a" {
			t.Errorf("got topic %q, want only a", m.Topic)
		}
	})
	replayer.Start()
	time.Sleep(50 * time.Millisecond)
	replayer.Stop()
	close(done)

	if got != 2 {
		t.Fatalf("delivered %d messages, want 2", got)
	}
}

func TestBagReplayerProgress(t *testing.T) {
	path := writeTestBag(t, []int64{0, 1, 2, 3}, nil)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	replayer := NewBagReplayer(r, ReplayerConfig{Mode: ReplayAsFastAsPossible}, nil)
	done := make(chan struct{})
	var n int
	replayer.SetMessageCallback(func(Message) {
		n++
		if n == 4 {
			close(done)
		}
	})
	replayer.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("replay incomplete")
	}
	time.Sleep(10 * time.Millisecond) // let replayed counter update after last callback
	if p := replayer.Progress(); p != 1.0 {
		t.Fatalf("Progress() = %v, want 1.0", p)
	}
	replayer.Stop()
}

func TestBagReplayerPauseResume(t *testing.T) {
	path := writeTestBag(t, []int64{0, 1}, nil)
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	replayer := NewBagReplayer(r, ReplayerConfig{Mode: ReplayAsFastAsPossible}, nil)
	var got []int64
	replayer.SetMessageCallback(func(m Message) { got = append(got, m.TimestampNs) })

	replayer.Pause() // pausing before Start is a no-op; running is false
	replayer.Start()
	replayer.Pause()
	time.Sleep(20 * time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("messages delivered while paused: %v", got)
	}
	replayer.Resume()
	time.Sleep(50 * time.Millisecond)
	replayer.Stop()

	if len(got) != 2 {
		t.Fatalf("got %v, want 2 messages after resume", got)
	}
}
