package journal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
)

// memRepo records created entries. When block is non-nil Create signals
// started and then waits on block.
type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	started chan struct{}
	block   chan struct{}
	err     error
}

func (r *memRepo) Create(_ context.Context, entry *Entry) error {
	if r.block != nil {
		r.started <- struct{}{}
		<-r.block
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memRepo) List(context.Context, Filter) (*ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ListResult{Entries: append([]Entry(nil), r.entries...), Total: len(r.entries)}, nil
}

func (r *memRepo) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// recordingLogger counts warnings.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

var _ mqtt.EventSink = (*Sink)(nil)

func TestSinkRecordsEveryEventKind(t *testing.T) {
	repo := &memRepo{}
	sink := NewSink(repo, SinkOptions{ClientID: "dev1", Server: "tcp://10.0.2.2:1883"})

	sink.ConnectFailed(mqtt.ConnectToken{ServerAddress: "tcp://10.0.2.2:1883", ReturnCode: 5}, errors.New("not authorised"))
	sink.ConnectSucceeded(mqtt.ConnectToken{ServerAddress: "tcp://10.0.2.3:1883"})
	sink.MessageArrived("a", "test", 1)
	sink.DeliveryComplete(mqtt.DeliveryToken{Topic: "b", MessageID: 9, QoS: 2})
	sink.ConnectionLost(mqtt.ErrConnectionLost)
	sink.ConnectionLost(nil)

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := repo.all()
	want := []Entry{
		{Kind: "connect_failed", Server: "tcp://10.0.2.2:1883", Error: "not authorised"},
		{Kind: "connect_succeeded", Server: "tcp://10.0.2.3:1883"},
		{Kind: "message_arrived", Server: "tcp://10.0.2.3:1883", Topic: "a", Payload: "test", QoS: 1},
		{Kind: "delivery_complete", Server: "tcp://10.0.2.3:1883", Topic: "b", QoS: 2, MessageID: 9},
		{Kind: "connection_lost", Server: "tcp://10.0.2.3:1883", Error: mqtt.ErrConnectionLost.Error()},
		{Kind: "connection_lost", Server: "tcp://10.0.2.3:1883"},
	}
	if len(got) != len(want) {
		t.Fatalf("recorded %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Kind != w.Kind || g.Server != w.Server || g.Topic != w.Topic ||
			g.Payload != w.Payload || g.QoS != w.QoS || g.MessageID != w.MessageID || g.Error != w.Error {
			t.Errorf("entry[%d] = %+v, want %+v", i, g, w)
		}
		if g.ClientID != "dev1" {
			t.Errorf("entry[%d].ClientID = %q, want dev1", i, g.ClientID)
		}
		if g.CreatedAt.IsZero() {
			t.Errorf("entry[%d].CreatedAt not set", i)
		}
	}
	if sink.Written() != uint64(len(want)) {
		t.Errorf("Written() = %d, want %d", sink.Written(), len(want))
	}
}

func TestSinkTruncatesPayload(t *testing.T) {
	tests := []struct {
		name       string
		maxPayload int
		payload    string
		want       string
	}{
		{"unlimited", 0, "abcdef", "abcdef"},
		{"under limit", 10, "abcdef", "abcdef"},
		{"cut", 3, "abcdef", "abc"},
		{"does not split rune", 4, "abcéf", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memRepo{}
			sink := NewSink(repo, SinkOptions{MaxPayload: tt.maxPayload})
			sink.MessageArrived("a", tt.payload, 0)
			_ = sink.Close()

			got := repo.all()
			if len(got) != 1 {
				t.Fatalf("recorded %d entries, want 1", len(got))
			}
			if got[0].Payload != tt.want {
				t.Errorf("Payload = %q, want %q", got[0].Payload, tt.want)
			}
		})
	}
}

func TestSinkDropsWhenQueueFull(t *testing.T) {
	repo := &memRepo{started: make(chan struct{}, 2), block: make(chan struct{})}
	sink := NewSink(repo, SinkOptions{QueueSize: 1})

	// The writer takes the first entry and blocks in Create; the second fills
	// the queue; the rest are dropped.
	sink.MessageArrived("a", "1", 0)
	<-repo.started
	sink.MessageArrived("a", "2", 0)
	sink.MessageArrived("a", "3", 0)
	sink.MessageArrived("a", "4", 0)

	if got := sink.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	close(repo.block)
	_ = sink.Close()

	if got := len(repo.all()); got != 2 {
		t.Errorf("recorded %d entries, want 2", got)
	}
}

func TestSinkClose(t *testing.T) {
	repo := &memRepo{}
	sink := NewSink(repo, SinkOptions{})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Close(); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("second Close() error = %v, want ErrSinkClosed", err)
	}

	sink.MessageArrived("a", "late", 0)
	if sink.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1 after event on closed sink", sink.Dropped())
	}
	if len(repo.all()) != 0 {
		t.Error("event after Close was recorded")
	}
}

func TestSinkLogsWriteFailures(t *testing.T) {
	repo := &memRepo{err: errors.New("disk full")}
	logger := &recordingLogger{}
	sink := NewSink(repo, SinkOptions{Logger: logger})

	sink.ConnectionLost(mqtt.ErrConnectionLost)
	_ = sink.Close()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
	if sink.Written() != 0 {
		t.Errorf("Written() = %d, want 0", sink.Written())
	}
}

func TestSinkWithSQLite(t *testing.T) {
	repo := openTestRepo(t)
	sink := NewSink(repo, SinkOptions{ClientID: "dev1", Server: "tcp://10.0.2.2:1883", MaxPayload: 8})

	sink.ConnectSucceeded(mqtt.ConnectToken{ServerAddress: "tcp://10.0.2.2:1883"})
	sink.MessageArrived("sensors/temp", strings.Repeat("x", 20), 1)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	result, err := repo.List(context.Background(), Filter{Kind: "message_arrived"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	got := result.Entries[0]
	if got.Topic != "sensors/temp" || got.Payload != "xxxxxxxx" || got.QoS != 1 || got.ClientID != "dev1" {
		t.Errorf("entry = %+v", got)
	}
}
