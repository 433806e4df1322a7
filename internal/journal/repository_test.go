package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/mqttsession/internal/infrastructure/database"
	"github.com/nerrad567/mqttsession/migrations"
)

// openTestRepo returns a repository backed by a migrated SQLite file in a
// temporary directory.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	entry := &Entry{
		Kind:      "message_arrived",
		ClientID:  "dev1",
		Server:    "tcp://10.0.2.2:1883",
		Topic:     "a",
		Payload:   "test",
		QoS:       2,
		MessageID: 42,
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(entry.ID, "evt-") {
		t.Errorf("ID = %q, want evt- prefix", entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 || len(result.Entries) != 1 {
		t.Fatalf("List() total=%d len=%d, want 1/1", result.Total, len(result.Entries))
	}

	got := result.Entries[0]
	if got.ID != entry.ID || got.Kind != entry.Kind || got.ClientID != "dev1" ||
		got.Server != entry.Server || got.Topic != "a" || got.Payload != "test" ||
		got.QoS != 2 || got.MessageID != 42 || got.Error != "" {
		t.Errorf("List() entry = %+v, want %+v", got, *entry)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}
}

func TestCreateRequiresKind(t *testing.T) {
	repo := openTestRepo(t)

	err := repo.Create(context.Background(), &Entry{ClientID: "dev1"})
	if !errors.Is(err, ErrKindRequired) {
		t.Errorf("Create() error = %v, want ErrKindRequired", err)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, &Entry{ID: "evt-1", Kind: "connection_lost"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, &Entry{ID: "evt-1", Kind: "connection_lost"}); err == nil {
		t.Error("Create() with duplicate ID should fail")
	}
}

func TestListFilters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Kind: "connect_succeeded", CreatedAt: base},
		{Kind: "message_arrived", Topic: "a", CreatedAt: base.Add(1 * time.Second)},
		{Kind: "message_arrived", Topic: "b", CreatedAt: base.Add(2 * time.Second)},
		{Kind: "message_arrived", Topic: "a", CreatedAt: base.Add(3 * time.Second)},
		{Kind: "connection_lost", Error: "mqtt: connection lost", CreatedAt: base.Add(4 * time.Second)},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantKinds []string
	}{
		{
			name:      "all newest first",
			filter:    Filter{},
			wantTotal: 5,
			wantKinds: []string{"connection_lost", "message_arrived", "message_arrived", "message_arrived", "connect_succeeded"},
		},
		{
			name:      "by kind",
			filter:    Filter{Kind: "message_arrived"},
			wantTotal: 3,
			wantKinds: []string{"message_arrived", "message_arrived", "message_arrived"},
		},
		{
			name:      "by topic",
			filter:    Filter{Topic: "a"},
			wantTotal: 2,
			wantKinds: []string{"message_arrived", "message_arrived"},
		},
		{
			name:      "since",
			filter:    Filter{Since: base.Add(3 * time.Second)},
			wantTotal: 2,
			wantKinds: []string{"connection_lost", "message_arrived"},
		},
		{
			name:      "paged",
			filter:    Filter{Limit: 2, Offset: 1},
			wantTotal: 5,
			wantKinds: []string{"message_arrived", "message_arrived"},
		},
		{
			name:      "offset past end",
			filter:    Filter{Offset: 10},
			wantTotal: 5,
			wantKinds: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", result.Total, tt.wantTotal)
			}
			if result.Entries == nil {
				t.Fatal("Entries is nil, want empty slice")
			}
			if len(result.Entries) != len(tt.wantKinds) {
				t.Fatalf("len(Entries) = %d, want %d", len(result.Entries), len(tt.wantKinds))
			}
			for i, kind := range tt.wantKinds {
				if result.Entries[i].Kind != kind {
					t.Errorf("Entries[%d].Kind = %q, want %q", i, result.Entries[i].Kind, kind)
				}
			}
		})
	}
}

func TestListSameTimestampNewestInsertFirst(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, &Entry{Kind: "message_arrived", Payload: fmt.Sprint(i), CreatedAt: ts}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for i, want := range []string{"2", "1", "0"} {
		if result.Entries[i].Payload != want {
			t.Errorf("Entries[%d].Payload = %q, want %q", i, result.Entries[i].Payload, want)
		}
	}
}

func TestListLimitClamping(t *testing.T) {
	repo := openTestRepo(t)

	tests := []struct {
		name      string
		filter    Filter
		wantLimit int
		wantOff   int
	}{
		{"zero uses default", Filter{}, 50, 0},
		{"negative uses default", Filter{Limit: -1}, 50, 0},
		{"over max clamped", Filter{Limit: 1000}, 200, 0},
		{"negative offset", Filter{Limit: 10, Offset: -5}, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Limit != tt.wantLimit || result.Offset != tt.wantOff {
				t.Errorf("Limit/Offset = %d/%d, want %d/%d", result.Limit, result.Offset, tt.wantLimit, tt.wantOff)
			}
		})
	}
}
