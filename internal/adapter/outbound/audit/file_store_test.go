package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/workly/workly-gate/internal/domain/audit"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeRecord creates a test DecisionRecord with the given timestamp and request ID.
func makeRecord(ts time.Time, reqID string) audit.DecisionRecord {
	return audit.DecisionRecord{
		Timestamp: ts,
		RequestID: reqID,
		Method:    "GET",
		Path:      "/dashboard",
		Category:  "protected",
		Decision:  "allow",
		UserID:    "user-1",
	}
}

func newTestStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := NewFileStore(FileConfig{
		Dir:           dir,
		RetentionDays: 7,
		MaxFileSizeMB: 100,
		CacheSize:     100,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return store
}

func todayFile(dir string) string {
	return filepath.Join(dir, decisionFilename(time.Now().UTC().Format(time.DateOnly), 0))
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "subdir", "decisions")
	store := newTestStore(t, dir)
	defer func() { _ = store.Close() }()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("Expected directory, got file")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("Directory permissions = %o, want 0700", perm)
	}
	if _, err := os.Stat(todayFile(dir)); err != nil {
		t.Errorf("today's file not created: %v", err)
	}
}

func TestFileStore_AppendWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	ctx := context.Background()
	now := time.Now().UTC()
	for i := range 3 {
		if err := store.Append(ctx, makeRecord(now, fmt.Sprintf("req-%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	_ = store.Close()

	f, err := os.Open(todayFile(dir))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec audit.DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		if rec.RequestID != fmt.Sprintf("req-%d", lines) {
			t.Errorf("line %d request_id = %q", lines, rec.RequestID)
		}
		if strings.Contains(scanner.Text(), "\n  ") {
			t.Error("records must be compact JSON")
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("lines = %d, want 3", lines)
	}
}

func TestFileStore_DateRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	ctx := context.Background()
	day1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, makeRecord(day1, "req-day1")); err != nil {
		t.Fatalf("Append() day1 error: %v", err)
	}
	if err := store.Append(ctx, makeRecord(day2, "req-day2")); err != nil {
		t.Fatalf("Append() day2 error: %v", err)
	}
	_ = store.Close()

	data1, err := os.ReadFile(filepath.Join(dir, "decisions-2026-02-01.jsonl"))
	if err != nil {
		t.Fatalf("day 1 file: %v", err)
	}
	data2, err := os.ReadFile(filepath.Join(dir, "decisions-2026-02-02.jsonl"))
	if err != nil {
		t.Fatalf("day 2 file: %v", err)
	}
	if !strings.Contains(string(data1), "req-day1") {
		t.Error("day 1 file should contain req-day1")
	}
	if !strings.Contains(string(data2), "req-day2") {
		t.Error("day 2 file should contain req-day2")
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.maxFileSize = 500

	ctx := context.Background()
	now := time.Now().UTC()
	date := now.Format(time.DateOnly)

	for i := range 20 {
		rec := makeRecord(now, fmt.Sprintf("req-%03d", i))
		rec.UserAgent = strings.Repeat("x", 100)
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error at record %d: %v", i, err)
		}
	}
	_ = store.Close()

	for _, name := range []string{decisionFilename(date, 0), decisionFilename(date, 1)} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not found: %v", name, err)
		}
	}
}

func TestFileStore_ResumesHighestSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	date := time.Now().UTC().Format(time.DateOnly)
	if err := os.WriteFile(filepath.Join(dir, decisionFilename(date, 2)), nil, 0600); err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t, dir)
	defer func() { _ = store.Close() }()

	if store.currentSuffix != 2 {
		t.Errorf("currentSuffix = %d, want 2", store.currentSuffix)
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldDate := time.Now().UTC().AddDate(0, 0, -10).Format(time.DateOnly)
	recentDate := time.Now().UTC().AddDate(0, 0, -3).Format(time.DateOnly)

	oldFiles := []string{
		filepath.Join(dir, decisionFilename(oldDate, 0)),
		filepath.Join(dir, decisionFilename(oldDate, 1)),
	}
	recentFile := filepath.Join(dir, decisionFilename(recentDate, 0))
	unrelated := filepath.Join(dir, "notes.txt")

	for _, p := range append(oldFiles, recentFile, unrelated) {
		if err := os.WriteFile(p, []byte(`{"request_id":"x"}`+"\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	store := newTestStore(t, dir)
	defer func() { _ = store.Close() }()

	for _, p := range oldFiles {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should have been deleted", filepath.Base(p))
		}
	}
	if _, err := os.Stat(recentFile); err != nil {
		t.Error("recent file should be kept")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("unrelated file should be kept")
	}
}

func TestFileStore_QueryFromCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	redirect := makeRecord(now, "req-2")
	redirect.Decision = "redirect_login"
	redirect.UserID = ""
	if err := store.Append(ctx, makeRecord(now, "req-1"), redirect, makeRecord(now, "req-3")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	all, err := store.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(all) != 3 || all[0].RequestID != "req-3" {
		t.Errorf("Query() = %d records, first %q; want 3 newest first", len(all), all[0].RequestID)
	}

	logins, _ := store.Query(ctx, audit.Filter{Decision: "redirect_login"})
	if len(logins) != 1 || logins[0].RequestID != "req-2" {
		t.Errorf("Query(decision) = %+v", logins)
	}

	limited, _ := store.Query(ctx, audit.Filter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("Query(limit=2) = %d records", len(limited))
	}
}

func TestFileStore_CacheWarmedAtBoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	date := time.Now().UTC().Format(time.DateOnly)

	var b strings.Builder
	for i := range 5 {
		data, _ := json.Marshal(makeRecord(time.Now().UTC(), fmt.Sprintf("boot-%d", i)))
		b.Write(data)
		b.WriteByte('\n')
	}
	b.WriteString("not json\n")
	if err := os.WriteFile(filepath.Join(dir, decisionFilename(date, 0)), []byte(b.String()), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewFileStore(FileConfig{Dir: dir, CacheSize: 3}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	if n := store.cache.Len(); n != 3 {
		t.Errorf("cache len = %d, want 3 (capped)", n)
	}
	recs, _ := store.Query(context.Background(), audit.Filter{})
	if len(recs) == 0 || recs[0].RequestID != "boot-4" {
		t.Errorf("newest cached = %+v, want boot-4", recs)
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)

	ctx := context.Background()
	now := time.Now().UTC()
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_ = store.Append(ctx, makeRecord(now, fmt.Sprintf("g%d-%d", g, i)))
			}
		}()
	}
	wg.Wait()
	_ = store.Close()

	data, err := os.ReadFile(todayFile(dir))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "\n"); got != 200 {
		t.Errorf("lines = %d, want 200", got)
	}
}

func TestFileStore_CloseIdempotentAndRejectsAppend(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	err := store.Append(context.Background(), makeRecord(time.Now(), "late"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
}

func TestFileStore_FlushAndEmptyAppend(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir())
	defer func() { _ = store.Close() }()

	if err := store.Append(context.Background()); err != nil {
		t.Errorf("Append() with no records error: %v", err)
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error: %v", err)
	}
}

func TestFileStore_FilePermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir)
	_ = store.Close()

	info, err := os.Stat(todayFile(dir))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestParseDecisionFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ok     bool
		date   string
		suffix int
	}{
		{"decisions-2026-03-01.jsonl", true, "2026-03-01", 0},
		{"decisions-2026-03-01-4.jsonl", true, "2026-03-01", 4},
		{"decisions-2026-03-01.log", false, "", 0},
		{"audit-2026-03-01.jsonl", false, "", 0},
	}
	for _, tt := range tests {
		f, ok := parseDecisionFilename(tt.name)
		if ok != tt.ok || f.date != tt.date || f.suffix != tt.suffix {
			t.Errorf("parseDecisionFilename(%q) = %+v, %v", tt.name, f, ok)
		}
	}
}

func TestRecordCache_RingBufferOverflow(t *testing.T) {
	t.Parallel()

	c := newRecordCache(3)
	for i := range 5 {
		c.add(makeRecord(time.Now(), fmt.Sprintf("r%d", i)))
	}

	got := c.query(audit.Filter{})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"r4", "r3", "r2"} {
		if got[i].RequestID != want {
			t.Errorf("got[%d] = %q, want %q", i, got[i].RequestID, want)
		}
	}
}
