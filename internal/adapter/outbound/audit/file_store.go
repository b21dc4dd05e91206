// Package audit persists decision records as JSON Lines files with daily
// rotation, size caps, retention cleanup and an in-memory cache for queries.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/workly/workly-gate/internal/domain/audit"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("decision log closed")

// Defaults applied by NewFileStore.
const (
	DefaultRetentionDays = 7
	DefaultMaxFileSizeMB = 100
	DefaultCacheSize     = 1000
)

// decisionFilePattern matches decisions-YYYY-MM-DD.jsonl and
// decisions-YYYY-MM-DD-N.jsonl.
var decisionFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

// decisionFile is a parsed decision log filename.
type decisionFile struct {
	name   string
	date   string
	suffix int
}

func parseDecisionFilename(name string) (decisionFile, bool) {
	m := decisionFilePattern.FindStringSubmatch(name)
	if m == nil {
		return decisionFile{}, false
	}
	f := decisionFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return decisionFile{}, false
		}
		f.suffix = n
	}
	return f, true
}

// sortDecisionFiles orders files chronologically: date, then suffix.
func sortDecisionFiles(files []decisionFile) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

func decisionFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("decisions-%s.jsonl", date)
	}
	return fmt.Sprintf("decisions-%s-%d.jsonl", date, suffix)
}

// FileConfig configures a FileStore.
type FileConfig struct {
	// Dir holds the decision files. Created with mode 0700 if missing.
	Dir string
	// RetentionDays is how many days of files are kept.
	RetentionDays int
	// MaxFileSizeMB rotates the current file once it reaches this size.
	MaxFileSizeMB int
	// CacheSize is how many recent records Query can see.
	CacheSize int
}

// FileStore implements audit.AuditStore and audit.QueryStore on rotating
// JSON Lines files. Queries are served from the cache only.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	cache  *recordCache
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileStore opens today's file, removes files past retention, warms the
// cache from the newest file and starts an hourly retention sweep.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		cache:         newRecordCache(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	today := time.Now().UTC().Format(time.DateOnly)
	if err := s.openCurrent(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	s.removeExpired()
	s.warmCache()

	go s.sweepLoop(ctx)

	return s, nil
}

// Append writes records as JSON lines, rotating by record date and file size.
func (s *FileStore) Append(_ context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(time.DateOnly)
		if date != s.currentDate {
			if err := s.reopenLocked(date, 0); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.reopenLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal decision record: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write decision record: %w", err)
		}
		s.currentSize += int64(n)

		s.cache.add(rec)
	}

	return nil
}

// Flush syncs the current file to disk.
func (s *FileStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the retention sweep and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// Query implements audit.QueryStore over the cache, newest first.
func (s *FileStore) Query(_ context.Context, filter audit.Filter) ([]audit.DecisionRecord, error) {
	return s.cache.query(filter), nil
}

// openCurrent opens the highest-suffix file of date for appending.
func (s *FileStore) openCurrent(date string) error {
	suffix := 0
	for _, f := range s.listFiles() {
		if f.date == date && f.suffix > suffix {
			suffix = f.suffix
		}
	}
	return s.reopenLocked(date, suffix)
}

// reopenLocked closes the current file and opens date/suffix.
// Must be called with s.mu held, or before the store is shared.
func (s *FileStore) reopenLocked(date string, suffix int) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	name := decisionFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", name, err)
	}

	s.currentFile = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

// listFiles returns the decision files in dir, unsorted.
func (s *FileStore) listFiles() []decisionFile {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var files []decisionFile
	for _, e := range entries {
		if f, ok := parseDecisionFilename(e.Name()); ok {
			files = append(files, f)
		}
	}
	return files
}

// removeExpired deletes files dated before the retention window.
func (s *FileStore) removeExpired() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, f := range s.listFiles() {
		date, err := time.Parse(time.DateOnly, f.date)
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("decision log cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("decision log cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) sweepLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

// warmCache loads the tail of the newest non-empty file into the cache.
func (s *FileStore) warmCache() {
	var files []decisionFile
	for _, f := range s.listFiles() {
		if info, err := os.Stat(filepath.Join(s.dir, f.name)); err == nil && info.Size() > 0 {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return
	}
	sortDecisionFiles(files)
	newest := files[len(files)-1].name

	fh, err := os.Open(filepath.Join(s.dir, newest))
	if err != nil {
		s.logger.Error("decision cache: failed to open file", "file", newest, "error", err)
		return
	}
	defer func() { _ = fh.Close() }()

	var records []audit.DecisionRecord
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.DecisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("decision cache: skipping malformed line", "file", newest, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("decision cache: error reading file", "file", newest, "error", err)
	}

	start := max(len(records)-s.cache.size, 0)
	for _, rec := range records[start:] {
		s.cache.add(rec)
	}
}

// Compile-time interface verification.
var (
	_ audit.AuditStore = (*FileStore)(nil)
	_ audit.QueryStore = (*FileStore)(nil)
)

// recordCache is a ring buffer of recent records.
type recordCache struct {
	mu      sync.RWMutex
	entries []audit.DecisionRecord
	size    int
	head    int
	count   int
}

func newRecordCache(size int) *recordCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &recordCache{
		entries: make([]audit.DecisionRecord, size),
		size:    size,
	}
}

// add overwrites the oldest entry when full.
func (c *recordCache) add(rec audit.DecisionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.head] = rec
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// query returns matching entries, newest first.
func (c *recordCache) query(filter audit.Filter) []audit.DecisionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	limit := filter.EffectiveLimit()
	out := make([]audit.DecisionRecord, 0, min(limit, c.count))
	for i := 0; i < c.count && len(out) < limit; i++ {
		// head is the next write slot, so head-1 is the newest.
		rec := c.entries[(c.head-1-i+c.size)%c.size]
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (c *recordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
