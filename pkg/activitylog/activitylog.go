// Package activitylog keeps a day-bucketed record of API calls, errors and
// user actions. Each UTC day lives under its own storage key and holds at most
// the most recent MaxEntriesPerDay entries.
package activitylog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maleva/customer-portal/pkg/config"
	"github.com/maleva/customer-portal/pkg/storage"
	"go.uber.org/zap"
)

const (
	KeyPrefix  = "portal_logs_"
	dateLayout = "2006-01-02"

	// StatusRequestStarted marks the API_CALL entry written before dispatch.
	StatusRequestStarted = "REQUEST_STARTED"
)

type EntryType string

const (
	TypeAPICall    EntryType = "API_CALL"
	TypeError      EntryType = "ERROR"
	TypeUserAction EntryType = "USER_ACTION"
)

type Entry struct {
	ID           string                 `json:"id" bson:"_id"`
	Timestamp    time.Time              `json:"timestamp" bson:"timestamp"`
	Type         EntryType              `json:"type" bson:"type"`
	Context      string                 `json:"context,omitempty" bson:"context,omitempty"`
	Action       string                 `json:"action,omitempty" bson:"action,omitempty"`
	Message      string                 `json:"message,omitempty" bson:"message,omitempty"`
	Status       string                 `json:"status,omitempty" bson:"status,omitempty"`
	URL          string                 `json:"url,omitempty" bson:"url,omitempty"`
	Method       string                 `json:"method,omitempty" bson:"method,omitempty"`
	ResponseTime string                 `json:"responseTime,omitempty" bson:"response_time,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
}

// Sink receives a copy of every entry after it has been persisted.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

type Option func(*Log)

func WithSink(sink Sink) Option {
	return func(l *Log) { l.sink = sink }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

type Log struct {
	store         storage.Store
	sink          Sink
	logger        *zap.Logger
	maxEntries    int
	retentionDays int
	now           func() time.Time

	// serializes the read-modify-write of a day bucket
	mu sync.Mutex
}

func New(store storage.Store, cfg config.ActivityLogConfig, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		store:         store,
		logger:        logger.Named("activitylog"),
		maxEntries:    cfg.MaxEntriesPerDay,
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
	}
	if l.maxEntries <= 0 {
		l.maxEntries = 100
	}
	if l.retentionDays <= 0 {
		l.retentionDays = 7
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) APICall(ctx context.Context, method, url, status string, elapsed time.Duration) {
	l.append(ctx, Entry{
		Type:         TypeAPICall,
		Method:       strings.ToUpper(method),
		URL:          url,
		Status:       status,
		ResponseTime: fmt.Sprintf("%dms", elapsed.Milliseconds()),
	})
}

func (l *Log) Error(ctx context.Context, err error, component, action string) {
	entry := Entry{
		Type:    TypeError,
		Context: component,
		Action:  action,
		Status:  "0",
	}
	if err != nil {
		entry.Message = err.Error()
	}

	var se interface{ StatusCode() int }
	if errors.As(err, &se) {
		entry.Status = strconv.Itoa(se.StatusCode())
	}
	l.append(ctx, entry)
}

func (l *Log) UserAction(ctx context.Context, action string, details map[string]interface{}) {
	l.append(ctx, Entry{
		Type:    TypeUserAction,
		Action:  action,
		Details: details,
	})
}

// RequestStarted, RequestFinished and RequestFailed let the log act as the
// HTTP client's recorder.
func (l *Log) RequestStarted(ctx context.Context, method, url string) {
	l.APICall(ctx, method, url, StatusRequestStarted, 0)
}

func (l *Log) RequestFinished(ctx context.Context, method, url string, status int, elapsed time.Duration) {
	l.APICall(ctx, method, url, strconv.Itoa(status), elapsed)
}

func (l *Log) RequestFailed(ctx context.Context, method, url string, err error, elapsed time.Duration) {
	l.APICall(ctx, method, url, "0", elapsed)
	l.Error(ctx, err, "API_CLIENT", "RESPONSE_ERROR")
}

// ForDate returns the bucket for the given day, oldest entry first. A missing
// or unreadable bucket yields an empty slice.
func (l *Log) ForDate(ctx context.Context, day time.Time) []Entry {
	entries, err := l.load(ctx, dayKey(day))
	if err != nil {
		l.logger.Warn("failed to read log bucket", zap.String("date", day.Format(dateLayout)), zap.Error(err))
		return []Entry{}
	}
	return entries
}

// Export merges the buckets of the last days days, newest entry first.
func (l *Log) Export(ctx context.Context, days int) []Entry {
	today := l.now().UTC()
	all := []Entry{}
	for i := 0; i < days; i++ {
		all = append(all, l.ForDate(ctx, today.AddDate(0, 0, -i))...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return all
}

// Cleanup drops every bucket that falls outside the retention window.
func (l *Log) Cleanup(ctx context.Context) error {
	keys, err := l.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("list log buckets: %w", err)
	}

	cutoff := truncateDay(l.now().UTC()).AddDate(0, 0, -l.retentionDays)
	var stale []string
	for _, key := range keys {
		day, err := time.Parse(dateLayout, strings.TrimPrefix(key, KeyPrefix))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, stale...); err != nil {
		return fmt.Errorf("delete log buckets: %w", err)
	}
	l.logger.Info("removed old log buckets", zap.Strings("keys", stale))
	return nil
}

func (l *Log) append(ctx context.Context, entry Entry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = l.now().UTC()
	key := dayKey(entry.Timestamp)

	l.mu.Lock()
	entries, err := l.load(ctx, key)
	if err != nil {
		// an unreadable bucket is replaced rather than blocking new entries
		l.logger.Warn("discarding unreadable log bucket", zap.String("key", key), zap.Error(err))
		entries = nil
	}
	entries = append(entries, entry)
	if len(entries) > l.maxEntries {
		entries = entries[len(entries)-l.maxEntries:]
	}
	err = storage.SetJSON(ctx, l.store, key, entries, 0)
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("failed to save log entry", zap.String("key", key), zap.Error(err))
		return
	}

	if l.sink != nil {
		if err := l.sink.Write(ctx, entry); err != nil {
			l.logger.Warn("log sink write failed", zap.Error(err))
		}
	}
}

func (l *Log) load(ctx context.Context, key string) ([]Entry, error) {
	var entries []Entry
	err := storage.GetJSON(ctx, l.store, key, &entries)
	if errors.Is(err, storage.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func dayKey(t time.Time) string {
	return KeyPrefix + t.UTC().Format(dateLayout)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
