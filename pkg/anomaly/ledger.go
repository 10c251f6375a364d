package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/vigil/pkg/storage"
)

var (
	ErrRecordNotFound    = errors.New("anomaly record not found")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrCorruptState      = errors.New("corrupt persisted anomaly state")
)

// Filter selects records in List. Zero fields match everything.
type Filter struct {
	Status   Status
	Severity Severity
	Metric   string
	Offset   int
	// Limit is capped at the ledger's MaxPageSize; zero means the default
	// page size.
	Limit int
}

// Page is one page of List results, newest first.
type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
}

// Stats counts retained records.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// Ledger stores anomaly records and enforces their lifecycle. Records are
// kept in insertion order; once the ledger is over capacity the oldest
// resolved records are evicted before any open one.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	cfg     LedgerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		records: make(map[string]*Record),
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "ledger"),
		now:     time.Now,
	}
}

// Add inserts rec as a new record. An ID is assigned when rec has none and the
// lifecycle fields are reset. It returns the stored record and the IDs of any
// records evicted to make room. An ID that is already stored is left
// untouched and its current record is returned.
func (l *Ledger) Add(rec Record) (Record, []string) {
	rec = newRecord(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, exists := l.records[rec.ID]; exists {
		return cur.clone(), nil
	}
	return l.insert(rec)
}

// AddIfAbsent inserts rec unless a record for the same metric and timestamp
// exists, in which case that record is returned with added false. The check
// and the insert happen under one lock.
func (l *Ledger) AddIfAbsent(rec Record) (stored Record, added bool, evicted []string) {
	rec = newRecord(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, found := l.lookup(rec.Metric, rec.Timestamp); found {
		return cur.clone(), false, nil
	}
	if cur, exists := l.records[rec.ID]; exists {
		return cur.clone(), false, nil
	}
	stored, evicted = l.insert(rec)
	return stored, true, evicted
}

func newRecord(rec Record) Record {
	rec = rec.clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = StatusNew
	rec.ResolutionNotes = ""
	rec.AcknowledgedAt = nil
	rec.ResolvedAt = nil
	return rec
}

// insert stores rec. l.mu must be held for writing.
func (l *Ledger) insert(rec Record) (Record, []string) {
	rec.CreatedAt = l.now().UTC()
	l.records[rec.ID] = &rec
	l.order = append(l.order, rec.ID)

	evicted := l.enforceRetention()
	if len(evicted) > 0 {
		l.logger.Debug("evicted anomaly records", "count", len(evicted))
	}
	return rec.clone(), evicted
}

func (l *Ledger) enforceRetention() []string {
	var evicted []string
	for len(l.order) > l.cfg.Capacity {
		idx := slices.IndexFunc(l.order, func(id string) bool {
			return l.records[id].Status == StatusResolved
		})
		if idx < 0 {
			idx = 0
		}
		id := l.order[idx]
		l.order = slices.Delete(l.order, idx, idx+1)
		delete(l.records, id)
		evicted = append(evicted, id)
	}
	return evicted
}

// Get returns the record with id.
func (l *Ledger) Get(id string) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return rec.clone(), nil
}

// Acknowledge moves a new record to acknowledged.
func (l *Ledger) Acknowledge(id string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if rec.Status != StatusNew {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusAcknowledged)
	}
	now := l.now().UTC()
	rec.Status = StatusAcknowledged
	rec.AcknowledgedAt = &now
	return rec.clone(), nil
}

// Resolve closes a new or acknowledged record, attaching optional notes.
func (l *Ledger) Resolve(id, notes string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if !rec.Status.Open() {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusResolved)
	}
	now := l.now().UTC()
	rec.Status = StatusResolved
	rec.ResolvedAt = &now
	rec.ResolutionNotes = notes
	return rec.clone(), nil
}

// List returns matching records, newest first.
func (l *Ledger) List(f Filter) Page {
	limit := f.Limit
	if limit <= 0 {
		limit = l.cfg.DefaultPageSize
	}
	limit = min(limit, l.cfg.MaxPageSize)
	offset := max(f.Offset, 0)

	l.mu.RLock()
	defer l.mu.RUnlock()

	page := Page{Records: []Record{}, Offset: offset, Limit: limit}
	for i := len(l.order) - 1; i >= 0; i-- {
		rec := l.records[l.order[i]]
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Severity != "" && rec.Severity != f.Severity {
			continue
		}
		if f.Metric != "" && rec.Metric != f.Metric {
			continue
		}
		if page.Total >= offset && len(page.Records) < limit {
			page.Records = append(page.Records, rec.clone())
		}
		page.Total++
	}
	return page
}

// lookup returns the newest record for metric observed at ts. l.mu must be
// held.
func (l *Ledger) lookup(metric string, ts time.Time) (*Record, bool) {
	for i := len(l.order) - 1; i >= 0; i-- {
		rec := l.records[l.order[i]]
		if rec.Metric == metric && rec.Timestamp.Equal(ts) {
			return rec, true
		}
	}
	return nil, false
}

// Recent returns up to n records, newest first.
func (l *Ledger) Recent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, min(n, len(l.order)))
	for i := len(l.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.records[l.order[i]].clone())
	}
	return out
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Stats counts records by status and severity.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Total:      len(l.order),
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
	}
	for _, rec := range l.records {
		s.ByStatus[rec.Status]++
		s.BySeverity[rec.Severity]++
	}
	return s
}

// Snapshot returns every record in insertion order.
func (l *Ledger) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id].clone())
	}
	return out
}

// Restore replaces the ledger contents with records, keeping their lifecycle
// state. Records without an ID or with an unknown status are skipped.
func (l *Ledger) Restore(records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make(map[string]*Record, len(records))
	l.order = l.order[:0]
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, err := ParseStatus(string(rec.Status)); err != nil {
			continue
		}
		rec = rec.clone()
		if _, exists := l.records[rec.ID]; !exists {
			l.order = append(l.order, rec.ID)
		}
		l.records[rec.ID] = &rec
	}
	l.enforceRetention()
}

type ledgerDocument struct {
	Anomalies []Record `json:"anomalies"`
}

// Persist writes the ledger to st as {"anomalies": [...]}.
func (l *Ledger) Persist(ctx context.Context, st storage.Store) error {
	data, err := json.Marshal(ledgerDocument{Anomalies: l.Snapshot()})
	if err != nil {
		return fmt.Errorf("encode anomaly document: %w", err)
	}
	if err := st.Put(ctx, storage.KeyAnomalies, data); err != nil {
		return fmt.Errorf("persist anomaly document: %w", err)
	}
	return nil
}

// Load replaces the ledger contents with the persisted document. A missing
// document empties the ledger; a corrupt one empties it, logs a warning and
// returns an error wrapping ErrCorruptState. Individual malformed records are
// skipped.
func (l *Ledger) Load(ctx context.Context, st storage.Store) error {
	data, found, err := st.Get(ctx, storage.KeyAnomalies)
	if err != nil {
		return fmt.Errorf("load anomaly document: %w", err)
	}
	if !found {
		l.Restore(nil)
		return nil
	}

	records, skipped, err := decodeLedger(data)
	if err != nil {
		l.Restore(nil)
		l.logger.Warn("starting with empty anomaly ledger", "error", err)
		return err
	}
	if skipped > 0 {
		l.logger.Debug("skipped malformed anomaly records", "count", skipped)
	}
	l.Restore(records)
	l.logger.Info("loaded anomaly ledger", "records", len(records))
	return nil
}

func decodeLedger(data []byte) ([]Record, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, fmt.Errorf("%w: invalid json", ErrCorruptState)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, 0, fmt.Errorf("%w: document is not an object", ErrCorruptState)
	}
	list := root.Get("anomalies")
	if list.Exists() && !list.IsArray() {
		return nil, 0, fmt.Errorf("%w: anomalies is not an array", ErrCorruptState)
	}

	var records []Record
	skipped := 0
	list.ForEach(func(_, value gjson.Result) bool {
		var rec Record
		if err := json.Unmarshal([]byte(value.Raw), &rec); err != nil || rec.ID == "" {
			skipped++
			return true
		}
		records = append(records, rec)
		return true
	})
	return records, skipped, nil
}
