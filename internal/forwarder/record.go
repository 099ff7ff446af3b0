package forwarder

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is one completed forwarded request, handed to the external
// request-log collaborator described in spec §6. The real request-log
// database is out of scope here (see the package doc); Record is the
// narrow contract a real implementation would consume.
type Record struct {
	RequestID       string    `json:"request_id"`
	Family          string    `json:"family"`
	Endpoint        string    `json:"endpoint"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	Status          int       `json:"status"`
	Streamed        bool      `json:"streamed"`
	DurationMS      int64     `json:"duration_ms"`
	SanitisedBlocks int       `json:"sanitised_blocks"`
	InputTokens     int       `json:"input_tokens,omitempty"`
	OutputTokens    int       `json:"output_tokens,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// RequestLogger is the explicit external collaborator (§6): anything that
// can durably persist a completed request record. A real deployment would
// back this with a database; this package ships only the ring-buffer
// default below.
type RequestLogger interface {
	Log(ctx context.Context, rec Record) error
}

// dispatchLogger wraps a RequestLogger with a bounded buffered channel and
// a background drain goroutine, so Handle never blocks the client response
// on log persistence. Grounded on internal/gateway/webhook.go's
// dispatch-then-process shape, generalized here from synchronous HTTP
// dispatch to an asynchronous background drain.
type dispatchLogger struct {
	inner  RequestLogger
	logger *slog.Logger
	ch     chan Record
}

// newDispatchLogger starts the background drain goroutine. Callers should
// treat the returned value as a RequestLogger; Close stops the goroutine
// after draining what's already queued.
func newDispatchLogger(inner RequestLogger, logger *slog.Logger, bufferSize int) *dispatchLogger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	d := &dispatchLogger{
		inner:  inner,
		logger: logger,
		ch:     make(chan Record, bufferSize),
	}
	go d.drain()
	return d
}

func (d *dispatchLogger) drain() {
	for rec := range d.ch {
		if err := d.inner.Log(context.Background(), rec); err != nil {
			d.logger.Error("forwarder: request log dispatch failed", "request_id", rec.RequestID, "error", err)
		}
	}
}

// Log enqueues rec for background persistence. If the buffer is full the
// record is dropped and logged locally rather than blocking the request
// path — losing one log entry is preferable to stalling live traffic.
func (d *dispatchLogger) Log(_ context.Context, rec Record) error {
	select {
	case d.ch <- rec:
	default:
		d.logger.Warn("forwarder: request log buffer full, dropping record", "request_id", rec.RequestID)
	}
	return nil
}

func (d *dispatchLogger) Close() {
	close(d.ch)
}

// RingBufferLogger is the default in-memory RequestLogger: it keeps the
// most recent N records, enough to back the dashboard's contract-only
// GET /logs, GET /logs/{id}, and GET /stats endpoints without a database.
type RingBufferLogger struct {
	mu      sync.Mutex
	records []Record
	cap     int
	next    int
	full    bool

	totalByFamily  map[string]int64
	errorsByFamily map[string]int64
}

// NewRingBufferLogger creates a RingBufferLogger holding at most capacity
// records.
func NewRingBufferLogger(capacity int) *RingBufferLogger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBufferLogger{
		records:        make([]Record, capacity),
		cap:            capacity,
		totalByFamily:  make(map[string]int64),
		errorsByFamily: make(map[string]int64),
	}
}

// Log appends rec, evicting the oldest record once capacity is reached.
func (r *RingBufferLogger) Log(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.next] = rec
	r.next = (r.next + 1) % r.cap
	if r.next == 0 {
		r.full = true
	}

	r.totalByFamily[rec.Family]++
	if rec.Error != "" || rec.Status >= 400 {
		r.errorsByFamily[rec.Family]++
	}
	return nil
}

// List returns up to limit most-recent records, newest first.
func (r *RingBufferLogger) List(limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.orderedLocked()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out
}

// Find returns the record with the given request id, if still retained.
func (r *RingBufferLogger) Find(requestID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.orderedLocked() {
		if rec.RequestID == requestID {
			return rec, true
		}
	}
	return Record{}, false
}

// Stats backs GET /api/stats: RetainedRecords is the number of records
// currently held in the ring, while TotalByFamily and ErrorsByFamily are
// running counters over the logger's lifetime.
type Stats struct {
	RetainedRecords int              `json:"retained_records"`
	TotalByFamily   map[string]int64 `json:"total_by_family"`
	ErrorsByFamily  map[string]int64 `json:"errors_by_family"`
}

// Stats returns the running counters. Note these accumulate over the
// logger's lifetime, not just the retained window — they are cheap
// integer counters, not derived from the (evicted) ring contents.
func (r *RingBufferLogger) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := make(map[string]int64, len(r.totalByFamily))
	for k, v := range r.totalByFamily {
		total[k] = v
	}
	errs := make(map[string]int64, len(r.errorsByFamily))
	for k, v := range r.errorsByFamily {
		errs[k] = v
	}
	return Stats{
		RetainedRecords: len(r.orderedLocked()),
		TotalByFamily:   total,
		ErrorsByFamily:  errs,
	}
}

// Clear discards all retained records, used by the dashboard's
// DELETE /api/logs endpoint. Running totals in Stats are left intact —
// they count requests served, not records currently retained.
func (r *RingBufferLogger) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make([]Record, r.cap)
	r.next = 0
	r.full = false
}

func (r *RingBufferLogger) orderedLocked() []Record {
	if !r.full {
		return append([]Record(nil), r.records[:r.next]...)
	}
	out := make([]Record, 0, r.cap)
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}
