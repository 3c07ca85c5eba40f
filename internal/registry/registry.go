// Package registry implements the Stylesheet Registry (C1): the
// authoritative in-memory map of every stylesheet currently live in the
// page, plus its last-known text and resolved source metadata.
//
// There is no persistence: the registry is recreated on each agent start
// and explicitly cleared before a page reload.
package registry

import (
	"strings"
	"sync"
	"time"
)

// StylesheetID is the opaque identifier the browser assigns a stylesheet,
// unique per CDP session.
type StylesheetID string

// Header is a snapshot of the metadata the browser provides for a
// stylesheet when it is added.
type Header struct {
	SourceURL    string
	IsInline     bool
	SourceMapURL string
}

// Record is one entry in the registry.
type Record struct {
	ID             StylesheetID
	Header         Header
	Text           *string
	LastModified   time.Time
	ViteDevID      *string
	OriginalSource *string
}

// ResolvedSource returns the source path this record prefers for patching,
// following the preference order vite_dev_id > original_source >
// header.sourceURL, and whether any of the three is set.
func (r *Record) ResolvedSource() (string, bool) {
	if r.ViteDevID != nil && *r.ViteDevID != "" {
		return *r.ViteDevID, true
	}
	if r.OriginalSource != nil && *r.OriginalSource != "" {
		return *r.OriginalSource, true
	}
	if r.Header.SourceURL != "" {
		return r.Header.SourceURL, true
	}
	return "", false
}

// isFileBased reports whether this record is backed by an authored file:
// a non-empty vite_dev_id or original_source, or a non-inline http/file
// sourceURL.
func (r *Record) isFileBased() bool {
	if r.ViteDevID != nil && *r.ViteDevID != "" {
		return true
	}
	if r.OriginalSource != nil && *r.OriginalSource != "" {
		return true
	}
	if r.Header.IsInline {
		return false
	}
	u := r.Header.SourceURL
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "file://")
}

// Registry is the authoritative map of live stylesheets. A single
// sync.RWMutex guards it: the orchestrator and poll loop are its only
// writers, and reads (file_based iteration) vastly outnumber writes.
type Registry struct {
	mu      sync.RWMutex
	records map[StylesheetID]*Record
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[StylesheetID]*Record)}
}

// Register is idempotent: registering an existing id is a no-op that
// returns the existing record.
func (reg *Registry) Register(id StylesheetID, header Header) *Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.records[id]; ok {
		return existing
	}
	rec := &Record{ID: id, Header: header}
	reg.records[id] = rec
	return rec
}

// UpdateText sets a record's text and bumps its last-modified timestamp.
// It is a no-op if the id is unknown.
func (reg *Registry) UpdateText(id StylesheetID, text string, at time.Time) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[id]
	if !ok {
		return
	}
	rec.Text = &text
	rec.LastModified = at
}

// PreviousText returns the record's stored text, used as the "old" input
// to the differ.
func (reg *Registry) PreviousText(id StylesheetID) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.records[id]
	if !ok || rec.Text == nil {
		return "", false
	}
	return *rec.Text, true
}

// Get returns the record for id, if any.
func (reg *Registry) Get(id StylesheetID) (*Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.records[id]
	return rec, ok
}

// SetViteDevID records the absolute path a Vite-style bundler announced
// for this stylesheet's owning <style> element.
func (reg *Registry) SetViteDevID(id StylesheetID, path string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if rec, ok := reg.records[id]; ok {
		rec.ViteDevID = &path
	}
}

// SetOriginalSource records a path resolved from an inline source map.
func (reg *Registry) SetOriginalSource(id StylesheetID, path string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if rec, ok := reg.records[id]; ok {
		rec.OriginalSource = &path
	}
}

// All returns every tracked record, file-based or not.
func (reg *Registry) All() []*Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Record, 0, len(reg.records))
	for _, rec := range reg.records {
		out = append(out, rec)
	}
	return out
}

// FileBased returns every record whose text is backed by an authored file.
func (reg *Registry) FileBased() []*Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []*Record
	for _, rec := range reg.records {
		if rec.isFileBased() {
			out = append(out, rec)
		}
	}
	return out
}

// Remove drops id from the registry. It is a no-op if the id is unknown.
func (reg *Registry) Remove(id StylesheetID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.records, id)
}

// Clear empties the registry. Called before issuing a page reload.
func (reg *Registry) Clear() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.records = make(map[StylesheetID]*Record)
}

// Len reports the number of tracked stylesheets.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.records)
}
