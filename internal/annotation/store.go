package annotation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/page-annotator/internal/config"
)

// Store loads dataset rows and keeps track of annotations. Entries are
// immutable after load; records and annotator assignments are mutated only by
// Save, which flushes the entire store to the output file before returning.
// Reads may proceed concurrently; a save holds the write lock through its
// persistence flush so partial rewrites are never observable.
type Store struct {
	cfg *config.Config

	mu         sync.RWMutex
	entries    []Entry
	byID       map[int]Entry
	records    map[int]Record
	annotators map[int]string
	visible    map[int]struct{} // nil means every entry is visible
	columns    []string         // source CSV header, in order
}

// New ingests the configured data file, computes visibility, seeds records
// from the source rows, and overlays any previously persisted output.
// All structural failures are fatal: the store never starts partially loaded.
func New(cfg *config.Config) (*Store, error) {
	s := &Store{
		cfg:        cfg,
		byID:       make(map[int]Entry),
		records:    make(map[int]Record),
		annotators: make(map[int]string),
	}
	if err := s.loadEntries(); err != nil {
		return nil, err
	}
	if err := s.computeVisibility(); err != nil {
		return nil, err
	}
	s.seedFromSource()
	if err := s.loadExistingOutput(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadEntries() error {
	f, err := os.Open(s.cfg.DataFile)
	if err != nil {
		return fmt.Errorf("open data file %s: %w", s.cfg.DataFile, err)
	}
	defer f.Close()

	header, rows, err := readTable(f)
	if err != nil {
		return fmt.Errorf("read data file %s: %w", s.cfg.DataFile, err)
	}
	s.columns = header

	urlColumn := s.cfg.Viewer.URLColumn
	urlIdx := indexOf(header, urlColumn)
	if urlIdx < 0 {
		return fmt.Errorf("data file is missing the URL column %q", urlColumn)
	}

	for i, row := range rows {
		url := cell(row, urlIdx)
		if url == "" {
			return fmt.Errorf("row %d is missing the URL column %q", i+1, urlColumn)
		}
		data := make(map[string]string, len(header))
		for j, col := range header {
			data[col] = cell(row, j)
		}
		entry := Entry{ID: i, URL: url, Data: data}
		s.entries = append(s.entries, entry)
		s.byID[i] = entry
	}
	if len(s.entries) == 0 {
		return errors.New("no rows were loaded from the data file")
	}
	return nil
}

func (s *Store) computeVisibility() error {
	if len(s.cfg.AnnotatorFilter) == 0 {
		return nil
	}
	column := s.cfg.AnnotatorColumn
	if indexOf(s.columns, column) < 0 {
		return fmt.Errorf("annotator filter is configured but column %q is absent from the header", column)
	}
	allow := make(map[string]struct{}, len(s.cfg.AnnotatorFilter))
	for _, name := range s.cfg.AnnotatorFilter {
		allow[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	s.visible = make(map[int]struct{})
	for _, entry := range s.entries {
		for _, token := range splitAnnotators(entry.Data[column]) {
			if _, ok := allow[token]; ok {
				s.visible[entry.ID] = struct{}{}
				break
			}
		}
	}
	return nil
}

// splitAnnotators tokenizes an annotator cell on the supported separators,
// trimming and lower-casing each token.
func splitAnnotators(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ',' || r == '|' || r == '\n'
	})
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return tokens
}

// seedFromSource copies pre-filled judgments shipped in the dataset itself
// into initial records. Runs before loadExistingOutput so persisted output
// takes precedence.
func (s *Store) seedFromSource() {
	for _, entry := range s.entries {
		record := Record{}
		for _, field := range s.cfg.AnnotationFields {
			if value := entry.Data[field.Name]; strings.TrimSpace(value) != "" {
				record[field.Name] = value
			}
		}
		if len(record) > 0 {
			s.records[entry.ID] = record
		}
		if s.cfg.AnnotatorColumn != "" {
			if value := entry.Data[s.cfg.AnnotatorColumn]; strings.TrimSpace(value) != "" {
				s.annotators[entry.ID] = value
			}
		}
	}
}

// loadExistingOutput overlays a previously written output file. Each row with
// a parseable identity replaces any seeded record wholesale; the annotator
// column is copied verbatim.
func (s *Store) loadExistingOutput() error {
	f, err := os.Open(s.cfg.AnnotationOutput)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open annotation output %s: %w", s.cfg.AnnotationOutput, err)
	}
	defer f.Close()

	header, rows, err := readTable(f)
	if err != nil {
		// A malformed output file is ignored, matching a missing one; the
		// next save rewrites it from current in-memory state.
		return nil
	}
	idIdx := indexOf(header, EntryIDColumn)
	if idIdx < 0 {
		return nil
	}

	// Annotation fields and the annotator column are written after the source
	// columns, so a duplicated name resolves to its last occurrence.
	fieldIdx := make(map[string]int, len(s.cfg.AnnotationFields))
	for _, field := range s.cfg.AnnotationFields {
		fieldIdx[field.Name] = lastIndexOf(header, field.Name)
	}
	annotatorIdx := -1
	if s.cfg.AnnotatorColumn != "" {
		annotatorIdx = lastIndexOf(header, s.cfg.AnnotatorColumn)
	}

	for _, row := range rows {
		id, err := strconv.Atoi(strings.TrimSpace(cell(row, idIdx)))
		if err != nil {
			continue
		}
		record := make(Record, len(fieldIdx))
		for name, idx := range fieldIdx {
			record[name] = cell(row, idx)
		}
		s.records[id] = record
		if annotatorIdx >= 0 {
			s.annotators[id] = cell(row, annotatorIdx)
		} else if s.cfg.AnnotatorColumn != "" {
			s.annotators[id] = ""
		}
	}
	return nil
}

// Entry resolves an id regardless of visibility; persistence needs hidden
// entries too. Callers exposing entries to clients must consult Visible first.
func (s *Store) Entry(id int) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("entry %d: %w", id, ErrEntryNotFound)
	}
	return entry, nil
}

// Visible reports whether the entry may be exposed or mutated through
// client-facing operations.
func (s *Store) Visible(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleLocked(id)
}

func (s *Store) visibleLocked(id int) bool {
	if s.visible == nil {
		return true
	}
	_, ok := s.visible[id]
	return ok
}

// Len returns the number of loaded entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Annotation returns the current record for an entry, or an empty one.
func (s *Store) Annotation(id int) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}
	}
	return cloneRecord(record)
}

// Annotator returns the current annotator assignment for an entry.
func (s *Store) Annotator(id int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotators[id]
}

// Save validates and normalizes a submission, replaces the entry's record
// wholesale, updates the annotator assignment, and persists the entire store
// before returning the normalized record.
func (s *Store) Save(id int, values map[string]FieldValue, annotator string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("entry %d: %w", id, ErrEntryNotFound)
	}
	if !s.visibleLocked(id) {
		return nil, fmt.Errorf("entry %d: %w", id, ErrEntryNotVisible)
	}

	prepared := make(Record, len(s.cfg.AnnotationFields))
	for _, field := range s.cfg.AnnotationFields {
		value, ok := values[field.Name]
		if !ok {
			prepared[field.Name] = ""
			continue
		}
		if value.isList {
			prepared[field.Name] = s.joinList(field, value.list)
		} else {
			prepared[field.Name] = value.scalar
		}
	}
	s.records[id] = prepared
	if s.cfg.AnnotatorColumn != "" {
		s.annotators[id] = strings.TrimSpace(annotator)
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return cloneRecord(prepared), nil
}

func (s *Store) joinList(field config.AnnotationField, values []string) string {
	separator := field.Separator
	if separator == "" {
		separator = s.cfg.DefaultListSeparator
	}
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, separator)
}

// persistLocked rewrites the whole output file: one row per entry regardless
// of visibility, in load order. Columns: identity, every source column
// verbatim, every annotation field, then the annotator column if configured.
func (s *Store) persistLocked() error {
	header := make([]string, 0, 1+len(s.columns)+len(s.cfg.AnnotationFields)+1)
	header = append(header, EntryIDColumn)
	header = append(header, s.columns...)
	header = append(header, s.cfg.AnnotationFieldNames()...)
	if s.cfg.AnnotatorColumn != "" {
		header = append(header, s.cfg.AnnotatorColumn)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write output header: %w", err)
	}
	row := make([]string, 0, len(header))
	for _, entry := range s.entries {
		row = row[:0]
		row = append(row, strconv.Itoa(entry.ID))
		for _, col := range s.columns {
			row = append(row, entry.Data[col])
		}
		record := s.records[entry.ID]
		for _, field := range s.cfg.AnnotationFields {
			row = append(row, record[field.Name])
		}
		if s.cfg.AnnotatorColumn != "" {
			row = append(row, s.annotators[entry.ID])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write output row %d: %w", entry.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	if dir := filepath.Dir(s.cfg.AnnotationOutput); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(s.cfg.AnnotationOutput, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write annotation output: %w", err)
	}
	return nil
}

// FormattedEntries returns the visible entries in load order.
func (s *Store) FormattedEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if s.visibleLocked(entry.ID) {
			entries = append(entries, entry)
		}
	}
	return entries
}

// AnnotationsForClient returns visible records keyed by stringified id.
func (s *Store) AnnotationsForClient() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for id, record := range s.records {
		if s.visibleLocked(id) {
			out[strconv.Itoa(id)] = cloneRecord(record)
		}
	}
	return out
}

// AnnotatorsForClient returns visible annotator assignments keyed by
// stringified id.
func (s *Store) AnnotatorsForClient() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.annotators))
	for id, name := range s.annotators {
		if s.visibleLocked(id) {
			out[strconv.Itoa(id)] = name
		}
	}
	return out
}

func readTable(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err = reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("no header row")
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func indexOf(columns []string, name string) int {
	for i, col := range columns {
		if col == name {
			return i
		}
	}
	return -1
}

func lastIndexOf(columns []string, name string) int {
	for i := len(columns) - 1; i >= 0; i-- {
		if columns[i] == name {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func cloneRecord(record Record) Record {
	out := make(Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
