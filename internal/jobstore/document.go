package jobstore

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/model"
)

// Document is the stored JSON form of a job. Keeping the raw document rather
// than the struct preserves fields written by newer versions of the services.
type Document map[string]any

// Encode converts a job into its document form.
func Encode(job *model.ConversionJob) (Document, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal job document: %w", err)
	}
	return doc, nil
}

// Decode converts a stored document back into a typed job.
func Decode(doc Document) (*model.ConversionJob, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal job document: %w", err)
	}
	var job model.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job document: %w", err)
	}
	return &job, nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return cloneValue(map[string]any(d)).(map[string]any)
}

// Status returns the status recorded in the document.
func (d Document) Status() model.Status {
	s, _ := d["status"].(string)
	return model.Status(s)
}

// Allowed reports whether the document's status is one of allowed.
func (d Document) Allowed(allowed []model.Status) bool {
	current := d.Status()
	for _, s := range allowed {
		if s == current {
			return true
		}
	}
	return false
}

// Apply merges fields into doc in place and refreshes updatedAt. It enforces
// the status state machine and keeps progress.percent non-decreasing while a
// job is PROCESSING; the percentage may only drop when the same update enters
// PROCESSING.
func Apply(doc Document, fields Fields, now time.Time) error {
	current := doc.Status()
	next := current
	if raw, ok := fields["status"]; ok {
		next = model.Status(fmt.Sprint(normalizeStatus(raw)))
		if !model.CanTransition(current, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// parents before children so "progress" followed by "progress.percent"
	// merges instead of clobbering.
	sort.Strings(keys)

	for _, key := range keys {
		value, err := normalize(fields[key])
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if key == "progress.percent" {
			pct, ok := guardPercent(doc, value, current, next)
			if !ok {
				continue
			}
			value = pct
		}
		if key == "status" {
			value = string(next)
		}
		setPath(doc, key, value)
	}
	setPath(doc, "updatedAt", now.UTC().Format(time.RFC3339Nano))
	return nil
}

func guardPercent(doc Document, value any, current, next model.Status) (float64, bool) {
	n, ok := value.(float64)
	if !ok {
		return 0, false
	}
	n = math.Max(0, math.Min(100, math.Floor(n)))
	enteringProcessing := next == model.StatusProcessing && current != model.StatusProcessing
	if current == model.StatusProcessing && !enteringProcessing {
		if prev, ok := getPath(doc, "progress.percent").(float64); ok && n < prev {
			return 0, false
		}
	}
	return n, true
}

func normalizeStatus(v any) any {
	if s, ok := v.(model.Status); ok {
		return string(s)
	}
	return v
}

// normalize round-trips a value through JSON so both backends store exactly
// what encoding/json would produce (numbers become float64, times strings).
func normalize(v any) (any, error) {
	if s, ok := v.(model.Status); ok {
		return string(s), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func setPath(doc Document, path string, value any) {
	parts := strings.Split(path, ".")
	node := map[string]any(doc)
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

func getPath(doc Document, path string) any {
	var node any = map[string]any(doc)
	for _, p := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[p]
	}
	return node
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Document:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
