package source

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/models"
)

var bundleIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Text is a string that also accepts JSON numbers, so feeds that emit
// "version": 2.1 or "category": 12 still decode.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*t = Text(n.String())
	return nil
}

// Manifest is the wire form of one app as published by a source.
type Manifest struct {
	BundleID    Text     `json:"bundle_id" yaml:"bundle_id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Version     Text     `json:"version" yaml:"version"`
	Category    Text     `json:"category" yaml:"category"`
	Tags        []string `json:"tags" yaml:"tags"`
	Screenshots []string `json:"screenshots" yaml:"screenshots"`
	Price       *float64 `json:"price" yaml:"price"`
	Vendor      string   `json:"vendor" yaml:"vendor"`
	FileSize    *int64   `json:"file_size" yaml:"file_size"`
	ReleasedAt  string   `json:"released_at" yaml:"released_at"`
	ScannedAt   string   `json:"scanned_at" yaml:"scanned_at"`
}

// Validate checks the manifest fields.
func (m *Manifest) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.BundleID, validation.Required, validation.Length(1, 255), validation.Match(bundleIDRe)),
		validation.Field(&m.Version, validation.Required, validation.Length(1, 64)),
		validation.Field(&m.Name, validation.Length(0, 255)),
		validation.Field(&m.Price, validation.Min(0.0)),
		validation.Field(&m.FileSize, validation.Min(int64(0))),
		validation.Field(&m.Screenshots, validation.Each(is.URL)),
		validation.Field(&m.ReleasedAt, validation.By(timestamp)),
		validation.Field(&m.ScannedAt, validation.By(timestamp)),
	)
}

func timestamp(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	_, err := parseTime(s)
	return err
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Record converts a validated manifest into a SourceRecord.
func (m *Manifest) Record() models.SourceRecord {
	r := models.SourceRecord{
		BundleID:    strings.TrimSpace(string(m.BundleID)),
		Name:        strings.TrimSpace(m.Name),
		Description: strings.TrimSpace(m.Description),
		Version:     strings.TrimSpace(string(m.Version)),
		CategoryID:  strings.TrimSpace(string(m.Category)),
		Vendor:      strings.TrimSpace(m.Vendor),
		Price:       m.Price,
		FileSize:    m.FileSize,
	}
	if m.Tags != nil {
		r.Tags = dedupe(m.Tags)
	}
	if m.Screenshots != nil {
		r.Screenshots = dedupe(m.Screenshots)
	}
	if t, err := parseTime(m.ReleasedAt); err == nil && m.ReleasedAt != "" {
		r.ReleasedAt = &t
	}
	if t, err := parseTime(m.ScannedAt); err == nil && m.ScannedAt != "" {
		r.ScannedAt = &t
	}
	return r
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Normalizer turns manifests into records.
type Normalizer struct {
	// Lenient drops invalid manifests instead of failing the whole batch.
	Lenient bool
	Logger  *slog.Logger
}

// Normalize validates manifests and converts them to records. Duplicate
// bundle IDs keep the first occurrence. origin names the payload in errors.
func (n Normalizer) Normalize(origin string, manifests []Manifest) ([]models.SourceRecord, error) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]models.SourceRecord, 0, len(manifests))
	seen := make(map[string]struct{}, len(manifests))
	for i := range manifests {
		m := &manifests[i]
		m.BundleID = Text(strings.TrimSpace(string(m.BundleID)))
		m.Version = Text(strings.TrimSpace(string(m.Version)))
		if err := m.Validate(); err != nil {
			if !n.Lenient {
				return nil, fmt.Errorf("%w: %s: record %d (%s): %v", apperr.ErrSourceFormat, origin, i, m.BundleID, err)
			}
			logger.Warn("source: invalid record dropped",
				slog.String("origin", origin),
				slog.Int("index", i),
				slog.String("bundle_id", string(m.BundleID)),
				slog.String("error", err.Error()))
			continue
		}
		rec := m.Record()
		if _, dup := seen[rec.BundleID]; dup {
			logger.Warn("source: duplicate bundle id dropped",
				slog.String("origin", origin),
				slog.String("bundle_id", rec.BundleID))
			continue
		}
		seen[rec.BundleID] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}
