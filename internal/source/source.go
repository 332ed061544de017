// Package source fetches app records from external catalog sources and
// normalizes them into models.SourceRecord values.
//
// Sources never mutate local state and perform no retries. Transport
// failures wrap apperr.ErrSourceUnavailable; payloads that cannot be
// normalized wrap apperr.ErrSourceFormat.
package source

import (
	"context"

	"github.com/starford/appcatalog/internal/models"
)

// Batch is the normalized result of one fetch.
type Batch struct {
	Records []models.SourceRecord
	// Digest fingerprints the raw payload for the sync run log.
	Digest string
}

// Source produces the canonical app list.
type Source interface {
	Fetch(ctx context.Context) (*Batch, error)
	// Name identifies the source in logs.
	Name() string
}

// Static serves a fixed set of records.
type Static struct {
	Records []models.SourceRecord
	Err     error
}

// Fetch returns a copy of the configured records, or Err when set.
func (s *Static) Fetch(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]models.SourceRecord, len(s.Records))
	copy(out, s.Records)
	return &Batch{Records: out}, nil
}

// Name implements Source.
func (s *Static) Name() string { return "static" }
