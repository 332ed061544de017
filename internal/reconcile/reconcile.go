// Package reconcile classifies source records against the local catalog.
//
// Reconcile is a pure function: it performs no I/O and returns the same
// decisions for the same inputs.
package reconcile

import "github.com/starford/appcatalog/internal/models"

// Decision is the verdict for one record. Record is set for source-side
// classifications (added, updated, unchanged); Entry is set whenever a
// local entry is involved (updated, unchanged, removed).
type Decision struct {
	Classification models.Classification
	Record         *models.SourceRecord
	Entry          *models.CatalogEntry
	// Restored is true for an updated decision whose entry was flagged
	// unsupported and reappeared in the source.
	Restored bool
	// ClaimedBy is set when an earlier source record already matched Entry
	// through another bundle identifier. The decision must not be written.
	ClaimedBy string
}

// Key returns the bundle identifier the decision is about.
func (d Decision) Key() string {
	if d.Record != nil {
		return d.Record.BundleID
	}
	if d.Entry != nil {
		return d.Entry.PrimaryBundleID()
	}
	return ""
}

// Reconcile classifies every source record as added, updated or unchanged,
// and every local entry with no bundle identifier present in the source as
// removed.
//
// Entries are indexed by all of their bundle identifiers. When two entries
// claim the same identifier, the one earlier in entries wins. An entry is
// present when any of its identifiers appears in the source. Entries already
// flagged unsupported and still absent produce no decision.
//
// An entry is matched by at most one source record: the first in record
// order. Later records reaching the same entry through another identifier
// keep their classification but carry ClaimedBy.
//
// Output holds source decisions in record order followed by removed entries
// in entry order.
func Reconcile(records []models.SourceRecord, entries []models.CatalogEntry) []Decision {
	byKey := make(map[string]int, len(entries))
	for i := range entries {
		for _, k := range entries[i].BundleIDs {
			if _, taken := byKey[k]; !taken {
				byKey[k] = i
			}
		}
	}

	out := make([]Decision, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	claimed := make(map[int]string, len(entries))
	for i := range records {
		rec := &records[i]
		seen[rec.BundleID] = struct{}{}

		idx, ok := byKey[rec.BundleID]
		if !ok {
			out = append(out, Decision{Classification: models.Added, Record: rec})
			continue
		}
		entry := &entries[idx]
		d := Decision{Record: rec, Entry: entry}
		switch {
		case entry.Unsupported:
			d.Classification, d.Restored = models.Updated, true
		case entry.Version != rec.Version:
			d.Classification = models.Updated
		default:
			d.Classification = models.Unchanged
		}
		if first, ok := claimed[idx]; ok {
			d.ClaimedBy = first
		} else {
			claimed[idx] = rec.BundleID
		}
		out = append(out, d)
	}

	for i := range entries {
		entry := &entries[i]
		if entry.Unsupported || present(entry, seen) {
			continue
		}
		out = append(out, Decision{Classification: models.Removed, Entry: entry})
	}
	return out
}

func present(e *models.CatalogEntry, seen map[string]struct{}) bool {
	for _, k := range e.BundleIDs {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

// Summarize counts decisions per classification. Errors is always zero.
func Summarize(decisions []Decision) models.SyncStats {
	var s models.SyncStats
	for _, d := range decisions {
		switch d.Classification {
		case models.Added:
			s.Added++
		case models.Updated:
			s.Updated++
		case models.Unchanged:
			s.Unchanged++
		case models.Removed:
			s.Removed++
		}
	}
	return s
}
