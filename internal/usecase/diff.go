package usecase

import "github.com/vitos/alpha_monitor/internal/domain"

// Changes are the listing transitions detected between two snapshots.
type Changes struct {
	Added  []domain.AssetRecord // Symbols absent from the previous snapshot
	Listed []domain.AssetRecord // Derivative flipped from unlisted or absent to listed
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Listed) == 0
}

// DiffSnapshot compares freshly fetched records against prev. prev is not modified.
func DiffSnapshot(prev domain.Snapshot, records []domain.AssetRecord) Changes {
	var ch Changes
	for _, rec := range records {
		old, seen := prev[rec.Symbol]
		if !seen {
			ch.Added = append(ch.Added, rec)
		}
		if rec.IsListed() && !(seen && old.IsListed()) {
			ch.Listed = append(ch.Listed, rec)
		}
	}
	return ch
}

// MergeSnapshot overlays records on a copy of prev. Assets skipped this cycle
// keep their previous state.
func MergeSnapshot(prev domain.Snapshot, records []domain.AssetRecord) domain.Snapshot {
	next := prev.Clone()
	for _, rec := range records {
		next[rec.Symbol] = rec.Clone()
	}
	return next
}
