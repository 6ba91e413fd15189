package storage

import "time"

// LoadStatus classifies the outcome of a lookup.
type LoadStatus int

const (
	NotFound LoadStatus = iota
	Found
	Corrupt
)

func (s LoadStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Corrupt:
		return "corrupt"
	default:
		return "not_found"
	}
}

// LoadResult is the typed outcome of Store.Lookup. Load collapses everything
// except Found into EmptyArtifact.
type LoadResult struct {
	Status    LoadStatus
	Artifact  Artifact // Set when Status == Found.
	UpdatedAt int64    // Set when Status is Found or Corrupt.
	Reason    string   // Set when Status == Corrupt.
}

// Age returns how long ago the record was written.
func (r LoadResult) Age(now time.Time) time.Duration {
	if r.UpdatedAt == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(r.UpdatedAt))
}
