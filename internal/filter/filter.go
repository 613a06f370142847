package filter

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/arena/internal/journal"
)

// Criteria selects journal entries.
// All filters are ANDed together - an entry must match ALL criteria to pass.
type Criteria struct {
	Since     time.Time // Zero = no lower bound
	Until     time.Time // Zero = no upper bound
	SpaceGlob string    // Glob pattern for the space name, empty = no filter
	Op        string    // Operation name, case-insensitive (put, getp, ...), empty = no filter
}

// Matches returns true if the entry matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(e *journal.Entry) bool {
	if !c.Since.IsZero() && e.At.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.At.After(c.Until) {
		return false
	}

	if c.SpaceGlob != "" {
		matched, err := filepath.Match(c.SpaceGlob, e.Space)
		if err != nil || !matched {
			return false
		}
	}

	if c.Op != "" && !strings.EqualFold(e.Op, c.Op) {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() || !c.Until.IsZero() || c.SpaceGlob != "" || c.Op != ""
}
