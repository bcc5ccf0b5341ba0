package planner

import "fmt"

// BatchStrategy selects how ragged groups are mapped onto work items.
//
// Blocked assigns one work item per (group, element) pair on a 2-D grid
// sized max-group-length by group count; items past a group's end are culled
// at runtime. Simple indexing, wasteful for highly uneven group sizes.
//
// Flattened treats all groups as one logical stream and assigns each work
// item a run of chunk consecutive elements, crossing group boundaries as
// needed. Near-uniform load regardless of group-size skew, at the cost of a
// branchy per-item walk.
//
// This is a load-balance knob chosen by the caller at plan construction, not
// inferred.
type BatchStrategy struct {
	flattened bool
	chunk     int
}

// Blocked returns the one-item-per-element strategy
func Blocked() BatchStrategy {
	return BatchStrategy{}
}

// Flattened returns the chunked flat-stream strategy. chunk must be >= 1.
func Flattened(chunk int) BatchStrategy {
	if chunk < 1 {
		panic(fmt.Sprintf("flattened chunk must be >= 1, got %d", chunk))
	}
	return BatchStrategy{flattened: true, chunk: chunk}
}

// IsFlattened reports whether this is the flat-stream strategy
func (s BatchStrategy) IsFlattened() bool {
	return s.flattened
}

// Chunk returns the elements per work item; 1 for Blocked
func (s BatchStrategy) Chunk() int {
	if !s.flattened {
		return 1
	}
	return s.chunk
}

func (s BatchStrategy) String() string {
	if s.flattened {
		return fmt.Sprintf("flattened(chunk=%d)", s.chunk)
	}
	return "blocked"
}
