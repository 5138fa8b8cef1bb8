package testcase

import (
	"fmt"
	"sort"
)

// UnitResult is one pipeline unit's published contribution: the cases it
// produced, keyed by the chunk index the unit was created from.
type UnitResult struct {
	DocumentID string
	ChunkIndex int
	Cases      []TestCase
}

// AggregateOptions tunes suite assembly.
type AggregateOptions struct {
	// Dedupe drops cases whose normalized title+steps fingerprint was already
	// placed. Off by default: duplicate titles from different chunks are often
	// legitimately distinct cases.
	Dedupe bool
}

// Aggregate merges per-unit case lists into one suite. Inputs are ordered by
// chunk index regardless of the order units finished in, and any case id that
// collides with an already-placed id is re-namespaced with a suffix tied to
// its source chunk. The merge is sequential: the aggregator is the single
// writer of the suite.
func Aggregate(results []UnitResult, opts AggregateOptions) TestSuite {
	ordered := make([]UnitResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ChunkIndex < ordered[j].ChunkIndex
	})

	suite := TestSuite{}
	placedIDs := make(map[string]struct{})
	fingerprints := make(map[string]struct{})
	for _, unit := range ordered {
		placed := 0
		for _, tc := range unit.Cases {
			merged := tc.Clone()
			if opts.Dedupe {
				key := merged.FingerprintKey()
				if _, dup := fingerprints[key]; dup {
					continue
				}
				fingerprints[key] = struct{}{}
			}
			merged.ID = disambiguate(merged.ID, unit.ChunkIndex, placedIDs)
			placedIDs[merged.ID] = struct{}{}
			suite.TestCases = append(suite.TestCases, merged)
			placed++
		}
		suite.Provenance = append(suite.Provenance, Provenance{
			DocumentID: unit.DocumentID,
			ChunkIndex: unit.ChunkIndex,
			CaseCount:  placed,
		})
	}
	return suite
}

// disambiguate returns id unchanged when free, otherwise appends a suffix
// derived from the source chunk, escalating with a counter until unique.
func disambiguate(id string, chunkIndex int, placed map[string]struct{}) string {
	if id == "" {
		id = fmt.Sprintf("tc-c%d", chunkIndex)
	}
	if _, taken := placed[id]; !taken {
		return id
	}
	candidate := fmt.Sprintf("%s-c%d", id, chunkIndex)
	for n := 2; ; n++ {
		if _, taken := placed[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s-c%d-%d", id, chunkIndex, n)
	}
}
