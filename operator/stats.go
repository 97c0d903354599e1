package operator

import (
	"github.com/goccy/go-json"

	"github.com/hupe1980/geojoin/page"
)

// Stats are the counters of one operator, or the sum over several.
type Stats struct {
	InputPages         int64 `json:"input_pages"`
	InputPositions     int64 `json:"input_positions"`
	OutputPages        int64 `json:"output_pages"`
	OutputPositions    int64 `json:"output_positions"`
	IndexLookups       int64 `json:"index_lookups,omitempty"`
	Candidates         int64 `json:"candidates,omitempty"`
	EligibleCandidates int64 `json:"eligible_candidates,omitempty"`
	Yields             int64 `json:"yields,omitempty"`
	PeakMemoryBytes    int64 `json:"peak_memory_bytes"`
}

// Merge adds o to s. Peak memory is the maximum of both.
func (s *Stats) Merge(o Stats) {
	s.InputPages += o.InputPages
	s.InputPositions += o.InputPositions
	s.OutputPages += o.OutputPages
	s.OutputPositions += o.OutputPositions
	s.IndexLookups += o.IndexLookups
	s.Candidates += o.Candidates
	s.EligibleCandidates += o.EligibleCandidates
	s.Yields += o.Yields
	s.PeakMemoryBytes = max(s.PeakMemoryBytes, o.PeakMemoryBytes)
}

// MarshalIndent renders the stats as indented JSON.
func (s Stats) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func (s *Stats) recordInput(p *page.Page) {
	s.InputPages++
	s.InputPositions += int64(p.PositionCount())
}

func (s *Stats) recordOutput(p *page.Page) {
	if p == nil {
		return
	}
	s.OutputPages++
	s.OutputPositions += int64(p.PositionCount())
}

func (s *Stats) recordMemory(n int64) {
	s.PeakMemoryBytes = max(s.PeakMemoryBytes, n)
}
