package scanner

import "time"

// Snapshot is a read-only projection of the scanner for rendering.
type Snapshot struct {
	Area        Area          `json:"area"`
	Mode        Mode          `json:"mode"`
	Row         int           `json:"row"`
	Col         int           `json:"col"`
	Index       int           `json:"index"`
	Paused      bool          `json:"paused"`
	ResumeAt    *time.Time    `json:"resume_at,omitempty"`
	Period      time.Duration `json:"period_ns"`
	Highlighted string        `json:"highlighted"`
	RowSymbols  []string      `json:"row_symbols,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// Snapshot captures the current state.
func (s *Scanner) Snapshot() Snapshot {
	snap := Snapshot{
		Area:        s.pos.Area,
		Mode:        s.pos.Mode,
		Row:         s.pos.Row,
		Col:         s.pos.Col,
		Index:       s.pos.Index,
		Paused:      s.timer.Phase == PhasePaused,
		Period:      s.timer.Period,
		Suggestions: s.Suggestions(),
	}
	if snap.Paused {
		at := s.timer.ResumeAt
		snap.ResumeAt = &at
	}

	switch {
	case s.pos.Area == AreaSuggestions:
		if s.pos.Index < len(s.suggestions) {
			snap.Highlighted = s.suggestions[s.pos.Index]
		}
	case s.pos.Mode == ModeRow:
		snap.RowSymbols = append([]string(nil), s.layout[s.pos.Row]...)
		snap.Highlighted = s.layout[s.pos.Row][0]
	default:
		snap.RowSymbols = append([]string(nil), s.layout[s.pos.Row]...)
		snap.Highlighted = s.layout[s.pos.Row][s.pos.Col]
	}
	return snap
}
