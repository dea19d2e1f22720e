package scanner

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved symbols forwarded verbatim to the text sink.
const (
	SymbolDelete = "⌫"
	SymbolSpace  = "␣"
)

var (
	// ErrEmptyLayout is returned for a keyboard without rows.
	ErrEmptyLayout = errors.New("scanner: keyboard layout has no rows")

	// ErrEmptyRow is returned when a keyboard row has no symbols.
	ErrEmptyRow = errors.New("scanner: keyboard row has no symbols")
)

// Layout is a keyboard grid. Rows may have different lengths.
type Layout [][]string

// DefaultLayout returns the three-row QWERTY grid with delete and space on
// the end of the bottom row.
func DefaultLayout() Layout {
	return Layout{
		{"Q", "W", "E", "R", "T", "Y", "U", "I", "O", "P"},
		{"A", "S", "D", "F", "G", "H", "J", "K", "L"},
		{"Z", "X", "C", "V", "B", "N", "M", SymbolDelete, SymbolSpace},
	}
}

// ParseLayout builds a layout from strings, one row each. Symbols are split
// on whitespace if any is present, otherwise the row is split per rune.
func ParseLayout(rows []string) (Layout, error) {
	layout := make(Layout, 0, len(rows))
	for _, r := range rows {
		var row []string
		if strings.ContainsAny(r, " \t") {
			row = strings.Fields(r)
		} else {
			for _, c := range r {
				row = append(row, string(c))
			}
		}
		layout = append(layout, row)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

// Validate checks that the layout can be scanned.
func (l Layout) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLayout
	}
	for i, row := range l {
		if len(row) == 0 {
			return fmt.Errorf("row %d: %w", i, ErrEmptyRow)
		}
	}
	return nil
}

// Rows returns the row count.
func (l Layout) Rows() int { return len(l) }

// Cols returns the length of row r.
func (l Layout) Cols(r int) int { return len(l[r]) }

// Clone returns a deep copy.
func (l Layout) Clone() Layout {
	out := make(Layout, len(l))
	for i, row := range l {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// Strings renders each row as space-separated symbols.
func (l Layout) Strings() []string {
	out := make([]string, len(l))
	for i, row := range l {
		out[i] = strings.Join(row, " ")
	}
	return out
}
