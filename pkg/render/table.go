// Package render draws validator tables for the terminal.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nomidot/valtable/pkg/validators"
	"github.com/nomidot/valtable/pkg/view"
)

const unknown = "?"

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	offlineStyle = cellStyle.Foreground(lipgloss.Color("203"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Headers are the columns of the validators table.
var Headers = []string{"OFFLINE", "STASH", "CONTROLLER", "NOMINATORS", "STAKE", "COMMISSION"}

// Cells returns the plain text cells of rows, in Headers order.
func Cells(rows []view.Row) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		stake, nominators, offline := unknown, unknown, unknown
		if r.StakedFormatted != nil {
			stake = *r.StakedFormatted
		}
		if r.NominatorCount != nil {
			nominators = strconv.Itoa(*r.NominatorCount)
		}
		if r.WasOffline != nil {
			offline = "no"
			if *r.WasOffline {
				offline = "yes"
			}
		}
		commission := r.Commission
		if r.Blocked != nil && *r.Blocked {
			commission += " (blocked)"
		}
		out = append(out, []string{
			offline,
			r.ValidatorStash,
			r.ValidatorController,
			nominators,
			stake,
			commission,
		})
	}
	return out
}

// Table renders rows as a bordered table. Rows of validators that were
// offline this session are highlighted.
func Table(rows []view.Row) string {
	cells := Cells(rows)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63"))).
		Headers(Headers...).
		Rows(cells...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(rows) && rows[row].WasOffline != nil && *rows[row].WasOffline:
				return offlineStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}

// Stats renders a one-paragraph summary of what the join skipped.
func Stats(s validators.JoinStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d validators, %d nominations, %d offline markers",
		s.Validators, s.Nominations, s.OfflineMarkers)
	if s.OrphanNominations > 0 {
		fmt.Fprintf(&b, "\n%d nominations target %d stashes without a validator record",
			s.OrphanNominations, s.SynthesizedRows)
	}
	if skipped := s.Skipped(); skipped > 0 {
		fmt.Fprintf(&b, "\n%d records skipped (%d validators, %d duplicates, %d nominations, %d stakes, %d offline)",
			skipped, s.SkippedValidators, s.DuplicateValidators, s.SkippedNominations, s.InvalidStakes, s.UnknownOffline)
	}
	return mutedStyle.Render(b.String())
}

// Write prints a titled table with its stats to w.
func Write(w io.Writer, title string, rows []view.Row, stats validators.JoinStats) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n", titleStyle.Render(title), Table(rows), Stats(stats))
	return err
}
