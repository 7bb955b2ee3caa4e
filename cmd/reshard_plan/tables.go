package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/reshard/pkg/core/reshard"
	"github.com/gomlx/reshard/pkg/support/xslices"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// TableWithReds is a table where some rows can be highlighted in red.
type TableWithReds struct {
	Table *lgtable.Table
	Count int
	Reds  map[int]bool
}

// Row appends a row, in red if isRed.
func (t *TableWithReds) Row(isRed bool, row ...string) {
	if isRed {
		t.Reds[t.Count] = true
	}
	t.Table.Row(row...)
	t.Count++
}

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return newPlainTableWithReds(alignments...).Table
}

func newPlainTableWithReds(alignments ...lipgloss.Position) *TableWithReds {
	t := &TableWithReds{
		Reds: make(map[int]bool),
	}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == lgtable.HeaderRow {
				s = headerRowStyle
				return
			}
			if t.Reds[row] {
				s = redRowStyle
			} else {
				switch {
				case row%2 == 0:
					// Even row style.
					s = oddRowStyle
				default:
					// Odd row style
					s = evenRowStyle
				}
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			s = s.Align(alignment)
			return
		})
	return t
}

func printSummary(plan *reshard.Plan) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	shape := plan.Shape()
	table.Row("shape", shape.String())
	table.Row("split axis", strconv.Itoa(plan.OutAxis()))
	table.Row("array size", humanize.Bytes(uint64(shape.Size()*plan.ElementSize())))
	table.Row("input mesh", plan.InMesh().String())
	table.Row("output mesh", plan.OutMesh().String())
	table.Row("# transfers", humanize.Comma(int64(plan.Len())))
	var numLocal int
	for _, t := range plan.Transfers() {
		if t.Local {
			numLocal++
		}
	}
	table.Row("# local copies", humanize.Comma(int64(numLocal)))
	table.Row("staging buffer", humanize.Bytes(uint64(plan.StagingBufferSize())))
	perRank := xslices.Map(plan.OutMesh().Ranks(), plan.StagingBufferSizeFor)
	perRank = append(perRank, xslices.Map(plan.InMesh().Ranks(), plan.StagingBufferSizeFor)...)
	table.Row("max per-rank staging", humanize.Bytes(uint64(xslices.Max(perRank))))
	table.Row("even-split staging", humanize.Bytes(uint64(plan.EvenStagingBufferSize())))
	table.Row("fingerprint", fmt.Sprintf("%016x", plan.Fingerprint()))
	fmt.Println(table.Render())
}

func printTransfers(plan *reshard.Plan) {
	fmt.Println(titleStyle.Render("Transfers"))
	table := newPlainTable(lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Left, lipgloss.Left,
		lipgloss.Right, lipgloss.Right)
	table.Headers("#", "Src", "Dst", "Kind", "Region", "Elements", "Bytes")
	elementSize := uint64(plan.ElementSize())
	for i, t := range plan.Transfers() {
		kind := "remote"
		if t.Local {
			kind = "local"
		}
		table.Row(strconv.Itoa(i), strconv.Itoa(t.Src), strconv.Itoa(t.Dst), kind, t.Intersection.String(),
			humanize.Comma(int64(t.NumElements)), humanize.Bytes(uint64(t.NumElements)*elementSize))
	}
	fmt.Println(table.Render())
}
