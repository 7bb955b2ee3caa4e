package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/reshard"
	"github.com/gomlx/reshard/pkg/core/reshard/loopback"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// progressObserver advances a progress bar for every transfer action executed by any rank.
type progressObserver struct {
	bar *progressbar.ProgressBar
}

func (o progressObserver) OnTransfer(_ reshard.TransferKind, _ *reshard.Transfer, _ int) {
	_ = o.bar.Add(1)
}

// inputPattern returns the full array contents every broadcast holder starts with: byte i is a function of i.
func inputPattern(shape shapes.Shape, elementSize int) []byte {
	data := make([]byte, shape.Size()*elementSize)
	for i := range data {
		data[i] = byte(i*31 + i/251)
	}
	return data
}

// expectedOutput extracts the region from the full array, element by element.
func expectedOutput(shape shapes.Shape, elementSize int, full []byte, region distributed.Region) []byte {
	strides := shapes.Strides(shape.Dimensions)
	out := make([]byte, 0, region.NumElements()*elementSize)
	for _, indices := range shapes.IterDims(region.Extents()) {
		flat := 0
		for axis, idx := range indices {
			flat += (region.Start(axis) + idx) * strides[axis]
		}
		out = append(out, full[flat*elementSize:(flat+1)*elementSize]...)
	}
	return out
}

// simulate runs the plan for every rank in-process and reports whether all the outputs are correct.
func simulate(plan *reshard.Plan) bool {
	shape := plan.Shape()
	inMesh, outMesh := plan.InMesh(), plan.OutMesh()
	ranks := sets.MakeWith(inMesh.Ranks()...)
	ranks.Insert(outMesh.Ranks()...)
	sortedRanks := sets.Sorted(ranks)

	var numActions int
	for _, t := range plan.Transfers() {
		if t.Local {
			numActions++
		} else {
			numActions += 2
		}
	}
	fmt.Println(titleStyle.Render("Simulation"))
	output := termenv.NewOutput(os.Stdout)
	output.HideCursor()
	bar := progressbar.NewOptions(numActions,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("transfers"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
	)

	full := inputPattern(shape, plan.ElementSize())
	var mu sync.Mutex
	outputs := make(map[int][]byte)
	err := loopback.Run(context.Background(), sortedRanks,
		func(ctx context.Context, rank int, transport reshard.Transport) error {
			var input, out []byte
			if inMesh.ContainsRank(rank) {
				input = bytes.Clone(full)
			}
			if region, found := plan.OutputRegion(rank); found {
				out = make([]byte, region.NumElements()*plan.ElementSize())
			}
			err := reshard.Execute(ctx, reshard.ExecArgs{
				Plan:      plan,
				Self:      rank,
				Transport: transport,
				Input:     input,
				Output:    out,
				Staging:   make([]byte, plan.StagingBufferSizeFor(rank)),
				Observer:  progressObserver{bar: bar},
			})
			if err != nil {
				return err
			}
			mu.Lock()
			outputs[rank] = out
			mu.Unlock()
			return nil
		})
	_ = bar.Finish()
	output.ShowCursor()
	fmt.Println()
	if err != nil {
		klog.Errorf("Simulation failed: %+v", err)
		return false
	}

	table := newPlainTableWithReds(lipgloss.Right, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Table.Headers("Rank", "Region", "Bytes", "Status")
	allOk := true
	for _, t := range plan.Transfers() {
		ok := bytes.Equal(outputs[t.Dst], expectedOutput(shape, plan.ElementSize(), full, t.DstRegion))
		status := "ok"
		if !ok {
			status = "MISMATCH"
			allOk = false
		}
		table.Row(!ok, strconv.Itoa(t.Dst), t.DstRegion.String(),
			humanize.Bytes(uint64(len(outputs[t.Dst]))), status)
	}
	fmt.Println(table.Table.Render())
	return allOk
}
