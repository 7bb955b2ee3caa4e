// reshard_plan builds the plan to reshard an array from a broadcast layout to a split layout, and prints it.
//
// With -simulate it also runs the resharding for every rank in-process, over a loopback transport, and checks
// that every rank ends up with the right shard.
//
// Example:
//
//	reshard_plan -shape=1024,512 -dtype=bfloat16 -axis=0 -in_ranks=0,1 -out_ranks=0,1,2,3 -simulate
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/distributed/placement"
	"github.com/gomlx/reshard/pkg/core/reshard"
	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagShape = xslices.Flag("shape", []int{8}, "Comma-separated dimensions of the array to reshard.",
		xslices.ParseInt)
	flagDType = flag.String("dtype", "float32", "Data type of the array elements, e.g. float32, bfloat16, int8.")
	flagAxis  = flag.Int("axis", 0, "Axis of the array split across the output mesh.")

	flagIn = flag.String("in", "", "YAML placement file of the input (broadcast) mesh. "+
		"If empty, a 1D mesh over -in_ranks is used.")
	flagOut = flag.String("out", "", "YAML placement file of the output (split) mesh. "+
		"If empty, a 1D mesh over -out_ranks is used.")
	flagInRanks = xslices.Flag("in_ranks", []int{0}, "Comma-separated ranks holding the broadcast input, "+
		"used if -in is not given.", xslices.ParseInt)
	flagOutRanks = xslices.Flag("out_ranks", []int{0, 1}, "Comma-separated ranks receiving the split output, "+
		"used if -out is not given.", xslices.ParseInt)
	flagOutCount = flag.Int("out_count", 0, "If > 0, the output is split over ranks 0 to out_count-1, "+
		"instead of -out_ranks.")

	flagJSON     = flag.Bool("json", false, "Print the plan as JSON instead of tables.")
	flagSimulate = flag.Bool("simulate", false, "Run the resharding for all ranks in-process and verify the outputs.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'reshard_plan -help'.", flag.Args())
		os.Exit(1)
	}

	dtype, found := dtypes.MapOfNames[strings.ToLower(*flagDType)]
	if !found || dtype == dtypes.InvalidDType {
		klog.Errorf("Unknown -dtype=%q", *flagDType)
		os.Exit(1)
	}
	if len(*flagShape) == 0 {
		klog.Errorf("-shape can't be empty: the array needs an axis to be split along")
		os.Exit(1)
	}
	for _, dim := range *flagShape {
		if dim <= 0 {
			klog.Errorf("Invalid -shape=%v: dimensions must be > 0", *flagShape)
			os.Exit(1)
		}
	}
	shape := shapes.Make(dtype, *flagShape...)

	inMesh := must.M1(loadMesh(*flagIn, "in", *flagInRanks))
	outRanks := *flagOutRanks
	if *flagOutCount > 0 {
		outRanks = xslices.Iota(0, *flagOutCount)
	}
	outMesh := must.M1(loadMesh(*flagOut, "out", outRanks))
	plan, err := reshard.BuildPlan(shape, inMesh, outMesh, *flagAxis)
	if err != nil {
		klog.Errorf("Failed to build plan: %+v", err)
		os.Exit(1)
	}

	if *flagJSON {
		must.M(printJSON(os.Stdout, plan))
	} else {
		printSummary(plan)
		printTransfers(plan)
	}
	if *flagSimulate {
		if !simulate(plan) {
			os.Exit(1)
		}
	}
}

// loadMesh from the placement file, or creates a 1D mesh over the ranks if path is empty.
func loadMesh(path, name string, ranks []int) (*distributed.DeviceMesh, error) {
	if path != "" {
		return placement.ResolveFile(path)
	}
	mesh, err := distributed.NewLinearMesh(name, ranks...)
	if err != nil {
		return nil, errors.WithMessagef(err, "mesh %q over ranks %v", name, ranks)
	}
	mesh.SetName(name)
	return mesh, nil
}
