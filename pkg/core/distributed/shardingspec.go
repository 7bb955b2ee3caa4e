package distributed

import (
	"strings"

	"github.com/pkg/errors"
)

// ShardingSpec defines how a logical array is to be sharded (partitioned) across a DeviceMesh.
//
// The definition is per axis of the logical array -- and not per axis of the Mesh, a common confusion.
// If not all axes of the array are defined, the tail axes are considered simply to be replicated across the whole
// mesh.
//
// Each array axis can be replicated or split across one or more mesh axes. When split across more than one
// mesh axis, the split compounds: the array axis is first split across the first mesh axis listed, then each
// chunk is further split across the second, and so on.
//
// The two layouts used when resharding from a broadcast layout to a split layout are built with
// AllBroadcast and AllSplit:
//
//	mesh := NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
//
//	// Every participant holds the full array.
//	in := AllBroadcast(mesh)
//
//	// Array axis 1 is split across "data" and then "model": 4 chunks.
//	out, _ := AllSplit(mesh, 1)  // Same as NewShardingSpec(mesh, ReplicatedAxis, AxisSpec{"data", "model"})
type ShardingSpec struct {
	Mesh *DeviceMesh
	Axes []AxisSpec
}

// AxisSpec specifies how an array axis is to be sharded (or replicated).
// See details in ShardingSpec.
//
// It's a list of mesh axes names, in order. An empty list means the axis is replicated.
type AxisSpec []string

// ReplicatedAxis is a special AxisSpec that means the array axis is replicated.
var ReplicatedAxis = AxisSpec(nil)

// NewShardingSpec creates a new ShardingSpec for an array, defined over the given mesh axes.
//
// It takes an axisSpec for each axis of the array (omitted axes are assumed to be replicated).
func NewShardingSpec(mesh *DeviceMesh, axisSpec ...AxisSpec) (*ShardingSpec, error) {
	s := &ShardingSpec{mesh, axisSpec}
	err := s.Validate()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AllBroadcast returns the ShardingSpec where every mesh axis replicates the full array: every participant
// holds the entire array.
func AllBroadcast(mesh *DeviceMesh) *ShardingSpec {
	return &ShardingSpec{mesh, nil}
}

// AllSplit returns the ShardingSpec where every mesh axis subdivides the array along the same logical axis.
func AllSplit(mesh *DeviceMesh, axis int) (*ShardingSpec, error) {
	if axis < 0 {
		return nil, errors.Errorf("AllSplit axis must be >= 0, got %d", axis)
	}
	axes := make([]AxisSpec, axis+1)
	axes[axis] = mesh.AxesNames()
	return NewShardingSpec(mesh, axes...)
}

// Validate the spec returning an error if something is invalid.
func (s *ShardingSpec) Validate() error {
	if s.Mesh == nil {
		return errors.New("ShardingSpec has no mesh")
	}
	meshAxesUsed := make(map[string]bool)
	for axisIdx, tensorAxisSpec := range s.Axes {
		for _, axisName := range tensorAxisSpec {
			if _, ok := s.Mesh.nameToAxis[axisName]; !ok {
				return errors.Errorf("ShardingSpec axis #%d refers to unknown mesh axis %q", axisIdx, axisName)
			}
			if meshAxesUsed[axisName] {
				return errors.Errorf("mesh axis %q used more than once in ShardingSpec", axisName)
			}
			meshAxesUsed[axisName] = true
		}
	}
	return nil
}

// Rank returns the number of array axes this ShardingSpec describes.
// It may be smaller than the rank of the array, the remaining axes are replicated.
func (s *ShardingSpec) Rank() int {
	return len(s.Axes)
}

// IsReplicated returns true if the array is fully replicated
// (i.e., not sharded along any axis).
func (s *ShardingSpec) IsReplicated() bool {
	for _, meshAxes := range s.Axes {
		if len(meshAxes) > 0 {
			return false
		}
	}
	return true
}

// String returns a human-readable string representation of the ShardingSpec.
// Two specs over the same mesh with the same layout always have the same representation, with trailing
// replicated axes omitted.
// Returns "ShardingSpec<nil>" if s is nil.
func (s *ShardingSpec) String() string {
	if s == nil {
		return "ShardingSpec<nil>"
	}
	meshName := "<nil>"
	if s.Mesh != nil {
		meshName = s.Mesh.name
	}
	axes := s.Axes
	for len(axes) > 0 && len(axes[len(axes)-1]) == 0 {
		axes = axes[:len(axes)-1]
	}
	var sb strings.Builder
	sb.WriteString("ShardingSpec{mesh=")
	sb.WriteString(meshName)
	sb.WriteString(", axes=[")
	for i, axisSpec := range axes {
		if i > 0 {
			sb.WriteString(", ")
		}
		if len(axisSpec) == 0 {
			sb.WriteString("R")
			continue
		}
		sb.WriteString("S(")
		sb.WriteString(strings.Join(axisSpec, ","))
		sb.WriteString(")")
	}
	sb.WriteString("]}")
	return sb.String()
}

// NumDevicesShardingAxis returns the number of shards the array is split into along the given array axis.
// If the axis is replicated, it returns 1.
//
// Notice this is about the array axis, not the mesh axis. An array axis can be sharded across multiple mesh axes.
func (s *ShardingSpec) NumDevicesShardingAxis(axis int) int {
	if axis >= len(s.Axes) {
		return 1 // Replicated.
	}
	size := 1
	for _, meshAxis := range s.Axes[axis] {
		size *= s.Mesh.axesSizes[s.Mesh.nameToAxis[meshAxis]]
	}
	return size
}
