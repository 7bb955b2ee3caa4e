package distributed

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BalancedRange returns the half-open range [start, end) of the chunk index out of numChunks contiguous chunks
// splitting [0, total) as evenly as possible: the first total%numChunks chunks get one extra element.
//
// Chunks are empty (start == end) when there are more chunks than elements.
func BalancedRange(total, numChunks, index int) (start, end int) {
	base, remainder := total/numChunks, total%numChunks
	start = index*base + min(index, remainder)
	end = start + base
	if index < remainder {
		end++
	}
	return
}

// RegionForPosition returns the region of the array with the given dimensions owned by the mesh position,
// according to the sharding spec.
//
// The position is decomposed into one coordinate per mesh axis (row-major). Each array axis that is split
// across mesh axes [m1, ..., mk] is split successively: the current range is split in BalancedRange chunks
// along m1 and the chunk at m1's coordinate is kept, then that chunk is split along m2, and so on.
// Replicated array axes keep their full extent.
//
// If the position gets no element along some axis (more chunks than elements), an empty region is returned:
// it's up to the caller to decide whether that is acceptable.
func RegionForPosition(mesh *DeviceMesh, spec *ShardingSpec, dimensions []int, position int) (Region, error) {
	if spec == nil || spec.Mesh != mesh {
		return Region{}, errors.Errorf("ShardingSpec %s is not defined over mesh %s", spec, mesh)
	}
	if spec.Rank() > len(dimensions) {
		return Region{}, errors.Errorf("ShardingSpec %s has more axes than the array shape %v", spec, dimensions)
	}
	for _, dim := range dimensions {
		if dim <= 0 {
			return Region{}, errors.Wrapf(ErrInvalidRegion, "array dimensions %v must be > 0", dimensions)
		}
	}
	coords, err := mesh.Coordinates(position)
	if err != nil {
		return Region{}, err
	}
	if spec.IsReplicated() {
		return FullRegion(dimensions), nil
	}
	offsets := make([]int, len(dimensions))
	extents := make([]int, len(dimensions))
	for axis, dim := range dimensions {
		start, end := 0, dim
		if axis < spec.Rank() {
			for _, meshAxisName := range spec.Axes[axis] {
				meshAxis := mesh.nameToAxis[meshAxisName]
				chunkStart, chunkEnd := BalancedRange(end-start, mesh.axesSizes[meshAxis], coords[meshAxis])
				start, end = start+chunkStart, start+chunkEnd
			}
		}
		if start == end {
			return EmptyRegion(len(dimensions)), nil
		}
		offsets[axis] = start
		extents[axis] = end - start
	}
	return Region{offsets: offsets, extents: extents}, nil
}

type regionCacheKey struct {
	meshID     uuid.UUID
	spec       string
	dimensions string
}

// RegionCache memoizes the regions owned by every position of a mesh, for a given sharding spec and array
// dimensions.
//
// It is keyed by value -- the mesh identity, the spec's canonical representation and the dimensions -- so it is
// never invalidated: entries for configurations no longer used are simply never looked up again.
//
// It is safe for concurrent use. The zero value is ready to use.
type RegionCache struct {
	mu      sync.Mutex
	entries map[regionCacheKey][]Region
}

// NewRegionCache returns a new empty RegionCache.
func NewRegionCache() *RegionCache {
	return &RegionCache{}
}

// Region returns the region owned by the mesh position, see RegionForPosition.
//
// The first request for a (mesh, spec, dimensions) computes the regions of every position of the mesh, later
// requests are lookups.
func (c *RegionCache) Region(mesh *DeviceMesh, spec *ShardingSpec, dimensions []int, position int) (Region, error) {
	regions, err := c.Regions(mesh, spec, dimensions)
	if err != nil {
		return Region{}, err
	}
	if position < 0 || position >= len(regions) {
		return Region{}, errors.Errorf("position %d out of range for mesh with %d devices", position, len(regions))
	}
	return regions[position], nil
}

// Regions returns the regions owned by every position of the mesh, in position order.
// The returned slice is shared and must not be modified.
func (c *RegionCache) Regions(mesh *DeviceMesh, spec *ShardingSpec, dimensions []int) ([]Region, error) {
	if mesh == nil {
		return nil, errors.New("RegionCache: nil mesh")
	}
	key := regionCacheKey{meshID: mesh.ID(), spec: spec.String(), dimensions: fmt.Sprint(dimensions)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if regions, found := c.entries[key]; found {
		return regions, nil
	}
	regions := make([]Region, mesh.NumDevices())
	for position := range regions {
		var err error
		regions[position], err = RegionForPosition(mesh, spec, dimensions, position)
		if err != nil {
			return nil, err
		}
	}
	if c.entries == nil {
		c.entries = make(map[regionCacheKey][]Region)
	}
	c.entries[key] = regions
	return regions, nil
}

// Len returns the number of (mesh, spec, dimensions) entries cached.
func (c *RegionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
