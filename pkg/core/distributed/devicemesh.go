package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/reshard/pkg/core/shapes"
	"github.com/gomlx/reshard/pkg/support/sets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Participant is the identity of the process (Rank) and its local device (Device) that owns one position of a mesh.
type Participant struct {
	// Rank is the global rank of the process (machine identity) driving the device.
	Rank int

	// Device is the ordinal of the device local to the process.
	Device int
}

// String implements fmt.Stringer.
func (p Participant) String() string {
	return fmt.Sprintf("%d:%d", p.Rank, p.Device)
}

// DeviceMesh defines the logical topology of a set of participants (process + device) among which an array
// is distributed.
//
// The mesh axes form the hierarchy: positions are enumerated in row-major order over AxesSizes, and each
// position is owned by one Participant.
type DeviceMesh struct {
	id   uuid.UUID
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numDevices is the total number of devices in the mesh.
	numDevices int

	// participants owning each position of the mesh, in row-major order.
	participants []Participant
}

const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of devices.
//
//   - axesSizes: defines the number of devices along each mesh axis, one value per axis. A size of 0 is
//     accepted and makes the mesh empty (it has no participants).
//   - axesNames: the names of the mesh axes. One value per axis.
//
// By default, position i of the mesh is owned by Participant{Rank: i, Device: 0}, use SetParticipants to
// change that.
//
// Each mesh gets a unique identity at creation, used to key cached derived values (see RegionCache).
func NewDeviceMesh(axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	axesNames = slices.Clone(axesNames)
	for i, axisName := range axesNames {
		if !IsNameValid(axesNames[i]) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with a ASCII letter "+
					"and be followed only by letters, numbers or underscore", axisName, i)
		}
	}

	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		if axesSizes[i] < 0 {
			return nil, errors.Errorf("DeviceMesh axis %q has negative size %d", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}

	m := &DeviceMesh{
		id:         uuid.New(),
		name:       DefaultMeshName,
		axesNames:  axesNames,
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numDevices: numDevices,
	}
	m.participants = make([]Participant, numDevices)
	for i := range m.participants {
		m.participants[i] = Participant{Rank: i}
	}
	return m, nil
}

// NewLinearMesh creates a 1D mesh with one position per given rank, each rank using its device 0.
func NewLinearMesh(axisName string, ranks ...int) (*DeviceMesh, error) {
	m, err := NewDeviceMesh([]int{len(ranks)}, []string{axisName})
	if err != nil {
		return nil, err
	}
	participants := make([]Participant, len(ranks))
	for i, rank := range ranks {
		participants[i] = Participant{Rank: rank}
	}
	if err = m.SetParticipants(participants...); err != nil {
		return nil, err
	}
	return m, nil
}

// ID returns the unique identity of the mesh.
func (m *DeviceMesh) ID() uuid.UUID {
	return m.id
}

// SetName of the mesh.
func (m *DeviceMesh) SetName(name string) {
	m.name = name
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return m.numDevices
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axesSizes.
func (m *DeviceMesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("}, participants=[")
	for i, p := range m.participants {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString("])")
	return sb.String()
}

// SetParticipants sets the participant owning each position of the mesh, in row-major order.
//
// The number of participants must be equal to NumDevices(), and each (rank, device) pair can only appear once.
// A process may own more than one position, as long as it is through different devices.
func (m *DeviceMesh) SetParticipants(participants ...Participant) error {
	if len(participants) != m.numDevices {
		return errors.Errorf("participants must have %d elements, got %d", m.numDevices, len(participants))
	}
	seen := sets.Make[Participant](m.numDevices)
	for _, p := range participants {
		if p.Rank < 0 || p.Device < 0 {
			return errors.Errorf("participant %s has a negative rank or device", p)
		}
		if seen.Has(p) {
			return errors.Errorf("participant %s is duplicated in mesh", p)
		}
		seen.Insert(p)
	}
	m.participants = slices.Clone(participants)
	return nil
}

// Participants returns a copy of the participants owning each position of the mesh.
func (m *DeviceMesh) Participants() []Participant {
	return slices.Clone(m.participants)
}

// Participant returns the participant owning the given position.
func (m *DeviceMesh) Participant(position int) (Participant, error) {
	if position < 0 || position >= m.numDevices {
		return Participant{}, errors.Errorf("position %d out of range for mesh with %d devices", position, m.numDevices)
	}
	return m.participants[position], nil
}

// RankOf returns the rank (machine identity) of the process owning the given position.
func (m *DeviceMesh) RankOf(position int) (int, error) {
	p, err := m.Participant(position)
	if err != nil {
		return -1, err
	}
	return p.Rank, nil
}

// Ranks returns the sorted set of ranks participating in the mesh.
func (m *DeviceMesh) Ranks() []int {
	ranks := sets.Make[int](m.numDevices)
	for _, p := range m.participants {
		ranks.Insert(p.Rank)
	}
	return sets.Sorted(ranks)
}

// ContainsRank returns whether the process with the given rank owns any position of the mesh.
func (m *DeviceMesh) ContainsRank(rank int) bool {
	return m.FirstPositionOfRank(rank) >= 0
}

// FirstPositionOfRank returns the first position (in row-major order) owned by the given rank, or -1 if
// the rank doesn't participate in the mesh.
func (m *DeviceMesh) FirstPositionOfRank(rank int) int {
	return slices.IndexFunc(m.participants, func(p Participant) bool { return p.Rank == rank })
}

// PositionOf returns the position owned by the given (rank, device) pair.
func (m *DeviceMesh) PositionOf(rank, device int) (int, error) {
	idx := slices.Index(m.participants, Participant{Rank: rank, Device: device})
	if idx < 0 {
		return -1, errors.Errorf("participant %d:%d is not part of mesh %s", rank, device, m.name)
	}
	return idx, nil
}

// Coordinates decomposes a flat position into one index per mesh axis, in row-major order.
func (m *DeviceMesh) Coordinates(position int) ([]int, error) {
	coords, err := shapes.Unravel(m.axesSizes, position)
	if err != nil {
		return nil, errors.WithMessagef(err, "mesh %s", m.name)
	}
	return coords, nil
}
