// Package placement resolves textual placement descriptors into distributed.DeviceMesh.
//
// A descriptor is a YAML document:
//
//	name: out
//	axes:
//	  - {name: x, size: 2}
//	  - {name: y, size: 2}
//	participants: ["0:0", "1:0", "2:0", "3:0"]  # rank:device, in row-major order of the mesh positions
//
// Instead of participants, "ranks: [0, 1, 2, 3]" can be given, a shortcut for device 0 of each rank. If both are
// omitted position i is owned by rank i. If axes is omitted, a 1D mesh with one axis (DefaultAxisName) over the
// ranks (or participants) is used.
package placement

import (
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultAxisName is the mesh axis name used when the descriptor doesn't list any axes.
const DefaultAxisName = "devices"

// Axis of a mesh descriptor.
type Axis struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// Descriptor is the YAML representation of a mesh placement.
type Descriptor struct {
	Name         string   `yaml:"name,omitempty"`
	Axes         []Axis   `yaml:"axes,omitempty"`
	Participants []string `yaml:"participants,omitempty"`
	Ranks        []int    `yaml:"ranks,omitempty"`
}

// Resolve parses the YAML descriptor and returns the corresponding mesh.
// Any failure wraps distributed.ErrInvalidPlacement.
func Resolve(text string) (*distributed.DeviceMesh, error) {
	var desc Descriptor
	decoder := yaml.NewDecoder(strings.NewReader(text))
	decoder.KnownFields(true)
	if err := decoder.Decode(&desc); err != nil {
		return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "parsing placement: %v", err)
	}
	return desc.Mesh()
}

// ResolveFile reads the descriptor from the given file and resolves it, see Resolve.
// A leading "~" in path is replaced by the user's home directory.
func ResolveFile(path string) (*distributed.DeviceMesh, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "%v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "reading placement file %q: %v", path, err)
	}
	mesh, err := Resolve(string(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "placement file %q", path)
	}
	return mesh, nil
}

// Mesh builds the mesh described.
func (d *Descriptor) Mesh() (*distributed.DeviceMesh, error) {
	if len(d.Participants) > 0 && len(d.Ranks) > 0 {
		return nil, errors.Wrap(distributed.ErrInvalidPlacement, "placement can't set both participants and ranks")
	}
	participants, err := d.parseParticipants()
	if err != nil {
		return nil, err
	}

	axesNames := make([]string, 0, len(d.Axes))
	axesSizes := make([]int, 0, len(d.Axes))
	for _, axis := range d.Axes {
		axesNames = append(axesNames, axis.Name)
		axesSizes = append(axesSizes, axis.Size)
	}
	if len(d.Axes) == 0 {
		if participants == nil {
			return nil, errors.Wrap(distributed.ErrInvalidPlacement, "placement has no axes, participants or ranks")
		}
		axesNames = []string{DefaultAxisName}
		axesSizes = []int{len(participants)}
	}
	mesh, err := distributed.NewDeviceMesh(axesSizes, axesNames)
	if err != nil {
		return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "%v", err)
	}
	if d.Name != "" {
		if !distributed.IsNameValid(d.Name) {
			return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "invalid mesh name %q", d.Name)
		}
		mesh.SetName(d.Name)
	}
	if participants != nil {
		if err = mesh.SetParticipants(participants...); err != nil {
			return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "%v", err)
		}
	}
	return mesh, nil
}

// parseParticipants returns nil if the descriptor doesn't set the participants.
func (d *Descriptor) parseParticipants() ([]distributed.Participant, error) {
	if len(d.Ranks) > 0 {
		participants := make([]distributed.Participant, len(d.Ranks))
		for i, rank := range d.Ranks {
			participants[i] = distributed.Participant{Rank: rank}
		}
		return participants, nil
	}
	if len(d.Participants) == 0 {
		return nil, nil
	}
	participants := make([]distributed.Participant, len(d.Participants))
	for i, text := range d.Participants {
		p, err := ParseParticipant(text)
		if err != nil {
			return nil, err
		}
		participants[i] = p
	}
	return participants, nil
}

// ParseParticipant parses "rank:device", or simply "rank" for device 0.
func ParseParticipant(text string) (distributed.Participant, error) {
	rankText, deviceText, hasDevice := strings.Cut(strings.TrimSpace(text), ":")
	rank, err := strconv.Atoi(rankText)
	if err != nil {
		return distributed.Participant{}, errors.Wrapf(distributed.ErrInvalidPlacement,
			"invalid rank in participant %q", text)
	}
	device := 0
	if hasDevice {
		device, err = strconv.Atoi(deviceText)
		if err != nil {
			return distributed.Participant{}, errors.Wrapf(distributed.ErrInvalidPlacement,
				"invalid device in participant %q", text)
		}
	}
	return distributed.Participant{Rank: rank, Device: device}, nil
}

// Marshal returns the YAML descriptor of the mesh: Resolve(Marshal(mesh)) rebuilds an equivalent mesh.
func Marshal(mesh *distributed.DeviceMesh) (string, error) {
	desc := Descriptor{Name: mesh.Name()}
	sizes := mesh.AxesSizes()
	for i, name := range mesh.AxesNames() {
		desc.Axes = append(desc.Axes, Axis{Name: name, Size: sizes[i]})
	}
	for _, p := range mesh.Participants() {
		desc.Participants = append(desc.Participants, p.String())
	}
	out, err := yaml.Marshal(&desc)
	if err != nil {
		return "", errors.Wrap(err, "marshaling placement")
	}
	return string(out), nil
}
