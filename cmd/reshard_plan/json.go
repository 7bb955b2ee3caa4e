package main

import (
	"fmt"
	"io"

	"github.com/gomlx/reshard/pkg/core/distributed"
	"github.com/gomlx/reshard/pkg/core/reshard"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type regionJSON struct {
	Offsets []int `json:"offsets"`
	Extents []int `json:"extents"`
}

type transferJSON struct {
	Src          int        `json:"src"`
	Dst          int        `json:"dst"`
	SrcPosition  int        `json:"src_position"`
	DstPosition  int        `json:"dst_position"`
	NumElements  int        `json:"num_elements"`
	Local        bool       `json:"local"`
	Intersection regionJSON `json:"intersection"`
	DstRegion    regionJSON `json:"dst_region"`
}

type planJSON struct {
	DType             string         `json:"dtype"`
	Dimensions        []int          `json:"dimensions"`
	Axis              int            `json:"axis"`
	InMesh            string         `json:"in_mesh"`
	OutMesh           string         `json:"out_mesh"`
	StagingBufferSize int            `json:"staging_buffer_size"`
	Fingerprint       string         `json:"fingerprint"`
	Transfers         []transferJSON `json:"transfers"`
}

func toRegionJSON(r distributed.Region) regionJSON {
	return regionJSON{Offsets: r.Offsets(), Extents: r.Extents()}
}

func printJSON(w io.Writer, plan *reshard.Plan) error {
	p := planJSON{
		DType:             plan.Shape().DType.String(),
		Dimensions:        plan.Shape().Dimensions,
		Axis:              plan.OutAxis(),
		InMesh:            plan.InMesh().String(),
		OutMesh:           plan.OutMesh().String(),
		StagingBufferSize: plan.StagingBufferSize(),
		Fingerprint:       fmt.Sprintf("%016x", plan.Fingerprint()),
	}
	for _, t := range plan.Transfers() {
		p.Transfers = append(p.Transfers, transferJSON{
			Src:          t.Src,
			Dst:          t.Dst,
			SrcPosition:  t.SrcPosition,
			DstPosition:  t.DstPosition,
			NumElements:  t.NumElements,
			Local:        t.Local,
			Intersection: toRegionJSON(t.Intersection),
			DstRegion:    toRegionJSON(t.DstRegion),
		})
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&p); err != nil {
		return errors.Wrap(err, "encoding plan as JSON")
	}
	return nil
}
