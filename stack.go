/*
Copyright © 2017 the TREX authors.
This file is part of TREX.

TREX is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TREX is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TREX.  If not, see <http://www.gnu.org/licenses/>.
*/

package trex

import "fmt"

// LayerState is the state-machine state of a single stack layer.
type LayerState int

const (
	// Empty is an unoccupied slot above the occupied portion of the stack.
	Empty LayerState = iota
	// Surface is the topmost occupied layer; the only one that exchanges
	// mass with the water column in a given step.
	Surface
	// Subsurface is any occupied layer below the surface layer.
	Subsurface
)

func (s LayerState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Surface:
		return "surface"
	case Subsurface:
		return "subsurface"
	default:
		return "unknown"
	}
}

// Layer is one vertical layer of a soil (overland) or sediment (channel)
// stack.
type Layer struct {
	State LayerState

	Thickness   float64 // m
	GroundArea  float64 // m^2 (bottom width * chanlength for channel layers; cell area for overland)
	Volume      float64 // m^3
	MinVolume   float64 // pop threshold
	MaxVolume   float64 // push threshold
	TopElev     float64 // top elevation of this layer, m
	Porosity    float64
	SoilType    int // index into Grid.SoilTypes / channel equivalent

	// Conc holds per-solids-class concentration, g/m^3. Conc[0] is the
	// TSS sum over all classes.
	Conc []float64

	// ChemConc holds per-chemical-class concentration in the layer
	// (porewater plus particle-bound), g/m^3. Sized lazily: nil until a
	// chemical first deposits into or releases from the layer.
	ChemConc []float64
}

func newLayer(nclasses int) Layer {
	return Layer{State: Empty, Conc: make([]float64, nclasses)}
}

// recomputeTSS restores the Conc[0] == sum(Conc[1:]) invariant after any
// modification to a layer's per-class concentrations.
func (l *Layer) recomputeTSS() {
	var sum float64
	for i := 1; i < len(l.Conc); i++ {
		sum += l.Conc[i]
	}
	l.Conc[0] = sum
}

// Stack is the vertically ordered collection of layers owned by one
// overland cell or channel node.
type Stack struct {
	Layers    []Layer // capacity == maxstack; Layers[0] occupied iff nstack >= 1
	NStack    int     // number of occupied layers, bottom=1.. surface=NStack
	HardPan   float64 // hardpan (bedrock) elevation, m
	MaxStack  int
	NClasses  int // number of solids classes (including TSS at index 0)
}

// NewStack allocates a stack with room for maxLayers layers, each tracking
// nclasses solids classes (nclasses includes the TSS slot at index 0).
func NewStack(maxLayers, nclasses int) Stack {
	s := Stack{
		Layers:   make([]Layer, maxLayers),
		MaxStack: maxLayers,
		NClasses: nclasses,
	}
	for i := range s.Layers {
		s.Layers[i] = newLayer(nclasses)
	}
	return s
}

// surfaceIndex returns the slice index of the occupied surface layer, or
// -1 if the stack is empty.
func (s *Stack) surfaceIndex() int {
	if s.NStack < 1 {
		return -1
	}
	return s.NStack - 1
}

// Surface returns a pointer to the surface layer, or nil if the stack has
// no occupied layers.
func (s *Stack) Surface() *Layer {
	i := s.surfaceIndex()
	if i < 0 {
		return nil
	}
	return &s.Layers[i]
}

// topElevation returns the elevation of the top of the stack (hardpan plus
// the cumulative thickness of occupied layers).
func (s *Stack) topElevation() float64 {
	h := s.HardPan
	for i := 0; i < s.NStack; i++ {
		h += s.Layers[i].Thickness
	}
	return h
}

// totalThickness sums the thickness of all occupied layers, used by the
// free-surface invariant check.
func (s *Stack) totalThickness() float64 {
	var h float64
	for i := 0; i < s.NStack; i++ {
		h += s.Layers[i].Thickness
	}
	return h
}

// Push appends a new surface layer containing the overflow above
// MaxVolume of the current surface layer. The new layer's initial
// composition is a copy of the prior surface layer's fractional
// composition, scaled by the overflow volume. Push returns a "stack
// overflow" error if the stack has no room left; callers tag it as
// ErrNumerical.
func (s *Stack) Push(overflowVolume float64, groundArea float64) error {
	if s.NStack < 1 {
		return fmt.Errorf("trex: cannot push onto an empty stack")
	}
	if s.NStack >= s.MaxStack {
		return fmt.Errorf("trex: stack overflow: nstack would exceed maxstack=%d", s.MaxStack)
	}
	old := &s.Layers[s.surfaceIndex()]

	// Fractional composition of the overflowing mass mirrors the prior
	// surface layer's concentrations (well-mixed assumption).
	newIdx := s.NStack
	newLayer := Layer{
		State:      Surface,
		Volume:     overflowVolume,
		GroundArea: groundArea,
		MinVolume:  old.MinVolume,
		MaxVolume:  old.MaxVolume,
		TopElev:    old.TopElev + overflowVolume/maxFloat(groundArea, 1e-12),
		Porosity:   old.Porosity,
		SoilType:   old.SoilType,
		Conc:       make([]float64, s.NClasses),
	}
	if groundArea > 0 {
		newLayer.Thickness = overflowVolume / groundArea
	}
	copy(newLayer.Conc, old.Conc)
	newLayer.recomputeTSS()
	if len(old.ChemConc) > 0 {
		newLayer.ChemConc = make([]float64, len(old.ChemConc))
		copy(newLayer.ChemConc, old.ChemConc)
	}

	// Cap the old surface layer at its maximum and demote it.
	old.Volume = old.MaxVolume
	if old.GroundArea > 0 {
		old.Thickness = old.Volume / old.GroundArea
	}
	old.State = Subsurface

	s.Layers[newIdx] = newLayer
	s.NStack++
	return nil
}

// Pop merges the surface layer into the layer below it by mass-weighted
// concentration averaging; the layer below becomes the surface. Pop is a
// no-op if nstack <= 1 (the base layer never pops).
func (s *Stack) Pop() {
	if s.NStack <= 1 {
		return
	}
	topIdx := s.surfaceIndex()
	belowIdx := topIdx - 1
	top := &s.Layers[topIdx]
	below := &s.Layers[belowIdx]

	totalVolume := top.Volume + below.Volume
	if totalVolume > 0 {
		for i := range below.Conc {
			below.Conc[i] = (top.Conc[i]*top.Volume + below.Conc[i]*below.Volume) / totalVolume
		}
		for i := range top.ChemConc {
			for len(below.ChemConc) <= i {
				below.ChemConc = append(below.ChemConc, 0)
			}
			below.ChemConc[i] = (top.ChemConc[i]*top.Volume + below.ChemConc[i]*below.Volume) / totalVolume
		}
	}
	below.Volume = totalVolume
	below.Thickness += top.Thickness
	below.recomputeTSS()
	below.State = Surface

	*top = newLayer(s.NClasses)
	s.NStack--
}

// CheckPushPop inspects the surface layer's volume against its min/max
// thresholds and performs a push or pop if warranted. It is called once
// per cell/node per step after deposition/erosion.
func (s *Stack) CheckPushPop(groundArea float64) error {
	surf := s.Surface()
	if surf == nil {
		return nil
	}
	if surf.Volume > surf.MaxVolume {
		overflow := surf.Volume - surf.MaxVolume
		return s.Push(overflow, groundArea)
	}
	if surf.Volume < surf.MinVolume && s.NStack > 1 {
		s.Pop()
	}
	return nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
