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

import (
	"bytes"
	"strings"
	"testing"
)

func TestSnapshotStorageSumsWaterAndStackMass(t *testing.T) {
	g := newTestGrid(1, 1)
	c := g.At(0, 0)
	c.Depth = 0.5
	c.CWater = []float64{10, 10}
	c.Stack = NewStack(2, 2)
	c.Stack.NStack = 1
	c.Stack.Layers[0] = Layer{State: Surface, Volume: 2, Conc: []float64{25, 25}}

	mb := NewMassBalance(1, 0)
	water, solids, _ := mb.snapshotStorage(g, nil)

	area := g.CellSize * g.CellSize
	if want := 0.5 * area; water != want {
		t.Errorf("water storage = %g, want %g", water, want)
	}
	// 10 g/m^3 suspended over 0.5 m x area, plus 25 g/m^3 in 2 m^3 of bed.
	want := 10*0.5*area + 25*2
	if solids[0] != want {
		t.Errorf("solids storage = %g, want %g", solids[0], want)
	}
}

func TestWaterErrorZeroWithNoSources(t *testing.T) {
	mb := NewMassBalance(0, 0)
	if got := mb.WaterError(); got != 0 {
		t.Errorf("WaterError with no sources = %g, want 0", got)
	}
}

func TestWaterErrorClosesForBalancedRun(t *testing.T) {
	g := newTestGrid(1, 1)
	c := g.At(0, 0)

	mb := NewMassBalance(0, 0)
	mb.SnapshotInitial(g, nil)

	// 5 m^3 in, 2 m^3 out, 3 m^3 retained as depth.
	area := g.CellSize * g.CellSize
	c.InVol[PointSource] = 5
	c.OutVol[Boundary] = 2
	c.Depth = 3 / area

	mb.Finalize(g, nil, nil)
	if got := mb.WaterError(); got > 1e-9 || got < -1e-9 {
		t.Errorf("WaterError = %g%%, want 0 for a perfectly closed budget", got)
	}
}

func TestFinalizeIncludesNodeRegisters(t *testing.T) {
	g := newTestGrid(1, 1)
	net := NewNetwork([]int{1})
	n := net.Node(0, 0)
	n.InVol[North] = 7
	n.OutVol[Boundary] = 4

	mb := NewMassBalance(0, 0)
	mb.Finalize(g, net, nil)
	if mb.WaterSources != 7 {
		t.Errorf("WaterSources = %g, want 7 from the node register", mb.WaterSources)
	}
	if mb.WaterSinks != 4 {
		t.Errorf("WaterSinks = %g, want 4 from the node register", mb.WaterSinks)
	}
}

func TestFinalizeAggregatesSolidsRegisters(t *testing.T) {
	g := newTestGrid(1, 1)
	sp := &SolidsParams{Classes: []SolidsClass{{Name: "silt"}}}
	sp.InitSolidsState(g, nil)
	reg := sp.cellReg(0, 0)
	reg.ErosionIn.Mass[PointSource] = 2.5   // kg
	reg.DepositionOut.Mass[PointSource] = 1 // kg
	reg.AdvectionOut.Mass[Boundary] = 0.5   // kg

	mb := NewMassBalance(1, 0)
	mb.Finalize(g, nil, sp)

	if mb.SolidsErosion[0] != 2500 {
		t.Errorf("SolidsErosion = %g g, want 2500", mb.SolidsErosion[0])
	}
	if mb.SolidsDeposition[0] != 1000 {
		t.Errorf("SolidsDeposition = %g g, want 1000", mb.SolidsDeposition[0])
	}
	if mb.SolidsAdvectionOut[0] != 500 {
		t.Errorf("SolidsAdvectionOut = %g g, want 500", mb.SolidsAdvectionOut[0])
	}
	if got := mb.SolidsError(0); got == 0 {
		t.Error("SolidsError = 0, want a nonzero error once sources are populated")
	}
}

func TestWriteReportEmitsSolidsSection(t *testing.T) {
	g := newTestGrid(1, 1)
	c := g.At(0, 0)
	c.Depth = 1
	c.CWater = []float64{10, 10}

	sp := &SolidsParams{Classes: []SolidsClass{{Name: "silt"}}}
	sp.InitSolidsState(g, nil)
	sp.cellReg(0, 0).ErosionIn.Mass[PointSource] = 0.25

	mb := NewMassBalance(1, 0)
	var buf bytes.Buffer
	if err := mb.WriteReport(&buf, g, nil, sp, nil); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "solids_class 1 silt") {
		t.Error("expected a per-class solids section header")
	}
	if !strings.Contains(out, "ero_in_kg") {
		t.Error("expected the solids process-register columns")
	}
	if !strings.Contains(out, "0.250000") {
		t.Error("expected the cumulative erosion mass in the class row")
	}
}

func TestWriteReportEmitsChemSection(t *testing.T) {
	g := newTestGrid(1, 1)
	c := g.At(0, 0)
	c.Depth = 1
	c.CChemWater = []float64{4}

	cp := &ChemicalParams{Classes: []ChemicalClass{{Name: "tracer"}}}
	cp.InitChemicalState(g, nil)

	mb := NewMassBalance(0, 1)
	var buf bytes.Buffer
	if err := mb.WriteReport(&buf, g, nil, nil, cp); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	if !strings.Contains(buf.String(), "chemical_class 1 tracer") {
		t.Error("expected a per-class chemical section header")
	}
}

func TestWriteReportEmitsOneRowPerActiveCell(t *testing.T) {
	g := newTestGrid(2, 2)
	g.At(1, 1).Mask = NoData
	mb := NewMassBalance(0, 0)

	var buf bytes.Buffer
	if err := mb.WriteReport(&buf, g, nil, nil, nil); err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// Header plus three active cells.
	if len(lines) != 4 {
		t.Errorf("report has %d lines, want 4 (header + 3 active cells)", len(lines))
	}
	if !strings.HasPrefix(lines[0], "row,col,") {
		t.Errorf("unexpected header line %q", lines[0])
	}
}

func TestRecordCourantUpdatesTracker(t *testing.T) {
	mb := NewMassBalance(0, 0)
	mb.RecordCourant(0.4)
	mb.RecordCourant(0.6)
	if n := mb.CourantTracker.Count(); n != 2 {
		t.Errorf("CourantTracker.Count() = %d, want 2", n)
	}
	if mean := mb.CourantTracker.Mean(); mean < 0.49 || mean > 0.51 {
		t.Errorf("CourantTracker.Mean() = %g, want 0.5", mean)
	}
}
