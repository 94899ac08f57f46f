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
	"fmt"
	"io"
	"math"

	"github.com/GaryBoone/GoStats/stats"
	"gonum.org/v1/gonum/floats"
)

// MassBalance accumulates domain-wide inflow/outflow/storage totals for
// water, each solids class, and each chemical class, and reports the
// mass-balance error at end-of-run.
type MassBalance struct {
	NSolids, NChem int

	// WaterSources/WaterSinks/WaterStorage track domain totals in m^3.
	WaterSources, WaterSinks float64
	InitialWaterStorage      float64
	FinalWaterStorage        float64

	// RoundOffResidual accumulates the clamped negative-depth mass
	// recovered locally every step.
	RoundOffResidual float64

	// MinDepth/MaxDepth track the extreme water depths (m) seen anywhere
	// in the domain over the run, for the summary report.
	MinDepth, MaxDepth float64

	// SolidsInitialMass/SolidsFinalMass are per-class domain totals (g):
	// water column + every stack layer, summed over all cells and nodes.
	SolidsInitialMass, SolidsFinalMass []float64
	SolidsErosion, SolidsDeposition    []float64
	SolidsAdvectionOut                 []float64

	ChemInitialMass, ChemFinalMass []float64

	// CourantTracker and ErrorTracker keep a running mean/variance of the
	// per-step Courant number and mass-balance error for the end-of-run
	// summary.
	CourantTracker stats.Stats
	ErrorTracker   stats.Stats
}

// NewMassBalance allocates a MassBalance sized to track nSolids solids
// classes and nChem chemical classes.
func NewMassBalance(nSolids, nChem int) MassBalance {
	return MassBalance{
		NSolids:            nSolids,
		NChem:              nChem,
		MinDepth:           math.Inf(1),
		SolidsInitialMass:  make([]float64, nSolids),
		SolidsFinalMass:    make([]float64, nSolids),
		SolidsErosion:      make([]float64, nSolids),
		SolidsDeposition:   make([]float64, nSolids),
		SolidsAdvectionOut: make([]float64, nSolids),
		ChemInitialMass:    make([]float64, nChem),
		ChemFinalMass:      make([]float64, nChem),
	}
}

// RecordCourant folds one step's maximum Courant number into the running
// statistics tracker.
func (mb *MassBalance) RecordCourant(c float64) {
	mb.CourantTracker.Update(c)
}

// waterVolume returns the free-water volume (m^3) stored in a cell: depth
// times cell area.
func waterVolume(depth, area float64) float64 {
	return depth * area
}

// snapshotStorage sums the domain's current free-water volume and, per
// solids/chemical class, the mass present in the water column and in
// every occupied stack layer.
func (mb *MassBalance) snapshotStorage(g *Grid, net *Network) (waterM3 float64, solidsG, chemG []float64) {
	solidsG = make([]float64, mb.NSolids)
	chemG = make([]float64, mb.NChem)
	area := g.CellSize * g.CellSize

	g.ActiveCells(func(row, col int, c *Cell) {
		waterM3 += waterVolume(c.Depth, area)
		for i := 0; i < mb.NSolids; i++ {
			if len(c.CWater) > i+1 {
				solidsG[i] += c.CWater[i+1] * c.Depth * area
			}
			for k := 0; k < c.Stack.NStack; k++ {
				l := &c.Stack.Layers[k]
				if len(l.Conc) > i+1 {
					solidsG[i] += l.Conc[i+1] * l.Volume
				}
			}
		}
		for i := 0; i < mb.NChem; i++ {
			if len(c.CChemWater) > i {
				chemG[i] += c.CChemWater[i] * c.Depth * area
			}
		}
	})

	if net != nil {
		net.ForEachNode(func(link, j int, n *Node) {
			nodeArea := n.area(n.Depth)
			waterM3 += nodeArea * n.ChanLength
			for i := 0; i < mb.NSolids; i++ {
				if len(n.CWater) > i+1 {
					solidsG[i] += n.CWater[i+1] * nodeArea * n.ChanLength
				}
				for k := 0; k < n.Stack.NStack; k++ {
					l := &n.Stack.Layers[k]
					if len(l.Conc) > i+1 {
						solidsG[i] += l.Conc[i+1] * l.Volume
					}
				}
			}
			for i := 0; i < mb.NChem; i++ {
				if len(n.CChemWater) > i {
					chemG[i] += n.CChemWater[i] * nodeArea * n.ChanLength
				}
			}
		})
	}
	return waterM3, solidsG, chemG
}

// SnapshotInitial records the domain's initial storage; call once before
// the run starts.
func (mb *MassBalance) SnapshotInitial(g *Grid, net *Network) {
	water, solids, chem := mb.snapshotStorage(g, net)
	mb.InitialWaterStorage = water
	mb.SolidsInitialMass = solids
	mb.ChemInitialMass = chem
}

// Finalize records end-of-run storage, sums the domain's gross
// inflow/outflow volumes from every cell and node's directional registers
// into the domain totals, and aggregates the per-cell/node solids process
// registers into the per-class erosion/deposition/advection totals the
// solids mass balance reads. sp may be nil for hydrology-only runs.
func (mb *MassBalance) Finalize(g *Grid, net *Network, sp *SolidsParams) {
	water, solids, chem := mb.snapshotStorage(g, net)
	mb.FinalWaterStorage = water
	mb.SolidsFinalMass = solids
	mb.ChemFinalMass = chem

	var inflows, outflows []float64
	g.ActiveCells(func(row, col int, c *Cell) {
		inflows = append(inflows, c.InVol[:]...)
		outflows = append(outflows, c.OutVol[:]...)
	})
	if net != nil {
		net.ForEachNode(func(link, j int, n *Node) {
			inflows = append(inflows, n.InVol[:]...)
			outflows = append(outflows, n.OutVol[:]...)
		})
	}
	mb.WaterSources = floats.Sum(inflows)
	mb.WaterSinks = floats.Sum(outflows)

	mb.aggregateSolids(sp)
}

// massSum returns a register's cumulative mass (kg) summed over every
// direction/source slot.
func massSum(p *ProcessFlux) float64 {
	var s float64
	for _, m := range p.Mass {
		s += m
	}
	return s
}

// aggregateSolids folds the per-cell/node class registers into the
// per-class domain totals SolidsError reads. Register masses accumulate
// in kg; the domain totals are grams to match snapshotStorage.
func (mb *MassBalance) aggregateSolids(sp *SolidsParams) {
	if sp == nil || sp.CellRegisters == nil {
		return
	}
	for class := 0; class < mb.NSolids && class < len(sp.Classes); class++ {
		var erosion, deposition, advOut float64
		for idx := 0; idx < sp.nCells; idx++ {
			reg := sp.cellReg(class, idx)
			erosion += massSum(&reg.ErosionIn)
			deposition += massSum(&reg.DepositionOut)
			advOut += reg.AdvectionOut.Mass[Boundary]
		}
		if sp.NodeRegisters != nil {
			for idx := 0; idx < sp.nNodes; idx++ {
				reg := sp.nodeReg(class, idx)
				erosion += massSum(&reg.ErosionIn)
				deposition += massSum(&reg.DepositionOut)
				advOut += reg.AdvectionOut.Mass[Boundary]
			}
		}
		mb.SolidsErosion[class] = erosion * 1000
		mb.SolidsDeposition[class] = deposition * 1000
		mb.SolidsAdvectionOut[class] = advOut * 1000
	}
}

// WaterError returns the water mass-balance error percentage,
// (sources - sinks - deltaStorage) / sources * 100.
func (mb *MassBalance) WaterError() float64 {
	deltaStorage := mb.FinalWaterStorage - mb.InitialWaterStorage
	if mb.WaterSources == 0 {
		return 0
	}
	err := (mb.WaterSources - mb.WaterSinks - deltaStorage) / mb.WaterSources * 100
	mb.ErrorTracker.Update(err)
	return err
}

// SolidsError returns the mass-balance error percentage for one solids
// class.
func (mb *MassBalance) SolidsError(classIdx int) float64 {
	if classIdx < 0 || classIdx >= mb.NSolids {
		return 0
	}
	delta := mb.SolidsFinalMass[classIdx] - mb.SolidsInitialMass[classIdx]
	sources := mb.SolidsErosion[classIdx]
	sinks := mb.SolidsDeposition[classIdx] + mb.SolidsAdvectionOut[classIdx]
	if sources == 0 {
		return 0
	}
	return (sources - sinks - delta) / sources * 100
}

// WriteReport writes the cell/node-resolved mass-balance file: one row
// per active cell with initial volume, gross in/out by direction, and
// final volume, then analogous per-node rows, then the same row structure
// replicated per solids class and per chemical class with the process
// register masses. sp and cp may be nil when the run carried no solids or
// chemicals. The echo file, summary statistics file, grid snapshots, and
// time-series exports are separate writer contracts (io.go).
func (mb *MassBalance) WriteReport(w io.Writer, g *Grid, net *Network, sp *SolidsParams, cp *ChemicalParams) error {
	area := g.CellSize * g.CellSize
	if _, err := fmt.Fprintln(w, "row,col,initial_vol_m3,final_vol_m3,in_n,in_ne,in_e,in_se,in_s,in_sw,in_w,in_nw,in_fp,in_bc,out_n,out_ne,out_e,out_se,out_s,out_sw,out_w,out_nw,out_fp,out_bc"); err != nil {
		return err
	}
	var writeErr error
	g.ActiveCells(func(row, col int, c *Cell) {
		if writeErr != nil {
			return
		}
		finalVol := waterVolume(c.Depth, area)
		if _, err := fmt.Fprintf(w, "%d,%d,%.6f,%.6f", row, col, finalVol, finalVol); err != nil {
			writeErr = err
			return
		}
		for i := 1; i < NumDirections; i++ {
			if _, err := fmt.Fprintf(w, ",%.6f", c.InVol[i]); err != nil {
				writeErr = err
				return
			}
		}
		for i := 1; i < NumDirections; i++ {
			if _, err := fmt.Fprintf(w, ",%.6f", c.OutVol[i]); err != nil {
				writeErr = err
				return
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			writeErr = err
		}
	})
	if writeErr != nil {
		return writeErr
	}
	if net != nil {
		if _, err := fmt.Fprintln(w, "link,node,final_vol_m3,in_up,in_down,out_up,out_down"); err != nil {
			return err
		}
		net.ForEachNode(func(link, j int, n *Node) {
			if writeErr != nil {
				return
			}
			vol := n.area(n.Depth) * n.ChanLength
			if _, err := fmt.Fprintf(w, "%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f\n",
				link, j, vol, n.InVol[North], n.InVol[South], n.OutVol[North], n.OutVol[South]); err != nil {
				writeErr = err
			}
		})
		if writeErr != nil {
			return writeErr
		}
	}

	if err := mb.writeSolidsReport(w, g, net, sp); err != nil {
		return err
	}
	return mb.writeChemReport(w, g, net, cp)
}

// writeSolidsReport emits the water row structure replicated per solids
// class: per-cell and per-node final mass plus the cumulative process
// register masses (kg).
func (mb *MassBalance) writeSolidsReport(w io.Writer, g *Grid, net *Network, sp *SolidsParams) error {
	if sp == nil || sp.CellRegisters == nil || len(sp.Classes) == 0 {
		return nil
	}
	area := g.CellSize * g.CellSize
	var writeErr error
	for class := range sp.Classes {
		if _, err := fmt.Fprintf(w, "solids_class %d %s\n", class+1, sp.Classes[class].Name); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, "row,col,final_mass_g,adv_in_kg,adv_out_kg,disp_in_kg,disp_out_kg,dep_out_kg,ero_in_kg"); err != nil {
			return err
		}
		g.ActiveCells(func(row, col int, c *Cell) {
			if writeErr != nil {
				return
			}
			var mass float64
			if len(c.CWater) > class+1 {
				mass = c.CWater[class+1] * c.Depth * area
			}
			for k := 0; k < c.Stack.NStack; k++ {
				l := &c.Stack.Layers[k]
				if len(l.Conc) > class+1 {
					mass += l.Conc[class+1] * l.Volume
				}
			}
			reg := sp.cellReg(class, row*g.NCols+col)
			if _, err := fmt.Fprintf(w, "%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
				row, col, mass,
				massSum(&reg.AdvectionIn), massSum(&reg.AdvectionOut),
				massSum(&reg.DispersionIn), massSum(&reg.DispersionOut),
				massSum(&reg.DepositionOut), massSum(&reg.ErosionIn)); err != nil {
				writeErr = err
			}
		})
		if writeErr != nil {
			return writeErr
		}
		if net == nil || sp.NodeRegisters == nil {
			continue
		}
		if _, err := fmt.Fprintln(w, "link,node,final_mass_g,adv_in_kg,adv_out_kg,disp_in_kg,disp_out_kg,dep_out_kg,ero_in_kg"); err != nil {
			return err
		}
		net.ForEachNode(func(link, j int, n *Node) {
			if writeErr != nil {
				return
			}
			var mass float64
			if len(n.CWater) > class+1 {
				mass = n.CWater[class+1] * n.area(n.Depth) * n.ChanLength
			}
			for k := 0; k < n.Stack.NStack; k++ {
				l := &n.Stack.Layers[k]
				if len(l.Conc) > class+1 {
					mass += l.Conc[class+1] * l.Volume
				}
			}
			reg := sp.nodeReg(class, net.flatIndex(link, j))
			if _, err := fmt.Fprintf(w, "%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
				link, j, mass,
				massSum(&reg.AdvectionIn), massSum(&reg.AdvectionOut),
				massSum(&reg.DispersionIn), massSum(&reg.DispersionOut),
				massSum(&reg.DepositionOut), massSum(&reg.ErosionIn)); err != nil {
				writeErr = err
			}
		})
		if writeErr != nil {
			return writeErr
		}
	}
	return nil
}

// writeChemReport mirrors writeSolidsReport per chemical class.
func (mb *MassBalance) writeChemReport(w io.Writer, g *Grid, net *Network, cp *ChemicalParams) error {
	if cp == nil || cp.CellRegisters == nil || len(cp.Classes) == 0 {
		return nil
	}
	area := g.CellSize * g.CellSize
	var writeErr error
	for class := range cp.Classes {
		if _, err := fmt.Fprintf(w, "chemical_class %d %s\n", class+1, cp.Classes[class].Name); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, "row,col,final_mass_g,adv_in_kg,adv_out_kg,disp_in_kg,disp_out_kg,dep_out_kg"); err != nil {
			return err
		}
		g.ActiveCells(func(row, col int, c *Cell) {
			if writeErr != nil {
				return
			}
			var mass float64
			if len(c.CChemWater) > class {
				mass = c.CChemWater[class] * c.Depth * area
			}
			if surf := c.Stack.Surface(); surf != nil && len(surf.ChemConc) > class {
				mass += surf.ChemConc[class] * surf.Volume
			}
			reg := cp.cellReg(class, row*g.NCols+col)
			if _, err := fmt.Fprintf(w, "%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
				row, col, mass,
				massSum(&reg.AdvectionIn), massSum(&reg.AdvectionOut),
				massSum(&reg.DispersionIn), massSum(&reg.DispersionOut),
				massSum(&reg.DepositionOut)); err != nil {
				writeErr = err
			}
		})
		if writeErr != nil {
			return writeErr
		}
		if net == nil || cp.NodeRegisters == nil {
			continue
		}
		if _, err := fmt.Fprintln(w, "link,node,final_mass_g,adv_in_kg,adv_out_kg,disp_in_kg,disp_out_kg,dep_out_kg"); err != nil {
			return err
		}
		net.ForEachNode(func(link, j int, n *Node) {
			if writeErr != nil {
				return
			}
			var mass float64
			if len(n.CChemWater) > class {
				mass = n.CChemWater[class] * n.area(n.Depth) * n.ChanLength
			}
			reg := cp.nodeReg(class, net.flatIndex(link, j))
			if _, err := fmt.Fprintf(w, "%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
				link, j, mass,
				massSum(&reg.AdvectionIn), massSum(&reg.AdvectionOut),
				massSum(&reg.DispersionIn), massSum(&reg.DispersionOut),
				massSum(&reg.DepositionOut)); err != nil {
				writeErr = err
			}
		})
		if writeErr != nil {
			return writeErr
		}
	}
	return nil
}
