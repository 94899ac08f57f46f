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
	"math"

	"github.com/Knetic/govaluate"
)

// ChemicalClass holds the physical/chemical parameters of one dissolved or
// particulate chemical. PartitionCoeff[i] is the
// distribution coefficient against solids class i, used to split mass
// between the dissolved and particulate-bound phases.
type ChemicalClass struct {
	Name           string
	PartitionCoeff []float64 // against each solids class, m^3/g

	BiolysisRate     float64 // 1/s, first-order rate constants
	HydrolysisRate   float64
	OxidationRate    float64
	PhotolysisRate   float64
	RadiolysisRate   float64
	VolatilizeRate   float64
	PorewaterExVel   float64 // m/s, porewater exchange velocity with the surface layer

	// UserExpr is an optional user-defined transformation rate expression,
	// evaluated against the current environment each step. Variables
	// available: conc, simtime, temp.
	UserExpr string

	expr *govaluate.EvaluableExpression
}

// compile lazily parses UserExpr, building the govaluate expression once
// and reusing it every evaluation.
func (cc *ChemicalClass) compile() (*govaluate.EvaluableExpression, error) {
	if cc.UserExpr == "" {
		return nil, nil
	}
	if cc.expr != nil {
		return cc.expr, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cc.UserExpr)
	if err != nil {
		return nil, err
	}
	cc.expr = expr
	return expr, nil
}

// userDefinedRate evaluates the user-defined reaction expression against
// the current concentration, simulation time, and temperature, returning
// a mass rate (g/s) to subtract from the water-column mass.
func (cc *ChemicalClass) userDefinedRate(conc, simtime, temp float64) (float64, error) {
	expr, err := cc.compile()
	if err != nil || expr == nil {
		return 0, err
	}
	params := map[string]interface{}{
		"conc":    conc,
		"simtime": simtime,
		"temp":    temp,
	}
	v, err := expr.Evaluate(params)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, nil
	}
	return f, nil
}

// ChemicalParams holds the run-wide chemical-transport configuration
// and per-cell/node mass registers, structurally identical
// to SolidsParams with the addition of transformation channels.
type ChemicalParams struct {
	Classes []ChemicalClass
	Temp    float64 // ambient temperature, degrees C, used by transformation rates

	CellRegisters []ClassRegister
	NodeRegisters []ClassRegister

	// TransformRegisters holds the seven transformation channels
	// (biolysis, hydrolysis, oxidation, photolysis, radiolysis,
	// volatilization, user-defined) per class per cell.
	TransformRegisters []TransformRegister

	nCells, nNodes int
}

// TransformRegister holds the cumulative mass (kg) lost to each kinetic
// transformation channel for one chemical class at one cell. The design contract here is only that each transformation
// produces a gain/loss mass added to the register each step; the full
// temperature- and environment-dependent rate laws are a collaborator
// responsibility.
type TransformRegister struct {
	Biolysis, Hydrolysis, Oxidation float64
	Photolysis, Radiolysis          float64
	Volatilization, UserDefined     float64
}

func (cp *ChemicalParams) InitChemicalState(g *Grid, net *Network) {
	cp.nCells = len(g.Cells)
	cp.CellRegisters = make([]ClassRegister, len(cp.Classes)*cp.nCells)
	cp.TransformRegisters = make([]TransformRegister, len(cp.Classes)*cp.nCells)
	if net != nil {
		cp.nNodes = len(net.Nodes)
		cp.NodeRegisters = make([]ClassRegister, len(cp.Classes)*cp.nNodes)
	}
}

func (cp *ChemicalParams) cellReg(class, cellIdx int) *ClassRegister {
	return &cp.CellRegisters[class*cp.nCells+cellIdx]
}

func (cp *ChemicalParams) nodeReg(class, nodeIdx int) *ClassRegister {
	return &cp.NodeRegisters[class*cp.nNodes+nodeIdx]
}

func (cp *ChemicalParams) transformReg(class, cellIdx int) *TransformRegister {
	return &cp.TransformRegisters[class*cp.nCells+cellIdx]
}

// Step runs one step of chemical transport for every class. On the
// overland plane, advection and dispersion follow the solids formulas;
// porewater release adds a surface-layer source; the particulate-bound
// fraction (from the partition coefficients against each solids class)
// settles with its carrier class's settling velocity; first-order kinetic
// transformations are applied last. Bound mass is not carried by the
// solids advection or erosion fluxes. The channel sweep advects dissolved
// mass and applies the first-order losses only.
func (cp *ChemicalParams) Step(s *Simulation) error {
	if len(cp.Classes) == 0 {
		return nil
	}
	if cp.CellRegisters == nil {
		cp.InitChemicalState(s.Grid, s.Network)
	}
	dt := s.DT
	w := s.Grid.CellSize
	cellArea := w * w

	for classIdx := range cp.Classes {
		cp.applyLoads(s, classIdx, dt, cellArea)
		cp.stepClassOverland(s, classIdx, dt, w, cellArea)
		if s.Network != nil {
			cp.stepClassChannel(s, classIdx, dt)
		}
	}
	return nil
}

// applyLoads injects the forcing interpolator's per-class point and
// distributed chemical loads into the water column,
// recorded on the point-source slot of the advection-in register.
func (cp *ChemicalParams) applyLoads(s *Simulation, classIdx int, dt, cellArea float64) {
	if s.Forcing == nil {
		return
	}
	apply := func(loads []PointLoad) {
		for i := range loads {
			pl := &loads[i]
			if pl.Series == nil {
				continue
			}
			rate := pl.Series.Value(s.SimTime) // g/s
			if rate == 0 {
				continue
			}
			if pl.IsChannel {
				if s.Network == nil {
					continue
				}
				n := s.Network.Node(pl.Link, pl.Node)
				addNodeChemConcentration(n, classIdx, rate*dt, n.area(n.Depth))
				cp.nodeReg(classIdx, s.Network.flatIndex(pl.Link, pl.Node)).AdvectionIn.accumulate(PointSource, rate, dt)
				continue
			}
			c := s.Grid.At(pl.Row, pl.Col)
			addChemConcentration(c, classIdx, rate*dt, cellArea)
			cp.cellReg(classIdx, pl.Row*s.Grid.NCols+pl.Col).AdvectionIn.accumulate(PointSource, rate, dt)
		}
	}
	if classIdx < len(s.Forcing.ChemPointLoads) {
		apply(s.Forcing.ChemPointLoads[classIdx])
	}
	if classIdx < len(s.Forcing.ChemDistributedLoads) {
		apply(s.Forcing.ChemDistributedLoads[classIdx])
	}
}

// stepClassChannel advects one chemical class along the channel network
// in (link, node) order, mirroring the solids channel sweep, and applies the first-order transformation losses to node water.
func (cp *ChemicalParams) stepClassChannel(s *Simulation, classIdx int, dt float64) {
	cls := &cp.Classes[classIdx]
	s.Network.ForEachNode(func(link, j int, n *Node) {
		if len(n.CChemWater) <= classIdx {
			return
		}
		nodeIdx := s.Network.flatIndex(link, j)
		reg := cp.nodeReg(classIdx, nodeIdx)
		conc := n.CChemWater[classIdx]
		area := n.area(n.Depth)

		down := s.Network.DownstreamOrBranch(link, j)
		q := n.QOut
		if down != nil && q > 0 {
			fluxGps := q * conc
			reg.AdvectionOut.accumulate(South, fluxGps, dt)
			if len(down.CChemWater) > classIdx {
				cp.nodeReg(classIdx, s.Network.flatIndex(down.Link, down.Index)).AdvectionIn.accumulate(North, fluxGps, dt)
				massG := fluxGps * dt
				removeNodeChemConcentration(n, classIdx, massG, area)
				addNodeChemConcentration(down, classIdx, massG, down.area(down.Depth))
			}
		} else if n.IsOutlet && q > 0 {
			fluxGps := q * conc
			reg.AdvectionOut.accumulate(Boundary, fluxGps, dt)
			removeNodeChemConcentration(n, classIdx, fluxGps*dt, area)
		}

		mass := n.CChemWater[classIdx] * n.Depth * area
		if mass <= 0 {
			return
		}
		totalRate := cls.BiolysisRate + cls.HydrolysisRate + cls.OxidationRate +
			cls.PhotolysisRate + cls.RadiolysisRate + cls.VolatilizeRate
		if totalRate > 0 {
			lossGrams := math.Min(mass, mass*totalRate*dt)
			removeNodeChemConcentration(n, classIdx, lossGrams, area)
		}
	})
}

func (cp *ChemicalParams) stepClassOverland(s *Simulation, classIdx int, dt, w, cellArea float64) {
	cls := &cp.Classes[classIdx]
	s.Grid.ActiveCellsDirectional(s.reverse, func(row, col int, c *Cell) {
		if len(c.CChemWater) <= classIdx {
			return
		}
		cellIdx := row*s.Grid.NCols + col
		reg := cp.cellReg(classIdx, cellIdx)
		conc := c.CChemWater[classIdx]

		// Advection, mirroring solids.
		for _, d := range cardinalDirections {
			idx := cardinalIndex(d)
			q := c.QOut[idx]
			if q <= 0 {
				continue
			}
			fluxGps := q * conc
			if neighbor, ok := s.Grid.Neighbor(row, col, d); ok {
				if len(neighbor.CChemWater) > classIdx {
					reg.AdvectionOut.accumulate(d, fluxGps, dt)
					nIdx := neighbor.Row*s.Grid.NCols + neighbor.Col
					cp.cellReg(classIdx, nIdx).AdvectionIn.accumulate(opposite(d), fluxGps, dt)
					massG := fluxGps * dt
					addChemConcentration(neighbor, classIdx, massG, cellArea)
					removeChemConcentration(c, classIdx, massG, cellArea)
				}
			} else if c.IsOutlet {
				reg.AdvectionOut.accumulate(Boundary, fluxGps, dt)
				removeChemConcentration(c, classIdx, fluxGps*dt, cellArea)
			}
		}

		// Dispersion, mirroring solids.
		for _, d := range cardinalDirections {
			idx := cardinalIndex(d)
			neighbor, ok := s.Grid.Neighbor(row, col, d)
			if !ok || len(neighbor.CChemWater) <= classIdx {
				continue
			}
			sf := c.FrictionSlope[idx]
			ustar := math.Sqrt(9.81 * math.Max(c.Depth, 0) * math.Abs(sf))
			EL := 250.0 * c.Depth * ustar
			dispQ := EL * c.Depth
			gradient := conc - neighbor.CChemWater[classIdx]
			fluxGps := dispQ * gradient
			if fluxGps > 0 {
				reg.DispersionOut.accumulate(d, fluxGps, dt)
				nIdx := neighbor.Row*s.Grid.NCols + neighbor.Col
				cp.cellReg(classIdx, nIdx).DispersionIn.accumulate(opposite(d), fluxGps, dt)
				massG := fluxGps * dt
				removeChemConcentration(c, classIdx, massG, cellArea)
				addChemConcentration(neighbor, classIdx, massG, cellArea)
			}
		}

		// Porewater exchange, particulate-bound settling, and kinetic
		// transformations.
		cp.partitionAndTransform(s, c, classIdx, cls, cellArea, dt)
	})
}

// partitionAndTransform applies porewater release from the surface layer,
// then settles the particulate-bound fraction given by the chemical's
// partition coefficients against each solids class, then applies the six
// first-order kinetic transformation channels and the user-defined rate.
func (cp *ChemicalParams) partitionAndTransform(s *Simulation, c *Cell, classIdx int, cls *ChemicalClass, area, dt float64) {
	cellIdx := c.Row*s.Grid.NCols + c.Col
	treg := cp.transformReg(classIdx, cellIdx)

	if surf := c.Stack.Surface(); surf != nil && cls.PorewaterExVel > 0 && len(surf.ChemConc) > classIdx {
		porewaterConc := surf.ChemConc[classIdx]
		release := cls.PorewaterExVel * area * porewaterConc * dt
		available := porewaterConc * surf.Volume
		release = math.Min(release, available)
		if release > 0 {
			if surf.Volume > 0 {
				surf.ChemConc[classIdx] -= release / surf.Volume
			}
			addChemConcentration(c, classIdx, release, area)
		}
	}

	// Partitioning: the fraction of chemical mass bound to each solids
	// class is Kd_i*C_i / (1 + sum_j Kd_j*C_j); bound mass settles
	// with its carrier class's settling velocity.
	if len(cls.PartitionCoeff) > 0 && len(s.Solids.Classes) > 0 && c.Depth > 0 {
		var denom float64 = 1
		for i := range s.Solids.Classes {
			if i < len(cls.PartitionCoeff) && len(c.CWater) > i+1 {
				denom += cls.PartitionCoeff[i] * c.CWater[i+1]
			}
		}
		reg := cp.cellReg(classIdx, cellIdx)
		for i, scls := range s.Solids.Classes {
			if i >= len(cls.PartitionCoeff) || len(c.CWater) <= i+1 {
				continue
			}
			boundFrac := cls.PartitionCoeff[i] * c.CWater[i+1] / denom
			if boundFrac <= 0 || scls.SettlingVelocity <= 0 {
				continue
			}
			boundConc := boundFrac * c.CChemWater[classIdx]
			depRate := scls.SettlingVelocity * area * boundConc // g/s
			depMass := math.Min(depRate*dt, boundConc*c.Depth*area)
			if depMass <= 0 {
				continue
			}
			reg.DepositionOut.accumulate(PointSource, depMass/dt, dt)
			removeChemConcentration(c, classIdx, depMass, area)
			if surf := c.Stack.Surface(); surf != nil && surf.Volume > 0 {
				for len(surf.ChemConc) <= classIdx {
					surf.ChemConc = append(surf.ChemConc, 0)
				}
				surf.ChemConc[classIdx] += depMass / surf.Volume
			}
		}
	}

	conc := c.CChemWater[classIdx]
	mass := conc * c.Depth * area // g
	if mass <= 0 {
		return
	}

	type channel struct {
		rate float64
		acc  *float64
	}
	channels := []channel{
		{cls.BiolysisRate, &treg.Biolysis},
		{cls.HydrolysisRate, &treg.Hydrolysis},
		{cls.OxidationRate, &treg.Oxidation},
		{cls.PhotolysisRate, &treg.Photolysis},
		{cls.RadiolysisRate, &treg.Radiolysis},
		{cls.VolatilizeRate, &treg.Volatilization},
	}
	for _, ch := range channels {
		if ch.rate <= 0 {
			continue
		}
		lossGrams := math.Min(mass, mass*ch.rate*dt)
		*ch.acc += lossGrams / 1000.0 // kg
		removeChemConcentration(c, classIdx, lossGrams, area)
		mass -= lossGrams
	}

	if userRate, err := cls.userDefinedRate(conc, s.SimTime, cp.Temp); err == nil && userRate != 0 {
		lossGrams := math.Min(mass, math.Abs(userRate)*dt)
		if userRate > 0 {
			treg.UserDefined += lossGrams / 1000.0
			removeChemConcentration(c, classIdx, lossGrams, area)
		}
	}
}

func addChemConcentration(c *Cell, classIdx int, massGrams, area float64) {
	if c.Depth <= 0 || area <= 0 || len(c.CChemWater) <= classIdx {
		return
	}
	c.CChemWater[classIdx] += massGrams / (c.Depth * area)
}

func removeChemConcentration(c *Cell, classIdx int, massGrams, area float64) {
	if c.Depth <= 0 || area <= 0 || len(c.CChemWater) <= classIdx {
		return
	}
	c.CChemWater[classIdx] -= massGrams / (c.Depth * area)
	if c.CChemWater[classIdx] < 0 {
		c.CChemWater[classIdx] = 0
	}
}

func addNodeChemConcentration(n *Node, classIdx int, massGrams, area float64) {
	if n.Depth <= 0 || area <= 0 || len(n.CChemWater) <= classIdx {
		return
	}
	n.CChemWater[classIdx] += massGrams / (n.Depth * area)
}

func removeNodeChemConcentration(n *Node, classIdx int, massGrams, area float64) {
	if n.Depth <= 0 || area <= 0 || len(n.CChemWater) <= classIdx {
		return
	}
	n.CChemWater[classIdx] -= massGrams / (n.Depth * area)
	if n.CChemWater[classIdx] < 0 {
		n.CChemWater[classIdx] = 0
	}
}
