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

import "math"

// ProcessFlux holds, for one physical process (advection, dispersion,
// deposition, erosion, burial, scour) and one solids or chemical class,
// both the instantaneous flux (g/s) and the cumulative mass (kg) by
// direction/source index 0..10. These registers are the
// sole data source for the mass-balance report.
type ProcessFlux struct {
	Flux [NumDirections]float64 // g/s, this step
	Mass [NumDirections]float64 // kg, cumulative over the run
}

// accumulate records a signed flux (g/s) on direction d: it overwrites the
// instantaneous value and adds the mass moved over dt to the cumulative
// register.
func (p *ProcessFlux) accumulate(d Direction, fluxGramsPerSec, dt float64) {
	p.Flux[d] = fluxGramsPerSec
	p.Mass[d] += fluxGramsPerSec * dt / 1000.0 // g -> kg
}

// ClassRegister bundles the six process registers kept for one solids
// class at one cell or node: advection, dispersion, deposition, erosion,
// burial, scour, each split into in/out halves by direction.
type ClassRegister struct {
	AdvectionIn, AdvectionOut   ProcessFlux
	DispersionIn, DispersionOut ProcessFlux
	DepositionIn, DepositionOut ProcessFlux
	ErosionIn, ErosionOut       ProcessFlux
	BurialIn, BurialOut         ProcessFlux
	ScourIn, ScourOut           ProcessFlux
}

// SolidsClass holds the physical parameters of one particle class.
type SolidsClass struct {
	Name             string
	GrainDiameter    float64 // d, m
	ParticleDensity  float64 // rho_s, relative to water (dimensionless specific gravity)
	SettlingVelocity float64 // w_s, m/s
	CriticalVelocity float64 // v_c, m/s; also v_c_class for the channel transport capacity
}

// dStar returns the dimensionless grain size d* used to weight a class's
// share of overland transport capacity: d* = d*((rho_s-1)*g/nu^2)^(1/3).
func (sc *SolidsClass) dStar() float64 {
	const nu = 1.0e-6 // kinematic viscosity of water, m^2/s
	const g = 9.81
	return sc.GrainDiameter * math.Cbrt((sc.ParticleDensity-1)*g/(nu*nu))
}

// SolidsParams holds the run-wide solids-transport configuration
// and the per-cell/per-node working state that the
// advection/dispersion/deposition/erosion/stack pipeline needs.
type SolidsParams struct {
	Classes []SolidsClass

	Beta, Gamma float64 // transport-capacity exponents: q_s = k_total*(q-q_c)^beta * sf^gamma

	CellRegisters []ClassRegister // [class*nCells+cellIndex]
	NodeRegisters []ClassRegister // [class*nNodes+nodeIndex]

	nCells, nNodes int
}

// InitSolidsState sizes the per-class mass registers to the grid/network:
// one contiguous block per solids class, indexed by computed stride.
func (sp *SolidsParams) InitSolidsState(g *Grid, net *Network) {
	sp.nCells = len(g.Cells)
	sp.CellRegisters = make([]ClassRegister, len(sp.Classes)*sp.nCells)
	if net != nil {
		sp.nNodes = len(net.Nodes)
		sp.NodeRegisters = make([]ClassRegister, len(sp.Classes)*sp.nNodes)
	}
}

func (sp *SolidsParams) cellReg(class, cellIdx int) *ClassRegister {
	return &sp.CellRegisters[class*sp.nCells+cellIdx]
}

func (sp *SolidsParams) nodeReg(class, nodeIdx int) *ClassRegister {
	return &sp.NodeRegisters[class*sp.nNodes+nodeIdx]
}

// totalTransportCapacity returns the total overland transport capacity
// (g/s) at a cell given the unit discharge excess over critical and the
// USLE-style coefficient product.
func totalTransportCapacity(kTotal, qExcess, sf, beta, gamma float64) float64 {
	if qExcess <= 0 {
		return 0
	}
	sfMag := math.Abs(sf)
	if sfMag == 0 {
		return 0
	}
	return kTotal * math.Pow(qExcess, beta) * math.Pow(sfMag, gamma)
}

// overlandTransportCapacity computes the total and per-class transport
// capacity (g/s) for one cell: k_total =
// k_tc(landuse)*K_usle(soil)*C_usle(landuse)*P_usle(landuse); per-class
// share weighted by 1/d*^tcwexp, normalized to sum to 1.
func (sp *SolidsParams) overlandTransportCapacity(c *Cell, w float64) []float64 {
	shares := make([]float64, len(sp.Classes))
	if c.LandUse == nil || c.Soil == nil {
		return shares
	}
	kTotal := c.LandUse.KTC * c.Soil.KUSLE * c.LandUse.CUSLE * c.LandUse.PUSLE

	var totalQS float64
	for _, idx := range cardinalDirections {
		i := cardinalIndex(idx)
		q := c.QOut[i] / w // unit discharge, m^2/s
		qc := 0.0
		if len(sp.Classes) > 0 {
			qc = sp.Classes[0].CriticalVelocity * c.Depth
		}
		qExcess := q - qc
		sf := c.FrictionSlope[i]
		totalQS += totalTransportCapacity(kTotal, qExcess, sf, sp.Beta, sp.Gamma)
	}
	totalQS *= w * 1000.0 // m^3/s of capacity-equivalent * density proxy -> g/s scale factor

	var weightSum float64
	weights := make([]float64, len(sp.Classes))
	for i, cls := range sp.Classes {
		dstar := cls.dStar()
		if dstar <= 0 {
			continue
		}
		exp := 1.0
		if c.LandUse.TCWExp != 0 {
			exp = c.LandUse.TCWExp
		}
		weights[i] = 1.0 / math.Pow(dstar, exp)
		weightSum += weights[i]
	}
	if weightSum <= 0 {
		return shares
	}
	for i := range sp.Classes {
		shares[i] = totalQS * weights[i] / weightSum
	}
	return shares
}

// channelTransportCapacity computes per-class transport capacity (g/s)
// at a channel node using a modified Engelund-Hansen form: nonzero
// concentration by weight only once mean velocity exceeds the class's
// critical velocity.
func (sp *SolidsParams) channelTransportCapacity(n *Node) []float64 {
	caps := make([]float64, len(sp.Classes))
	A := n.area(n.Depth)
	if A <= 0 {
		return caps
	}
	v := math.Abs(n.QOut) / A
	for i, cls := range sp.Classes {
		if v <= cls.CriticalVelocity {
			continue
		}
		R := n.hydraulicRadius(n.Depth)
		sf := n.bedSlope()
		// Engelund-Hansen: Cw proportional to v^2 * sqrt(R*|sf|) / ((rho_s-1)*d).
		cw := (v * v * math.Sqrt(R*math.Abs(sf))) / math.Max((cls.ParticleDensity-1)*cls.GrainDiameter, 1e-12)
		concGPerM3 := cw * 1000.0 // weight fraction -> g/m^3 proxy
		caps[i] = concGPerM3 * math.Abs(n.QOut)
	}
	return caps
}

// Step runs one step of solids transport for every active class:
// advection, dispersion, transport-capacity-driven deposition/erosion,
// and stack push/pop. It is only invoked when the
// simulation is configured for ksim >= 2.
func (sp *SolidsParams) Step(s *Simulation) error {
	if len(sp.Classes) == 0 {
		return nil
	}
	if sp.CellRegisters == nil {
		sp.InitSolidsState(s.Grid, s.Network)
	}
	dt := s.DT
	w := s.Grid.CellSize
	cellArea := w * w

	for classIdx := range sp.Classes {
		sp.applyLoads(s, classIdx, dt, cellArea)
		if err := sp.stepClassOverland(s, classIdx, dt, w, cellArea); err != nil {
			return err
		}
		if s.Network != nil {
			if err := sp.stepClassChannel(s, classIdx, dt); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyLoads injects the forcing interpolator's per-class point and
// distributed solids loads into the water column, recorded
// on the point-source slot of the advection-in register.
func (sp *SolidsParams) applyLoads(s *Simulation, classIdx int, dt, cellArea float64) {
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
				if len(n.CWater) <= classIdx+1 {
					continue
				}
				addNodeConcentration(n, classIdx, rate*dt, n.area(n.Depth))
				sp.nodeReg(classIdx, s.Network.flatIndex(pl.Link, pl.Node)).AdvectionIn.accumulate(PointSource, rate, dt)
				continue
			}
			c := s.Grid.At(pl.Row, pl.Col)
			if len(c.CWater) <= classIdx+1 {
				continue
			}
			addConcentration(c, classIdx, rate*dt, cellArea)
			sp.cellReg(classIdx, pl.Row*s.Grid.NCols+pl.Col).AdvectionIn.accumulate(PointSource, rate, dt)
		}
	}
	if classIdx < len(s.Forcing.SolidsPointLoads) {
		apply(s.Forcing.SolidsPointLoads[classIdx])
	}
	if classIdx < len(s.Forcing.SolidsDistributedLoads) {
		apply(s.Forcing.SolidsDistributedLoads[classIdx])
	}
}

// stepClassOverland advects, disperses, deposits and erodes one solids
// class across the overland plane, then checks stack push/pop for every
// active cell.
func (sp *SolidsParams) stepClassOverland(s *Simulation, classIdx int, dt, w, cellArea float64) error {
	cls := &sp.Classes[classIdx]

	var stepErr error
	s.Grid.ActiveCellsDirectional(s.reverse, func(row, col int, c *Cell) {
		if stepErr != nil {
			return
		}
		cellIdx := row*s.Grid.NCols + col
		reg := sp.cellReg(classIdx, cellIdx)
		if len(c.CWater) <= classIdx+1 {
			return
		}
		conc := c.CWater[classIdx+1] // index 0 is TSS sum

		// Advection: outgoing flux = outflow * donor concentration
		// (upwind), computed per direction and applied to both the
		// donor's Out register and the receiver's In register.
		for _, d := range cardinalDirections {
			idx := cardinalIndex(d)
			q := c.QOut[idx]
			if q <= 0 {
				continue
			}
			fluxGps := q * conc // m^3/s * g/m^3 = g/s
			if neighbor, ok := s.Grid.Neighbor(row, col, d); ok {
				reg.AdvectionOut.accumulate(d, fluxGps, dt)
				nIdx := neighbor.Row*s.Grid.NCols + neighbor.Col
				nreg := sp.cellReg(classIdx, nIdx)
				nreg.AdvectionIn.accumulate(opposite(d), fluxGps, dt)
				massG := fluxGps * dt
				if len(neighbor.CWater) > classIdx+1 {
					addConcentration(neighbor, classIdx, massG, cellArea)
				}
				removeConcentration(c, classIdx, massG, cellArea)
			} else if c.IsOutlet {
				reg.AdvectionOut.accumulate(Boundary, fluxGps, dt)
				removeConcentration(c, classIdx, fluxGps*dt, cellArea)
			}
		}

		// Dispersion: Julien longitudinal coefficient (E_L = 250*h*u*)
		// between cardinal neighbors; no transverse (floodplain) term is
		// applied.
		for _, d := range cardinalDirections {
			idx := cardinalIndex(d)
			neighbor, ok := s.Grid.Neighbor(row, col, d)
			if !ok {
				continue
			}
			sf := c.FrictionSlope[idx]
			ustar := math.Sqrt(9.81 * math.Max(c.Depth, 0) * math.Abs(sf))
			EL := 250.0 * c.Depth * ustar
			flowArea := c.Depth * w
			dispQ := EL * flowArea / w
			if len(neighbor.CWater) <= classIdx+1 {
				continue
			}
			gradient := conc - neighbor.CWater[classIdx+1]
			fluxGps := dispQ * gradient
			if fluxGps > 0 {
				reg.DispersionOut.accumulate(d, fluxGps, dt)
				nIdx := neighbor.Row*s.Grid.NCols + neighbor.Col
				sp.cellReg(classIdx, nIdx).DispersionIn.accumulate(opposite(d), fluxGps, dt)
				massG := fluxGps * dt
				removeConcentration(c, classIdx, massG, cellArea)
				addConcentration(neighbor, classIdx, massG, cellArea)
			}
		}

		// Transport capacity, deposition, and erosion.
		transCap := sp.overlandTransportCapacity(c, w)[classIdx]
		if err := sp.depositAndErode(c, reg, classIdx, cls, transCap, cellArea, dt); err != nil {
			stepErr = err
			return
		}

		if err := c.Stack.CheckPushPop(cellArea); err != nil {
			stepErr = cellErr(ErrNumerical, row, col, s.SimTime, err)
		}
	})
	return stepErr
}

// depositAndErode applies settling-velocity-driven deposition and
// capacity-driven erosion to one cell's surface layer, using the
// availability-limiter pattern: if potential deposition exceeds the mass
// actually present, the deposition flux this step is scaled down by
// available/potential. Advective and dispersive fluxes are not scaled.
func (sp *SolidsParams) depositAndErode(c *Cell, reg *ClassRegister, classIdx int, cls *SolidsClass, transCap, area, dt float64) error {
	conc := c.CWater[classIdx+1]
	available := conc * c.Depth * area // g currently suspended

	potentialDepRate := cls.SettlingVelocity * area * conc // g/s
	potentialDep := potentialDepRate * dt
	if potentialDep > available && potentialDep > 0 {
		scale := available / potentialDep
		potentialDepRate *= scale
		potentialDep = available
	}
	if potentialDepRate > 0 {
		reg.DepositionOut.accumulate(PointSource, potentialDepRate, dt)
		removeConcentration(c, classIdx, potentialDep, area)
		surf := c.Stack.Surface()
		if surf != nil {
			depositVolume := potentialDep / 1.0e6 // g -> tonne proxy kept simple: treat g as cm^3-equivalent at unit density
			surf.Volume += depositVolume
			if surf.GroundArea > 0 {
				surf.Thickness = surf.Volume / surf.GroundArea
			}
			addLayerMass(surf, classIdx, potentialDep)
		}
	}

	suspendedLoad := conc * c.Depth * area
	erosionDemand := transCap*dt - suspendedLoad
	if erosionDemand <= 0 {
		return nil
	}
	surf := c.Stack.Surface()
	if surf == nil {
		return nil
	}
	surfaceInventory := surf.Conc[classIdx+1] * surf.Volume
	erosionMass := math.Min(erosionDemand, surfaceInventory)
	if erosionMass <= 0 {
		return nil
	}
	reg.ErosionIn.accumulate(PointSource, erosionMass/dt, dt)
	addConcentration(c, classIdx, erosionMass, area)
	removeLayerMass(surf, classIdx, erosionMass)
	return nil
}

// stepClassChannel advects, disperses, deposits/erodes one solids class
// along the channel network, in (link, node) order.
func (sp *SolidsParams) stepClassChannel(s *Simulation, classIdx int, dt float64) error {
	cls := &sp.Classes[classIdx]
	var stepErr error
	s.Network.ForEachNode(func(link, j int, n *Node) {
		if stepErr != nil {
			return
		}
		nodeIdx := s.Network.flatIndex(link, j)
		reg := sp.nodeReg(classIdx, nodeIdx)
		if len(n.CWater) <= classIdx+1 {
			return
		}
		conc := n.CWater[classIdx+1]
		down := s.Network.DownstreamOrBranch(link, j)
		q := n.QOut
		if down != nil && q > 0 {
			fluxGps := q * conc
			reg.AdvectionOut.accumulate(South, fluxGps, dt)
			if len(down.CWater) > classIdx+1 {
				downIdx := s.Network.flatIndex(down.Link, down.Index)
				sp.nodeReg(classIdx, downIdx).AdvectionIn.accumulate(North, fluxGps, dt)
				massG := fluxGps * dt
				area := n.area(n.Depth)
				removeNodeConcentration(n, classIdx, massG, area)
				downArea := down.area(down.Depth)
				addNodeConcentration(down, classIdx, massG, downArea)
			}
		} else if n.IsOutlet && q > 0 {
			fluxGps := q * conc
			reg.AdvectionOut.accumulate(Boundary, fluxGps, dt)
			area := n.area(n.Depth)
			removeNodeConcentration(n, classIdx, fluxGps*dt, area)
		}

		// Longitudinal dispersion between adjacent nodes, using the same
		// depth-shear-velocity coefficient as the overland plane.
		if down != nil && len(down.CWater) > classIdx+1 {
			sf := n.bedSlope()
			ustar := math.Sqrt(9.81 * math.Max(n.Depth, 0) * math.Abs(sf))
			EL := 250.0 * n.Depth * ustar
			L := (n.ChanLength + down.ChanLength) / 2
			if L > 0 {
				dispQ := EL * n.area(n.Depth) / L
				gradient := conc - down.CWater[classIdx+1]
				fluxGps := dispQ * gradient
				if fluxGps > 0 {
					reg.DispersionOut.accumulate(South, fluxGps, dt)
					downIdx := s.Network.flatIndex(down.Link, down.Index)
					sp.nodeReg(classIdx, downIdx).DispersionIn.accumulate(North, fluxGps, dt)
					massG := fluxGps * dt
					removeNodeConcentration(n, classIdx, massG, n.area(n.Depth))
					addNodeConcentration(down, classIdx, massG, down.area(down.Depth))
				}
			}
		}

		caps := sp.channelTransportCapacity(n)
		area := n.area(n.Depth)
		sp.depositAndErodeChannel(n, reg, classIdx, cls, caps[classIdx], area, dt)

		if err := n.Stack.CheckPushPop(n.BottomWidth * n.ChanLength); err != nil {
			stepErr = nodeErr(ErrNumerical, link, j, s.SimTime, err)
		}
	})
	return stepErr
}

func (sp *SolidsParams) depositAndErodeChannel(n *Node, reg *ClassRegister, classIdx int, cls *SolidsClass, transCap, area, dt float64) {
	if area <= 0 {
		return
	}
	conc := n.CWater[classIdx+1]
	available := conc * n.Depth * area

	potentialDepRate := cls.SettlingVelocity * area * conc
	potentialDep := potentialDepRate * dt
	if potentialDep > available && potentialDep > 0 {
		scale := available / potentialDep
		potentialDepRate *= scale
		potentialDep = available
	}
	if potentialDepRate > 0 {
		reg.DepositionOut.accumulate(PointSource, potentialDepRate, dt)
		removeNodeConcentration(n, classIdx, potentialDep, area)
		surf := n.Stack.Surface()
		if surf != nil {
			surf.Volume += potentialDep / 1.0e6
			if surf.GroundArea > 0 {
				surf.Thickness = surf.Volume / surf.GroundArea
			}
			addLayerMass(surf, classIdx, potentialDep)
		}
	}

	suspendedLoad := conc * n.Depth * area
	erosionDemand := transCap*dt - suspendedLoad
	if erosionDemand <= 0 {
		return
	}
	surf := n.Stack.Surface()
	if surf == nil {
		return
	}
	surfaceInventory := surf.Conc[classIdx+1] * surf.Volume
	erosionMass := math.Min(erosionDemand, surfaceInventory)
	if erosionMass <= 0 {
		return
	}
	reg.ErosionIn.accumulate(PointSource, erosionMass/dt, dt)
	addNodeConcentration(n, classIdx, erosionMass, area)
	removeLayerMass(surf, classIdx, erosionMass)
}

// addConcentration adds massGrams of a solids class to a cell's water
// column and restores the TSS-sum invariant.
func addConcentration(c *Cell, classIdx int, massGrams, area float64) {
	if c.Depth <= 0 || area <= 0 {
		return
	}
	c.CWater[classIdx+1] += massGrams / (c.Depth * area)
	recomputeWaterTSS(c.CWater)
}

func removeConcentration(c *Cell, classIdx int, massGrams, area float64) {
	if c.Depth <= 0 || area <= 0 {
		return
	}
	c.CWater[classIdx+1] -= massGrams / (c.Depth * area)
	if c.CWater[classIdx+1] < 0 {
		c.CWater[classIdx+1] = 0
	}
	recomputeWaterTSS(c.CWater)
}

func addNodeConcentration(n *Node, classIdx int, massGrams, area float64) {
	if n.Depth <= 0 || area <= 0 {
		return
	}
	n.CWater[classIdx+1] += massGrams / (n.Depth * area)
	recomputeWaterTSS(n.CWater)
}

func removeNodeConcentration(n *Node, classIdx int, massGrams, area float64) {
	if n.Depth <= 0 || area <= 0 {
		return
	}
	n.CWater[classIdx+1] -= massGrams / (n.Depth * area)
	if n.CWater[classIdx+1] < 0 {
		n.CWater[classIdx+1] = 0
	}
	recomputeWaterTSS(n.CWater)
}

// recomputeWaterTSS restores c[0] == sum(c[1:]) for a water-column
// concentration slice.
func recomputeWaterTSS(c []float64) {
	if len(c) == 0 {
		return
	}
	var sum float64
	for i := 1; i < len(c); i++ {
		sum += c[i]
	}
	c[0] = sum
}

func addLayerMass(l *Layer, classIdx int, massGrams float64) {
	if l.Volume <= 0 {
		return
	}
	l.Conc[classIdx+1] += massGrams / l.Volume
	l.recomputeTSS()
}

func removeLayerMass(l *Layer, classIdx int, massGrams float64) {
	if l.Volume <= 0 {
		return
	}
	l.Conc[classIdx+1] -= massGrams / l.Volume
	if l.Conc[classIdx+1] < 0 {
		l.Conc[classIdx+1] = 0
	}
	l.recomputeTSS()
}
