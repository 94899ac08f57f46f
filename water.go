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

// FloodOpt selects the floodplain transfer mode.
type FloodOpt int

const (
	// FloodUnidirectional only ever moves water overland -> channel.
	FloodUnidirectional FloodOpt = iota
	// FloodBidirectional compares water-surface elevations and can move
	// water either direction.
	FloodBidirectional
)

// OutOpt selects whether overland outflow at a channel-outlet cell also
// routes through the overland plane, or only through the channel.
type OutOpt int

const (
	OutChannelOnly OutOpt = iota
	OutBoth
)

// WaterRouterParams holds the run-wide options for the water router.
type WaterRouterParams struct {
	FloodOpt FloodOpt
	OutOpt   OutOpt
}

// routeOverland performs one 2-D diffusive-wave sweep of the overland
// plane. The sweep direction (row-major or reversed)
// toggles every step, per the caller-supplied reverse flag, never
// package-level state. Depth updates are applied in place as each cell is
// visited (Gauss-Seidel), so flows into a cell computed later in the same
// scan already see this step's updates to its upstream neighbors. That
// read-your-writes ordering is part of the model and is observable in
// tests.
func (wr *WaterRouterParams) routeOverland(g *Grid, dt float64, reverse bool) error {
	var stepErr error
	g.ActiveCellsDirectional(reverse, func(row, col int, c *Cell) {
		if stepErr != nil {
			return
		}
		for _, d := range cardinalDirections {
			idx := cardinalIndex(d)
			neighbor, ok := g.Neighbor(row, col, d)
			if !ok {
				wr.routeOverlandBoundary(c, g.CellSize, d, idx, dt)
				continue
			}
			if err := wr.routeOverlandPair(g, c, neighbor, d, idx, dt); err != nil {
				stepErr = err
				return
			}
		}
	})
	return stepErr
}

func cardinalIndex(d Direction) int {
	for i, cd := range cardinalDirections {
		if cd == d {
			return i
		}
	}
	return -1
}

// overlandFlow applies Manning's law for the diffusive-wave overland
// update: q = sgn(sf) * w * (sqrt(|sf|)/n) *
// (h - sStorage - sInfilt)^(5/3), using the donor's depth and roughness.
func overlandFlow(w, sf, n, donorDepth, sStorage, sInfilt float64) float64 {
	avail := donorDepth - sStorage - sInfilt
	if sf == 0 || avail <= 0 {
		return 0
	}
	return sgn(sf) * w * (math.Sqrt(math.Abs(sf)) / n) * math.Pow(avail, 5.0/3.0)
}

// routeOverlandPair computes and immediately applies the flow exchange
// between a cell and one of its cardinal neighbors.
func (wr *WaterRouterParams) routeOverlandPair(g *Grid, c, neighbor *Cell, d Direction, idx int, dt float64) error {
	w := g.CellSize
	dhdx := (neighbor.Depth - c.Depth) / w
	so := (c.Elevation - neighbor.Elevation) / w
	sf := so - dhdx
	c.FrictionSlope[idx] = sf

	var donor, receiver *Cell
	if sf >= 0 {
		donor, receiver = c, neighbor
	} else {
		donor, receiver = neighbor, c
	}

	sStorage := 0.0
	sInfilt := 0.0
	if donor.LandUse != nil {
		sStorage = donor.LandUse.DepressionStore
	}
	q := overlandFlow(w, sf, manningN(donor), donor.Depth, sStorage, sInfilt)
	if q == 0 {
		return nil
	}
	if !isFinite(q) {
		return cellErr(ErrNumerical, c.Row, c.Col, 0, errNonFiniteFlow)
	}

	volume := math.Abs(q) * dt
	area := w * w

	donor.Depth -= volume / area
	receiver.Depth += volume / area

	if donor == c {
		c.QOut[idx] += math.Abs(q)
		neighbor.QIn[cardinalIndex(opposite(d))] += math.Abs(q)
		c.OutVol[d] += volume
		neighbor.InVol[opposite(d)] += volume
	} else {
		neighbor.QOut[cardinalIndex(opposite(d))] += math.Abs(q)
		c.QIn[idx] += math.Abs(q)
		neighbor.OutVol[opposite(d)] += volume
		c.InVol[d] += volume
	}
	return nil
}

// routeOverlandBoundary handles a domain-edge direction with no overland
// neighbor: outlet cells drain using a normal-depth condition (friction
// slope equal to the cell's own ground slope); non-outlet edge cells are a
// closed boundary in that direction.
func (wr *WaterRouterParams) routeOverlandBoundary(c *Cell, w float64, d Direction, idx int, dt float64) {
	if !c.IsOutlet {
		return
	}
	// outopt=0: a channel-outlet cell discharges through its channel node
	// only; the overland plane at that cell is a closed boundary.
	if c.HasChannel && wr.OutOpt == OutChannelOnly {
		return
	}
	sStorage := 0.0
	if c.LandUse != nil {
		sStorage = c.LandUse.DepressionStore
	}
	sf := c.BoundarySlope
	c.FrictionSlope[idx] = sf
	q := overlandFlow(w, sf, manningN(c), c.Depth, sStorage, 0)
	if q <= 0 {
		return
	}
	volume := q * dt
	area := w * w
	c.Depth -= volume / area
	c.QOut[idx] += q
	c.OutVol[Boundary] += volume
	if q > c.PeakDischarge {
		c.PeakDischarge = q
	}
}

func manningN(c *Cell) float64 {
	if c.LandUse != nil && c.LandUse.ManningN > 0 {
		return c.LandUse.ManningN
	}
	return 0.03
}

var errNonFiniteFlow = &nonFiniteFlowErr{}

type nonFiniteFlowErr struct{}

func (*nonFiniteFlowErr) Error() string { return "non-finite overland flow" }

// routeChannel performs one 1-D channel-network sweep in (link, node)
// order. Links with no branch connection to any other link are dispatched
// concurrently by parallelLinks; coupled links run sequentially in link
// order after them, so the sweep ordering between coupled links is
// preserved.
func (wr *WaterRouterParams) routeChannel(net *Network, forcing *Forcing, outletIdx map[*Node]int, simtime, dt float64) error {
	errs := make([]error, net.NumLinks())
	parallelLinks(net, func(link int) {
		errs[link] = wr.routeLink(net, link, forcing, outletIdx, simtime, dt)
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// routeLink sweeps one link's nodes in order, routing each node into its
// within-link or branch downstream neighbor, or through the outlet
// boundary condition at a terminal node.
func (wr *WaterRouterParams) routeLink(net *Network, link int, forcing *Forcing, outletIdx map[*Node]int, simtime, dt float64) error {
	span := net.Links[link]
	for j := 0; j < span.Length; j++ {
		n := net.Node(link, j)
		down := net.DownstreamOrBranch(link, j)
		if down != nil {
			if err := wr.routeChannelPair(n, down, dt); err != nil {
				return err
			}
			continue
		}
		// n is a terminal node of the network.
		wr.routeChannelOutlet(n, forcing, outletIdx, simtime, dt)
	}
	return nil
}

// routeChannelPair computes and applies the flow between a node and its
// downstream neighbor: the next node on the same link, or the head node of
// the downstream branch link.
func (wr *WaterRouterParams) routeChannelPair(n, down *Node, dt float64) error {
	L := (n.ChanLength + down.ChanLength) / 2
	so := (n.Elevation - down.Elevation) / L
	dhdx := ((down.Elevation + down.Depth) - (n.Elevation + n.Depth)) / L
	sf := so - dhdx

	var donor, receiver *Node
	if sf >= 0 {
		donor, receiver = n, down
	} else {
		donor, receiver = down, n
	}
	// Water below the dead-storage depth does not convey.
	convDepth := donor.Depth - donor.DeadStorage
	if convDepth <= 0 {
		return nil
	}
	R := donor.hydraulicRadius(convDepth)
	if R <= 0 || sf == 0 {
		return nil
	}
	A := donor.area(convDepth)
	q := sgn(sf) * (A / donor.ManningN) * math.Pow(R, 2.0/3.0) * math.Sqrt(math.Abs(sf))
	if !isFinite(q) {
		return nodeErr(ErrNumerical, n.Link, n.Index, 0, errNonFiniteFlow)
	}
	if q == 0 {
		return nil
	}
	volume := math.Abs(q) * dt
	donorArea := donor.topWidth(donor.Depth) * donor.ChanLength
	receiverArea := receiver.topWidth(receiver.Depth) * receiver.ChanLength
	if donorArea <= 0 || receiverArea <= 0 {
		return nil
	}
	donor.Depth -= volume / donorArea
	receiver.Depth += volume / receiverArea

	if donor == n {
		n.QOut += math.Abs(q)
		down.QIn += math.Abs(q)
		n.OutVol[South] += volume
		down.InVol[North] += volume
	} else {
		down.QOut += math.Abs(q)
		n.QIn += math.Abs(q)
		down.OutVol[North] += volume
		n.InVol[South] += volume
	}
	return nil
}

// routeChannelOutlet applies the domain boundary condition at the
// downstream end of a link: either a normal-depth condition using the
// node's own bed slope, or a linearly-interpolated depth time series.
func (wr *WaterRouterParams) routeChannelOutlet(n *Node, forcing *Forcing, outletIdx map[*Node]int, simtime, dt float64) {
	if !n.IsOutlet {
		return
	}
	var q float64
	switch n.DBCOpt {
	case int(DBCTimeSeries):
		idx := outletIdx[n]
		targetDepth := forcing.OutletDepth(idx, simtime)
		// Drive the outlet toward the prescribed depth over this step.
		q = (n.Depth - targetDepth) * n.area(n.Depth) / dt
	default: // DBCNormalDepth
		so := n.bedSlope()
		convDepth := n.Depth - n.DeadStorage
		if convDepth <= 0 {
			return
		}
		R := n.hydraulicRadius(convDepth)
		if R <= 0 {
			return
		}
		A := n.area(convDepth)
		q = (A / n.ManningN) * math.Pow(R, 2.0/3.0) * math.Sqrt(math.Abs(so)) * sgn(so+1e-12)
	}
	if q <= 0 {
		return
	}
	area := n.area(n.Depth)
	if area <= 0 {
		return
	}
	volume := q * dt
	n.Depth -= volume / area
	if n.Depth < 0 {
		n.Depth = 0
	}
	n.QOut += q
	n.OutVol[Boundary] += volume
	if q > n.PeakDischarge {
		n.PeakDischarge = q
		n.TimeOfPeak = simtime
	}
}

// bedSlope is a placeholder hook for a node's local bed slope used by the
// normal-depth boundary condition; nodes at a true outlet store this as a
// precomputed constant via SetBedSlope.
func (n *Node) bedSlope() float64 {
	return n.normalDepthSlope
}

// SetBedSlope records the local bed slope used by the normal-depth outlet
// boundary condition.
func (n *Node) SetBedSlope(s float64) { n.normalDepthSlope = s }

// floodplainTransfer exchanges water between a channel cell's overland and
// channel portions in the same step, after both sweeps.
func (wr *WaterRouterParams) floodplainTransfer(c *Cell, n *Node, cellArea float64, dt float64) {
	switch wr.FloodOpt {
	case FloodUnidirectional:
		wr.floodplainUnidirectional(c, n, cellArea)
	default:
		wr.floodplainBidirectional(c, n, cellArea)
	}
}

// floodplainUnidirectional implements fldopt=0: any overland depth in
// excess of depression storage moves to the channel; never the reverse.
func (wr *WaterRouterParams) floodplainUnidirectional(c *Cell, n *Node, cellArea float64) {
	sStorage := 0.0
	if c.LandUse != nil {
		sStorage = c.LandUse.DepressionStore
	}
	excess := c.Depth - sStorage
	if excess <= 0 {
		return
	}
	volume := excess * cellArea
	channelArea := n.topWidth(n.Depth) * n.ChanLength
	if channelArea <= 0 {
		return
	}
	c.Depth -= excess
	n.Depth += volume / channelArea
	c.OutVol[Floodplain] += volume
	n.InVol[Floodplain] += volume
}

// floodplainBidirectional implements fldopt>0: compares water-surface
// elevations and equalizes them across the two footprints when the
// channel is over-bank.
func (wr *WaterRouterParams) floodplainBidirectional(c *Cell, n *Node, cellArea float64) {
	channelArea := n.topWidth(n.Depth) * n.ChanLength
	if channelArea <= 0 {
		return
	}
	wseOv := c.surfaceElevation()
	wseCh := n.surfaceElevation()

	switch {
	case wseOv > wseCh && !n.bankFull():
		sStorage := 0.0
		if c.LandUse != nil {
			sStorage = c.LandUse.DepressionStore
		}
		excess := math.Max(0, c.Depth-sStorage)
		excessVolume := excess * cellArea
		toBank := math.Max(0, (n.Elevation+n.BankHeight)-wseCh) * channelArea
		transfer := math.Min(excessVolume, toBank)
		if transfer <= 0 {
			return
		}
		c.Depth -= transfer / cellArea
		n.Depth += transfer / channelArea
		if excessVolume > toBank {
			equalizeWSE(c, n, cellArea, channelArea)
		}
		recordFloodTransfer(c, n, transfer)

	case wseOv > wseCh:
		equalizeWSE(c, n, cellArea, channelArea)

	case wseCh > wseOv:
		equalizeWSEFromNode(n, c, channelArea, cellArea)
	}
}

// equalizeWSE redistributes water between two footprints so their water
// surface elevations match exactly, weighted by surface area.
func equalizeWSE(from *Cell, to *Node, fromArea, toArea float64) {
	fromWSE := from.surfaceElevation()
	toWSE := to.surfaceElevation()
	if fromWSE <= toWSE {
		return
	}
	totalVolume := fromWSE*fromArea + toWSE*toArea
	totalArea := fromArea + toArea
	targetWSE := totalVolume / totalArea

	fromDelta := (fromWSE - targetWSE)
	toDelta := (targetWSE - toWSE)
	from.Depth -= fromDelta
	to.Depth += toDelta
	transfer := fromDelta * fromArea
	recordFloodTransfer(from, to, transfer)
}

// equalizeWSEFromNode is the channel -> overland mirror of equalizeWSE, used
// whenever the channel's water surface sits above the overland plane.
func equalizeWSEFromNode(from *Node, to *Cell, fromArea, toArea float64) {
	fromWSE := from.surfaceElevation()
	toWSE := to.surfaceElevation()
	if fromWSE <= toWSE {
		return
	}
	totalVolume := fromWSE*fromArea + toWSE*toArea
	totalArea := fromArea + toArea
	targetWSE := totalVolume / totalArea

	fromDelta := fromWSE - targetWSE
	toDelta := targetWSE - toWSE
	from.Depth -= fromDelta
	to.Depth += toDelta
	transfer := fromDelta * fromArea
	from.OutVol[Floodplain] += transfer
	to.InVol[Floodplain] += transfer
}

func recordFloodTransfer(c *Cell, n *Node, volume float64) {
	if volume <= 0 {
		return
	}
	c.OutVol[Floodplain] += volume
	n.InVol[Floodplain] += volume
}

// clampDepth clamps a negative depth produced by round-off to zero and
// returns the clamped residual mass.
func clampDepth(depth float64) (clamped, residual float64) {
	return clampNonNegative(depth)
}
