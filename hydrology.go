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

// MeltOpt selects whether degree-day snowmelt is active.
type MeltOpt int

const (
	MeltDisabled MeltOpt = iota
	MeltDegreeDay
)

// HydrologyParams holds the run-wide parameters for interception,
// infiltration, snowmelt, and channel transmission loss.
type HydrologyParams struct {
	InfiltrationEnabled bool
	MeltOpt             MeltOpt
	DegreeDayFactor     float64 // m/s per degree C, used when MeltOpt == MeltDegreeDay
	MeltTemperature     float64 // degrees C, air temperature threshold for melt
	TransmissionLossEnabled bool
	TransmissionLossRate    float64 // m/s, channel-bed seepage loss rate when enabled
	InterceptionDepth       float64 // m, canopy interception storage depth
	AirTemp                 float64 // degrees C, run-wide air temperature for the degree-day melt model
}

// CellSinks bundles the per-step hydrology sinks/sources computed for one
// cell, consumed by the water router as additions/subtractions to depth.
type CellSinks struct {
	Rainfall      float64 // m, gross rainfall depth this step
	SnowAccum     float64 // m SWE, gross snow accumulation this step
	Melt          float64 // m, liquid water released by snowmelt this step
	Interception  float64 // m, intercepted (removed from available rainfall)
	Infiltration  float64 // m, infiltrated this step
	NetInput      float64 // m, net water depth added to the overland plane this step
}

// Hydrology computes interception, infiltration, snowmelt and channel
// transmission loss for a step.
type Hydrology struct {
	Params HydrologyParams
}

// Step computes the per-cell water balance terms for dt seconds, given the
// rainfall rate (m/s) and air temperature (degrees C) applicable to the
// cell, and updates the cell's SWE and infiltration state in place.
func (h *Hydrology) Step(c *Cell, rainRate, airTemp, dt float64) CellSinks {
	var sinks CellSinks

	grossRain := rainRate * dt
	sinks.Rainfall = grossRain

	// Interception: fill the cell's remaining canopy storage first, up to
	// InterceptionDepth, before any water reaches the ground.
	interceptCapacity := math.Max(0, h.Params.InterceptionDepth-c.CanopyStorage)
	intercepted := math.Min(grossRain, interceptCapacity)
	c.CanopyStorage += intercepted
	sinks.Interception = intercepted
	throughfall := grossRain - intercepted

	// Snowmelt (degree-day method): if melt is enabled and air temperature
	// exceeds the melt threshold, release liquid water from the snowpack
	// at DegreeDayFactor * (T - Tmelt), bounded by available SWE.
	if h.Params.MeltOpt == MeltDegreeDay && airTemp > h.Params.MeltTemperature {
		potentialMelt := h.Params.DegreeDayFactor * (airTemp - h.Params.MeltTemperature) * dt
		melt := math.Min(potentialMelt, c.SWE)
		c.SWE -= melt
		sinks.Melt = melt
	}

	// Snow accumulation: if at or below melt threshold, any throughfall is
	// added to SWE instead of reaching the overland plane as liquid.
	var liquidInput float64
	if h.Params.MeltOpt != MeltDisabled && airTemp <= h.Params.MeltTemperature {
		c.SWE += throughfall
		sinks.SnowAccum = throughfall
		liquidInput = sinks.Melt
	} else {
		liquidInput = throughfall + sinks.Melt
	}

	// Green-Ampt infiltration: infiltration rate f = Ks*(1 + (suction *
	// deficit) / F), where F is cumulative infiltration depth. Infiltration
	// is limited by available ponded water.
	var infiltration float64
	if h.Params.InfiltrationEnabled && c.Soil != nil && liquidInput+c.Depth > 0 {
		Ks := c.Soil.SatHydrCond
		F := math.Max(c.CumInfiltration, 1e-6)
		rate := Ks * (1 + (c.Soil.SuctionHead*c.Soil.InitDeficit)/F)
		potential := rate * dt
		available := liquidInput + c.Depth
		infiltration = math.Min(potential, available)
		c.CumInfiltration += infiltration
	}
	sinks.Infiltration = infiltration

	sinks.NetInput = liquidInput - infiltration
	return sinks
}

// TransmissionLoss returns the channel-bed seepage loss (m) for node n
// over dt seconds, bounded by the node's available water depth.
func (h *Hydrology) TransmissionLoss(n *Node, dt float64) float64 {
	if !h.Params.TransmissionLossEnabled {
		return 0
	}
	potential := h.Params.TransmissionLossRate * dt
	return math.Min(potential, n.Depth)
}
