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

import "testing"

func TestHydrologyInterceptionCapsBeforeThroughfall(t *testing.T) {
	h := &Hydrology{Params: HydrologyParams{InterceptionDepth: 0.002}}
	c := &Cell{}
	sinks := h.Step(c, 0.001, 15.0, 1.0) // 1 mm/s for 1s = 0.001 m rain
	if sinks.Interception != 0.001 {
		t.Errorf("Interception = %g, want 0.001 (all of it intercepted)", sinks.Interception)
	}
	if sinks.NetInput != 0 {
		t.Errorf("NetInput = %g, want 0 once interception absorbs everything", sinks.NetInput)
	}
}

func TestHydrologyInterceptionStorageFillsOnce(t *testing.T) {
	h := &Hydrology{Params: HydrologyParams{InterceptionDepth: 0.001}}
	c := &Cell{}
	h.Step(c, 0.001, 15.0, 1.0) // fills canopy storage completely
	sinks := h.Step(c, 0.001, 15.0, 1.0)
	if sinks.Interception != 0 {
		t.Errorf("Interception = %g on the second step, want 0 (canopy already full)", sinks.Interception)
	}
	if sinks.NetInput != 0.001 {
		t.Errorf("NetInput = %g, want all rain to pass through a full canopy", sinks.NetInput)
	}
}

func TestHydrologySnowAccumulatesBelowMeltThreshold(t *testing.T) {
	h := &Hydrology{Params: HydrologyParams{MeltOpt: MeltDegreeDay, MeltTemperature: 0}}
	c := &Cell{}
	sinks := h.Step(c, 0.001, -5.0, 1.0)
	if sinks.SnowAccum <= 0 {
		t.Error("expected snow accumulation below the melt threshold")
	}
	if c.SWE <= 0 {
		t.Error("expected SWE to increase")
	}
	if sinks.NetInput != 0 {
		t.Errorf("NetInput = %g, want 0 (all precipitation became snowpack)", sinks.NetInput)
	}
}

func TestHydrologyDegreeDayMeltBoundedByAvailableSWE(t *testing.T) {
	h := &Hydrology{Params: HydrologyParams{MeltOpt: MeltDegreeDay, MeltTemperature: 0, DegreeDayFactor: 10}}
	c := &Cell{SWE: 0.001}
	sinks := h.Step(c, 0, 5.0, 1.0)
	if sinks.Melt != 0.001 {
		t.Errorf("Melt = %g, want 0.001 (capped at available SWE)", sinks.Melt)
	}
	if c.SWE != 0 {
		t.Errorf("remaining SWE = %g, want 0", c.SWE)
	}
}

func TestHydrologyInfiltrationLimitedByAvailableWater(t *testing.T) {
	soil := &SoilType{SatHydrCond: 1.0, SuctionHead: 0.1, InitDeficit: 0.3}
	h := &Hydrology{Params: HydrologyParams{InfiltrationEnabled: true}}
	c := &Cell{Soil: soil, Depth: 0.0001}
	sinks := h.Step(c, 0, 15.0, 1.0)
	if sinks.Infiltration > 0.0001 {
		t.Errorf("Infiltration = %g, should not exceed available ponded water 0.0001", sinks.Infiltration)
	}
}

func TestHydrologyInfiltrationDisabledIsNoOp(t *testing.T) {
	soil := &SoilType{SatHydrCond: 1.0, SuctionHead: 0.1, InitDeficit: 0.3}
	h := &Hydrology{Params: HydrologyParams{InfiltrationEnabled: false}}
	c := &Cell{Soil: soil, Depth: 1.0}
	sinks := h.Step(c, 0, 15.0, 1.0)
	if sinks.Infiltration != 0 {
		t.Errorf("Infiltration = %g, want 0 when disabled", sinks.Infiltration)
	}
}

func TestTransmissionLossDisabledReturnsZero(t *testing.T) {
	h := &Hydrology{}
	n := &Node{Depth: 1.0}
	if loss := h.TransmissionLoss(n, 10); loss != 0 {
		t.Errorf("TransmissionLoss = %g, want 0 when disabled", loss)
	}
}

func TestTransmissionLossBoundedByDepth(t *testing.T) {
	h := &Hydrology{Params: HydrologyParams{TransmissionLossEnabled: true, TransmissionLossRate: 1.0}}
	n := &Node{Depth: 0.05}
	if loss := h.TransmissionLoss(n, 10); loss != 0.05 {
		t.Errorf("TransmissionLoss = %g, want 0.05 (bounded by available depth)", loss)
	}
}
