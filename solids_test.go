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
	"testing"
)

func TestRecomputeWaterTSSMaintainsInvariant(t *testing.T) {
	c := []float64{0, 3, 4, 5}
	recomputeWaterTSS(c)
	if c[0] != 12 {
		t.Errorf("c[0] = %g, want 12", c[0])
	}
}

func TestAddRemoveConcentrationRoundTrip(t *testing.T) {
	c := &Cell{Depth: 1, CWater: []float64{0, 0, 0}}
	area := 100.0
	addConcentration(c, 0, 100, area) // class 0 -> CWater[1]
	if c.CWater[1] != 1 {
		t.Errorf("CWater[1] = %g, want 1 g/m^3 (100g / (1m*100m^2))", c.CWater[1])
	}
	if c.CWater[0] != c.CWater[1]+c.CWater[2] {
		t.Error("TSS invariant violated after addConcentration")
	}
	removeConcentration(c, 0, 100, area)
	if c.CWater[1] != 0 {
		t.Errorf("CWater[1] = %g, want 0 after removing all added mass", c.CWater[1])
	}
}

func TestRemoveConcentrationClampsAtZero(t *testing.T) {
	c := &Cell{Depth: 1, CWater: []float64{0, 1, 0}}
	removeConcentration(c, 0, 1000, 1.0) // far more than available
	if c.CWater[1] < 0 {
		t.Errorf("CWater[1] = %g, should never go negative", c.CWater[1])
	}
}

func TestDStarPositiveForPositiveInputs(t *testing.T) {
	cls := SolidsClass{GrainDiameter: 0.0002, ParticleDensity: 2.65}
	if d := cls.dStar(); d <= 0 {
		t.Errorf("dStar() = %g, want > 0", d)
	}
}

func TestTotalTransportCapacityZeroBelowCritical(t *testing.T) {
	if got := totalTransportCapacity(1, -0.1, 0.01, 2.0, 1.3); got != 0 {
		t.Errorf("totalTransportCapacity with qExcess<0 = %g, want 0", got)
	}
	if got := totalTransportCapacity(1, 0.1, 0, 2.0, 1.3); got != 0 {
		t.Errorf("totalTransportCapacity with zero friction slope = %g, want 0", got)
	}
}

func TestTotalTransportCapacityPositive(t *testing.T) {
	got := totalTransportCapacity(2, 0.1, 0.01, 1.5, 1.0)
	if got <= 0 {
		t.Errorf("totalTransportCapacity = %g, want > 0", got)
	}
}

func newSolidsTestCell(conc float64) *Cell {
	c := &Cell{
		Row: 0, Col: 0, Mask: Overland, Depth: 1.0,
		LandUse: &LandUse{ManningN: 0.03, KTC: 0.1, CUSLE: 1, PUSLE: 1, TCWExp: 1},
		Soil:    &SoilType{KUSLE: 0.3},
		CWater:  []float64{conc, conc},
	}
	c.Stack = NewStack(4, 2)
	c.Stack.NStack = 1
	c.Stack.Layers[0] = Layer{State: Surface, Volume: 10, MinVolume: 0, MaxVolume: 1e9, GroundArea: 100, Conc: []float64{50, 50}}
	return c
}

func TestSolidsStepSkippedWithNoClasses(t *testing.T) {
	s := newTestSimulation()
	if err := s.Solids.Step(s); err != nil {
		t.Fatalf("Step with no classes should be a no-op, got error: %v", err)
	}
}

func TestSolidsStepAdvectsDownstreamCell(t *testing.T) {
	g := newTestGrid(1, 2)
	s := NewSimulation(g, nil, 1, 0)
	s.DT = 1.0

	donor := g.At(0, 0)
	receiver := g.At(0, 1)
	*donor = *newSolidsTestCell(10)
	donor.Row, donor.Col = 0, 0
	*receiver = *newSolidsTestCell(0)
	receiver.Row, receiver.Col = 0, 1
	donor.QOut[cardinalIndex(East)] = 1.0 // m^3/s out to the east

	s.Solids = SolidsParams{Classes: []SolidsClass{{GrainDiameter: 0.0002, ParticleDensity: 2.65, SettlingVelocity: 0}}}
	if err := s.Solids.Step(s); err != nil {
		t.Fatalf("Step error: %v", err)
	}

	if receiver.CWater[1] <= 0 {
		t.Errorf("expected the downstream cell to gain suspended mass, CWater[1] = %g", receiver.CWater[1])
	}
	if donor.CWater[1] >= 10 {
		t.Errorf("expected the donor cell to lose suspended mass, CWater[1] = %g", donor.CWater[1])
	}
}

func TestChannelTransportCapacityZeroBelowCriticalVelocity(t *testing.T) {
	sp := &SolidsParams{Classes: []SolidsClass{{CriticalVelocity: 100, GrainDiameter: 0.001, ParticleDensity: 2.65}}}
	n := &Node{BottomWidth: 2, SideSlope: 1, BankHeight: 2, Depth: 0.5, QOut: 0.01}
	caps := sp.channelTransportCapacity(n)
	if caps[0] != 0 {
		t.Errorf("expected zero capacity below critical velocity, got %g", caps[0])
	}
}

func TestAddLayerMassRecomputesTSS(t *testing.T) {
	l := &Layer{Volume: 10, Conc: []float64{0, 0, 0}}
	addLayerMass(l, 0, 50)
	if l.Conc[1] != 5 {
		t.Errorf("Conc[1] = %g, want 5 (50g/10m^3)", l.Conc[1])
	}
	if l.Conc[0] != l.Conc[1]+l.Conc[2] {
		t.Error("TSS invariant violated after addLayerMass")
	}
}

func TestRemoveLayerMassClampsAtZero(t *testing.T) {
	l := &Layer{Volume: 10, Conc: []float64{5, 5, 0}}
	removeLayerMass(l, 0, 1000)
	if l.Conc[1] < 0 {
		t.Errorf("Conc[1] = %g, should never go negative", l.Conc[1])
	}
}

func TestDStarMonotoneInGrainDiameter(t *testing.T) {
	small := SolidsClass{GrainDiameter: 0.0001, ParticleDensity: 2.65}
	large := SolidsClass{GrainDiameter: 0.001, ParticleDensity: 2.65}
	if small.dStar() >= large.dStar() {
		t.Errorf("dStar should increase with grain diameter: small=%g large=%g", small.dStar(), large.dStar())
	}
}

func TestOverlandTransportCapacitySharesSumToTotal(t *testing.T) {
	sp := &SolidsParams{
		Classes: []SolidsClass{
			{GrainDiameter: 0.0001, ParticleDensity: 2.65},
			{GrainDiameter: 0.0005, ParticleDensity: 2.65},
		},
		Beta: 1.5, Gamma: 1.0,
	}
	c := newSolidsTestCell(0)
	c.QOut[cardinalIndex(North)] = 1.0
	c.FrictionSlope[cardinalIndex(North)] = 0.01
	shares := sp.overlandTransportCapacity(c, 10)
	if len(shares) != 2 {
		t.Fatalf("len(shares) = %d, want 2", len(shares))
	}
	if math.IsNaN(shares[0]) || math.IsNaN(shares[1]) {
		t.Error("shares should not be NaN")
	}
}
