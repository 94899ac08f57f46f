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

func TestChemicalClassCompileEmptyExprIsNil(t *testing.T) {
	cc := &ChemicalClass{}
	expr, err := cc.compile()
	if err != nil {
		t.Fatalf("compile() error: %v", err)
	}
	if expr != nil {
		t.Error("expected a nil expression when UserExpr is empty")
	}
}

func TestChemicalClassCompileCachesExpression(t *testing.T) {
	cc := &ChemicalClass{UserExpr: "conc * 0.1"}
	e1, err := cc.compile()
	if err != nil {
		t.Fatalf("compile() error: %v", err)
	}
	e2, err := cc.compile()
	if err != nil {
		t.Fatalf("compile() error (second call): %v", err)
	}
	if e1 != e2 {
		t.Error("expected compile() to reuse the cached expression")
	}
}

func TestChemicalClassCompileRejectsInvalidExpr(t *testing.T) {
	cc := &ChemicalClass{UserExpr: "conc *** 0.1"}
	if _, err := cc.compile(); err == nil {
		t.Error("expected an error compiling an invalid expression")
	}
}

func TestUserDefinedRateEvaluatesExpression(t *testing.T) {
	cc := &ChemicalClass{UserExpr: "conc * 2"}
	rate, err := cc.userDefinedRate(5, 0, 15)
	if err != nil {
		t.Fatalf("userDefinedRate error: %v", err)
	}
	if rate != 10 {
		t.Errorf("userDefinedRate = %g, want 10", rate)
	}
}

func TestAddRemoveChemConcentrationRoundTrip(t *testing.T) {
	c := &Cell{Depth: 1, CChemWater: []float64{0}}
	addChemConcentration(c, 0, 50, 100)
	if c.CChemWater[0] != 0.5 {
		t.Errorf("CChemWater[0] = %g, want 0.5", c.CChemWater[0])
	}
	removeChemConcentration(c, 0, 50, 100)
	if c.CChemWater[0] != 0 {
		t.Errorf("CChemWater[0] = %g, want 0", c.CChemWater[0])
	}
}

func TestRemoveChemConcentrationClampsAtZero(t *testing.T) {
	c := &Cell{Depth: 1, CChemWater: []float64{0.1}}
	removeChemConcentration(c, 0, 1000, 1.0)
	if c.CChemWater[0] < 0 {
		t.Errorf("CChemWater[0] = %g, should never go negative", c.CChemWater[0])
	}
}

func TestChemicalStepSkippedWithNoClasses(t *testing.T) {
	s := newTestSimulation()
	if err := s.Chem.Step(s); err != nil {
		t.Fatalf("Step with no classes should be a no-op, got error: %v", err)
	}
}

func TestChemicalStepAdvectsDownstreamCell(t *testing.T) {
	g := newTestGrid(1, 2)
	s := NewSimulation(g, nil, 0, 1)
	s.DT = 1.0

	donor := g.At(0, 0)
	receiver := g.At(0, 1)
	donor.Depth, receiver.Depth = 1, 1
	donor.CChemWater = []float64{5}
	receiver.CChemWater = []float64{0}
	donor.QOut[cardinalIndex(East)] = 1.0

	s.Chem = ChemicalParams{Classes: []ChemicalClass{{Name: "tracer"}}}
	if err := s.Chem.Step(s); err != nil {
		t.Fatalf("Step error: %v", err)
	}

	if receiver.CChemWater[0] <= 0 {
		t.Errorf("expected the downstream cell to gain chemical mass, got %g", receiver.CChemWater[0])
	}
	if donor.CChemWater[0] >= 5 {
		t.Errorf("expected the donor cell to lose chemical mass, got %g", donor.CChemWater[0])
	}
}

func TestPartitionAndTransformAppliesFirstOrderLoss(t *testing.T) {
	g := newTestGrid(1, 1)
	s := NewSimulation(g, nil, 0, 1)
	s.DT = 1.0
	c := g.At(0, 0)
	c.Depth = 1
	c.CChemWater = []float64{10}

	cls := ChemicalClass{Name: "decaying", BiolysisRate: 0.1}
	s.Chem = ChemicalParams{Classes: []ChemicalClass{cls}}
	s.Chem.InitChemicalState(g, nil)

	cellArea := g.CellSize * g.CellSize
	s.Chem.partitionAndTransform(s, c, 0, &s.Chem.Classes[0], cellArea, s.DT)

	if c.CChemWater[0] >= 10 {
		t.Errorf("expected biolysis to reduce concentration, got %g", c.CChemWater[0])
	}
	reg := s.Chem.transformReg(0, 0)
	if reg.Biolysis <= 0 {
		t.Errorf("expected a positive cumulative biolysis mass, got %g", reg.Biolysis)
	}
}
