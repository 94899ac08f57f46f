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

func TestForcingRainfallRateConvertsUnits(t *testing.T) {
	f := NewForcing(RainUniform, 0, 0)
	s, err := NewSeries("default", []Point{{T: 0, V: 36}, {T: 100, V: 36}}) // 36 mm/hr constant
	if err != nil {
		t.Fatal(err)
	}
	if err := f.RainGages.Add(s); err != nil {
		t.Fatal(err)
	}
	got := f.RainfallRate("default", 10)
	want := 36.0 / (1000.0 * 3600.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("RainfallRate = %g, want %g", got, want)
	}
}

func TestForcingRainfallRateMissingGageIsZero(t *testing.T) {
	f := NewForcing(RainUniform, 0, 0)
	if got := f.RainfallRate("nonexistent", 10); got != 0 {
		t.Errorf("RainfallRate for a missing gage = %g, want 0", got)
	}
}

func TestForcingOutletDepthOutOfRange(t *testing.T) {
	f := NewForcing(RainUniform, 0, 0)
	if got := f.OutletDepth(5, 10); got != 0 {
		t.Errorf("OutletDepth out of range = %g, want 0", got)
	}
}

func TestForcingOutletDepthInterpolates(t *testing.T) {
	f := NewForcing(RainUniform, 0, 0)
	s, err := NewSeries("outlet0", []Point{{T: 0, V: 1}, {T: 10, V: 2}})
	if err != nil {
		t.Fatal(err)
	}
	f.OutletDepthBC = []*Series{s}
	if got := f.OutletDepth(0, 5); got != 1.5 {
		t.Errorf("OutletDepth(0,5) = %g, want 1.5", got)
	}
}
