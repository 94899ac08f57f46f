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

// RainOpt selects how rainfall is distributed across the grid.
type RainOpt int

const (
	RainUniform RainOpt = iota + 1 // 1: single gage applied uniformly
	RainThiessen                   // 2: gage Thiessen polygons
	RainIDW                        // 3: gage inverse-distance weighting
	RainPerCell                    // 4: per-cell time series
)

// DBCOpt selects the boundary condition at a channel outlet.
type DBCOpt int

const (
	// DBCNormalDepth uses the local ground slope as the friction slope at
	// the outlet.
	DBCNormalDepth DBCOpt = iota
	// DBCTimeSeries drives the outlet with a linearly-interpolated water
	// depth time series.
	DBCTimeSeries
)

// PointLoad is an instantaneous point source of water or solids/chemical
// mass injected at a specific cell or node.
type PointLoad struct {
	Row, Col   int // for overland point loads; Link/Node used instead for channel loads
	Link, Node int
	IsChannel  bool
	Series     *Series // flow (m^3/s) or mass rate (g/s) depending on context
}

// Forcing owns every time-series-driven input feeding the hydrology,
// water router, and transport subsystems each step.
type Forcing struct {
	RainGages  *SeriesSet // mm/hr, one series per gage
	SnowGages  *SeriesSet // mm/hr water-equivalent, one series per gage

	OverlandPointFlows []PointLoad // water, m^3/s
	ChannelPointFlows  []PointLoad // water, m^3/s

	// SolidsPointLoads/SolidsDistributedLoads are indexed by solids class.
	SolidsPointLoads       [][]PointLoad // g/s
	SolidsDistributedLoads [][]PointLoad // g/s, spread over a cell footprint

	// ChemPointLoads/ChemDistributedLoads mirror the solids loads per
	// chemical class.
	ChemPointLoads       [][]PointLoad
	ChemDistributedLoads [][]PointLoad

	// OutletDepthBC holds, per outlet index, the time-series BC used when
	// DBCOpt == DBCTimeSeries.
	OutletDepthBC []*Series

	RainOpt RainOpt
}

// NewForcing returns an empty Forcing ready to have series registered.
func NewForcing(rainOpt RainOpt, nSolidsClasses, nChemClasses int) *Forcing {
	return &Forcing{
		RainGages:              NewSeriesSet(),
		SnowGages:               NewSeriesSet(),
		SolidsPointLoads:        make([][]PointLoad, nSolidsClasses),
		SolidsDistributedLoads:  make([][]PointLoad, nSolidsClasses),
		ChemPointLoads:          make([][]PointLoad, nChemClasses),
		ChemDistributedLoads:    make([][]PointLoad, nChemClasses),
		RainOpt:                 rainOpt,
	}
}

// RainfallRate returns the rainfall intensity (m/s) of the named gage at
// simtime, converted from mm/hr, or 0 if no gage has that name. RainOpt
// is not consulted: no Thiessen/IDW spatial weighting or per-cell series
// selection is done here.
func (f *Forcing) RainfallRate(gageName string, simtime float64) float64 {
	const mmPerHourToMPerSecond = 1.0 / (1000.0 * 3600.0)
	s := f.RainGages.Get(gageName)
	if s == nil {
		return 0
	}
	return s.Value(simtime) * mmPerHourToMPerSecond
}

// SnowfallRate returns the snow water-equivalent accumulation rate (m/s)
// for the named gage at simtime.
func (f *Forcing) SnowfallRate(gageName string, simtime float64) float64 {
	const mmPerHourToMPerSecond = 1.0 / (1000.0 * 3600.0)
	s := f.SnowGages.Get(gageName)
	if s == nil {
		return 0
	}
	return s.Value(simtime) * mmPerHourToMPerSecond
}

// OutletDepth returns the depth BC value at simtime for the given outlet
// index, used when DBCOpt == DBCTimeSeries.
func (f *Forcing) OutletDepth(outletIdx int, simtime float64) float64 {
	if outletIdx < 0 || outletIdx >= len(f.OutletDepthBC) || f.OutletDepthBC[outletIdx] == nil {
		return 0
	}
	return f.OutletDepthBC[outletIdx].Value(simtime)
}
