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

import "fmt"

// KSimOpt selects what the run simulates, gating which pipeline stages are
// active.
type KSimOpt int

const (
	// KSimHydrology runs hydrology and water routing only.
	KSimHydrology KSimOpt = iota + 1
	// KSimSolids additionally runs solids transport.
	KSimSolids
	// KSimChemical additionally runs chemical transport (implies solids).
	KSimChemical
)

// ChnOpt selects whether the channel network is active at all.
type ChnOpt int

const (
	ChnDisabled ChnOpt = iota
	ChnEnabled
)

// Config is the run-wide option set a caller assembles before building a
// Simulation: the Group A-E control-file switches (simulation control,
// hydrology, channel, solids, chemical), plus the scheduler and forcing
// parameters every group shares. A single flat struct that viper/cast
// populate from a config file and CLI flags, which every subsystem then
// reads a narrow view of.
type Config struct {
	// Group A: simulation control.
	KSim     KSimOpt
	TEnd     float64 // s
	DTOpt    DTOpt
	DTTable  TimeStepTable
	CourantMax float64
	DTSigFigs  int

	// Group B: hydrology.
	InfOpt   bool // infopt: infiltration enabled
	MeltOpt  MeltOpt
	CtlOpt   bool // ctlopt: channel transmission loss enabled
	DegreeDayFactor float64
	MeltTemperature float64
	TransmissionLossRate float64
	InterceptionDepth    float64

	// Group C: channel/floodplain.
	ChnOpt   ChnOpt
	FldOpt   FloodOpt
	OutOpt   OutOpt

	// Group D: solids.
	SedUnitsOpt []string // per-class reporting units, informational only
	SolidsBeta, SolidsGamma float64
	Solids  []SolidsClass

	// Group E: chemical.
	Chemicals []ChemicalClass
	AmbientTemp float64

	// AirTemp is the air temperature (degrees C) driving snowmelt and
	// snow accumulation when no temperature series is supplied.
	AirTemp float64

	// Forcing.
	RainOpt RainOpt
	DBCOpt  []DBCOpt // per-outlet boundary condition selector

	Grid    *Grid
	Network *Network
}

// NewSimulationFromConfig wires a parsed Config into a ready-to-run
// Simulation, binding each Group's option directly to the subsystem params
// struct it governs. This is the single seam between the ambient
// config/CLI layer (trexutil) and the domain engine: trexutil never
// constructs a Simulation's internals directly.
func NewSimulationFromConfig(cfg *Config) (*Simulation, error) {
	if cfg.Grid == nil {
		return nil, errMissingGrid
	}
	var net *Network
	if cfg.ChnOpt == ChnEnabled {
		net = cfg.Network
	}

	nSolids := len(cfg.Solids)
	nChem := 0
	if cfg.KSim == KSimChemical {
		nChem = len(cfg.Chemicals)
	}
	if cfg.KSim == KSimHydrology {
		nSolids = 0
	}

	s := NewSimulation(cfg.Grid, net, nSolids, nChem)
	s.Forcing = NewForcing(cfg.RainOpt, nSolids, nChem)
	s.Hydro.Params = HydrologyParams{
		InfiltrationEnabled:     cfg.InfOpt,
		MeltOpt:                 cfg.MeltOpt,
		DegreeDayFactor:         cfg.DegreeDayFactor,
		MeltTemperature:         cfg.MeltTemperature,
		TransmissionLossEnabled: cfg.CtlOpt,
		TransmissionLossRate:    cfg.TransmissionLossRate,
		InterceptionDepth:       cfg.InterceptionDepth,
		AirTemp:                 cfg.AirTemp,
	}
	s.Water = WaterRouterParams{FloodOpt: cfg.FldOpt, OutOpt: cfg.OutOpt}
	s.Sched = SchedulerParams{
		DTOpt:      cfg.DTOpt,
		Table:      cfg.DTTable,
		CourantMax: cfg.CourantMax,
		SigFigs:    cfg.DTSigFigs,
		TEnd:       cfg.TEnd,
	}

	if nSolids > 0 {
		s.Solids = SolidsParams{Classes: cfg.Solids, Beta: cfg.SolidsBeta, Gamma: cfg.SolidsGamma}
	}
	if nChem > 0 {
		s.Chem = ChemicalParams{Classes: cfg.Chemicals, Temp: cfg.AmbientTemp}
	}

	// Per-outlet boundary-condition selection: DBCOpt[i] applies to the
	// i-th outlet in (link, node) order, matching the order outlets were
	// indexed by NewSimulation.
	if net != nil && len(cfg.DBCOpt) > 0 {
		net.ForEachNode(func(link, j int, n *Node) {
			if !n.IsOutlet {
				return
			}
			idx := s.outletIndex[n]
			if idx < len(cfg.DBCOpt) {
				n.DBCOpt = int(cfg.DBCOpt[idx])
			}
		})
	}

	return s, nil
}

var errMissingGrid error = cellErr(ErrInput, -1, -1, 0, fmt.Errorf("trex: config has no grid"))
