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

// Package trexutil is the ambient configuration and CLI layer for the trex
// watershed engine: it reads a TOML config file (with CLI-flag and
// environment-variable overrides) via viper, converts it into a
// trex.Config, and runs the resulting Simulation. The seam between this
// package and the domain engine is trex.NewSimulationFromConfig; trexutil
// never touches Simulation internals directly.
package trexutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/WatershedModels/TREX-sub005"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"
)

// toIntSliceE converts a viper-returned interface{} into a []int,
// tolerating the mixed element types the TOML decoder can produce. Used
// for the per-outlet DBCOpt list.
func toIntSliceE(v interface{}) ([]int, error) {
	if v == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(s))
	for i, x := range s {
		n, err := cast.ToIntE(x)
		if err != nil {
			return nil, fmt.Errorf("element %d: %v", i, err)
		}
		out[i] = n
	}
	return out, nil
}

// toFloatSliceE converts a viper-returned interface{} into a []float64.
func toFloatSliceE(v interface{}) ([]float64, error) {
	if v == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(s))
	for i, x := range s {
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return nil, fmt.Errorf("element %d: %v", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// checkOutputFile fills in a default and expands environment variables
// in an output path.
func checkOutputFile(f, defaultName string) string {
	if f == "" {
		f = defaultName
	}
	return os.ExpandEnv(f)
}

// ksimFromString maps the TOML/flag string value of KSim to the typed
// option.
func ksimFromString(s string) (trex.KSimOpt, error) {
	switch strings.ToLower(s) {
	case "", "hydrology":
		return trex.KSimHydrology, nil
	case "solids":
		return trex.KSimSolids, nil
	case "chemical":
		return trex.KSimChemical, nil
	default:
		return 0, fmt.Errorf("KSim must be one of hydrology, solids, chemical; got %q", s)
	}
}

func dtOptFromString(s string) (trex.DTOpt, error) {
	switch strings.ToLower(s) {
	case "", "fixed":
		return trex.DTFixed, nil
	case "courant":
		return trex.DTCourant, nil
	case "hybrid":
		return trex.DTHybrid, nil
	default:
		return 0, fmt.Errorf("DTOpt must be one of fixed, courant, hybrid; got %q", s)
	}
}

func meltOptFromString(s string) (trex.MeltOpt, error) {
	switch strings.ToLower(s) {
	case "", "disabled", "none":
		return trex.MeltDisabled, nil
	case "degreeday":
		return trex.MeltDegreeDay, nil
	default:
		return 0, fmt.Errorf("MeltOpt must be one of disabled, degreeday; got %q", s)
	}
}

func floodOptFromString(s string) (trex.FloodOpt, error) {
	switch strings.ToLower(s) {
	case "", "unidirectional":
		return trex.FloodUnidirectional, nil
	case "bidirectional":
		return trex.FloodBidirectional, nil
	default:
		return 0, fmt.Errorf("FldOpt must be one of unidirectional, bidirectional; got %q", s)
	}
}

func outOptFromString(s string) (trex.OutOpt, error) {
	switch strings.ToLower(s) {
	case "", "channelonly":
		return trex.OutChannelOnly, nil
	case "combined":
		return trex.OutBoth, nil
	default:
		return 0, fmt.Errorf("OutOpt must be one of channelonly, combined; got %q", s)
	}
}

func rainOptFromString(s string) (trex.RainOpt, error) {
	switch strings.ToLower(s) {
	case "", "uniform":
		return trex.RainUniform, nil
	case "thiessen":
		return trex.RainThiessen, nil
	case "idw":
		return trex.RainIDW, nil
	case "percell":
		return trex.RainPerCell, nil
	default:
		return 0, fmt.Errorf("RainOpt must be one of uniform, thiessen, idw, percell; got %q", s)
	}
}

// solidsClasses reads the [[Solids]] TOML tables into typed SolidsClass
// values, coercing each field through cast.
func solidsClasses(v interface{}) ([]trex.SolidsClass, error) {
	if v == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]trex.SolidsClass, len(s))
	for i, x := range s {
		m, err := cast.ToStringMapE(x)
		if err != nil {
			return nil, fmt.Errorf("Solids[%d]: %v", i, err)
		}
		out[i] = trex.SolidsClass{
			Name:             cast.ToString(m["Name"]),
			GrainDiameter:    cast.ToFloat64(m["GrainDiameter"]),
			ParticleDensity:  cast.ToFloat64(m["ParticleDensity"]),
			SettlingVelocity: cast.ToFloat64(m["SettlingVelocity"]),
			CriticalVelocity: cast.ToFloat64(m["CriticalVelocity"]),
		}
	}
	return out, nil
}

// chemicalClasses reads the [[Chemicals]] TOML tables into typed
// ChemicalClass values.
func chemicalClasses(v interface{}) ([]trex.ChemicalClass, error) {
	if v == nil {
		return nil, nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]trex.ChemicalClass, len(s))
	for i, x := range s {
		m, err := cast.ToStringMapE(x)
		if err != nil {
			return nil, fmt.Errorf("Chemicals[%d]: %v", i, err)
		}
		partition, err := toFloatSliceE(m["PartitionCoeff"])
		if err != nil {
			return nil, fmt.Errorf("Chemicals[%d].PartitionCoeff: %v", i, err)
		}
		out[i] = trex.ChemicalClass{
			Name:           cast.ToString(m["Name"]),
			PartitionCoeff: partition,
			BiolysisRate:   cast.ToFloat64(m["BiolysisRate"]),
			HydrolysisRate: cast.ToFloat64(m["HydrolysisRate"]),
			OxidationRate:  cast.ToFloat64(m["OxidationRate"]),
			PhotolysisRate: cast.ToFloat64(m["PhotolysisRate"]),
			RadiolysisRate: cast.ToFloat64(m["RadiolysisRate"]),
			VolatilizeRate: cast.ToFloat64(m["VolatilizeRate"]),
			PorewaterExVel: cast.ToFloat64(m["PorewaterExVel"]),
			UserExpr:       cast.ToString(m["UserExpr"]),
		}
	}
	return out, nil
}

// RunConfig builds a trex.Config from the bound viper settings: a flat,
// dotted-key settings tree read into a single typed struct, with explicit
// validation of the fields that must be present. It deliberately does not
// load the Grid or Network here: those are built from the ESRI-ASCII and
// link/node files named in the config via trex.NewGridIO/NewLinkIO by the
// caller (cmd.go's buildSimulation), keeping config parsing separate from the
// heavier file-reading steps that precede a run.
func RunConfig(v *viper.Viper) (*trex.Config, error) {
	ksim, err := ksimFromString(v.GetString("KSim"))
	if err != nil {
		return nil, err
	}
	dtOpt, err := dtOptFromString(v.GetString("DTOpt"))
	if err != nil {
		return nil, err
	}
	meltOpt, err := meltOptFromString(v.GetString("MeltOpt"))
	if err != nil {
		return nil, err
	}
	fldOpt, err := floodOptFromString(v.GetString("FldOpt"))
	if err != nil {
		return nil, err
	}
	outOpt, err := outOptFromString(v.GetString("OutOpt"))
	if err != nil {
		return nil, err
	}
	rainOpt, err := rainOptFromString(v.GetString("RainOpt"))
	if err != nil {
		return nil, err
	}

	solids, err := solidsClasses(v.Get("Solids"))
	if err != nil {
		return nil, fmt.Errorf("Solids: %v", err)
	}
	chems, err := chemicalClasses(v.Get("Chemicals"))
	if err != nil {
		return nil, fmt.Errorf("Chemicals: %v", err)
	}

	dbcInts, err := toIntSliceE(v.Get("DBCOpt"))
	if err != nil {
		return nil, fmt.Errorf("DBCOpt: %v", err)
	}
	dbcOpts := make([]trex.DBCOpt, len(dbcInts))
	for i, d := range dbcInts {
		if d != 0 && d != 1 {
			return nil, fmt.Errorf("DBCOpt[%d] must be 0 (normal depth) or 1 (time series), got %d", i, d)
		}
		dbcOpts[i] = trex.DBCOpt(d)
	}

	breakTimes, err := toFloatSliceE(v.Get("DTTable.BreakTimes"))
	if err != nil {
		return nil, fmt.Errorf("DTTable.BreakTimes: %v", err)
	}
	dtValues, err := toFloatSliceE(v.Get("DTTable.DT"))
	if err != nil {
		return nil, fmt.Errorf("DTTable.DT: %v", err)
	}
	if len(breakTimes) != len(dtValues) {
		return nil, fmt.Errorf("DTTable.BreakTimes and DTTable.DT must be the same length; %d != %d", len(breakTimes), len(dtValues))
	}

	tEnd := v.GetFloat64("TEnd")
	if !(tEnd > 0) {
		return nil, fmt.Errorf("TEnd must be >0, got %g", tEnd)
	}

	chnOpt := trex.ChnDisabled
	if v.GetBool("ChnOpt") {
		chnOpt = trex.ChnEnabled
	}

	cfg := &trex.Config{
		KSim:                 ksim,
		TEnd:                 tEnd,
		DTOpt:                dtOpt,
		DTTable:              trex.TimeStepTable{BreakTimes: breakTimes, DT: dtValues},
		CourantMax:           v.GetFloat64("CourantMax"),
		DTSigFigs:            v.GetInt("DTSigFigs"),
		InfOpt:               v.GetBool("InfOpt"),
		MeltOpt:              meltOpt,
		CtlOpt:               v.GetBool("CtlOpt"),
		DegreeDayFactor:      v.GetFloat64("DegreeDayFactor"),
		MeltTemperature:      v.GetFloat64("MeltTemperature"),
		TransmissionLossRate: v.GetFloat64("TransmissionLossRate"),
		InterceptionDepth:    v.GetFloat64("InterceptionDepth"),
		ChnOpt:               chnOpt,
		FldOpt:               fldOpt,
		OutOpt:               outOpt,
		SedUnitsOpt:          v.GetStringSlice("SedUnitsOpt"),
		SolidsBeta:           v.GetFloat64("SolidsBeta"),
		SolidsGamma:          v.GetFloat64("SolidsGamma"),
		Solids:               solids,
		Chemicals:            chems,
		AmbientTemp:          v.GetFloat64("AmbientTemp"),
		AirTemp:              v.GetFloat64("AirTemp"),
		RainOpt:              rainOpt,
		DBCOpt:               dbcOpts,
	}
	if cfg.DTSigFigs == 0 {
		cfg.DTSigFigs = 1
	}
	return cfg, nil
}
