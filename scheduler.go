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
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DTOpt selects how the time step is chosen each iteration.
type DTOpt int

const (
	// DTFixed uses the tabulated dt-vs-time table with no adaptation.
	DTFixed DTOpt = iota
	// DTCourant adapts dt every step so the larger of the overland and
	// channel Courant numbers falls at or below CourantMax.
	DTCourant
	// DTHybrid adapts within the bounds given by the dt table.
	DTHybrid
)

// TimeStepTable is a sorted set of (breakTime, dt) pairs used directly by
// DTFixed and as bounds by DTHybrid.
type TimeStepTable struct {
	BreakTimes []float64
	DT         []float64
}

// valueAt returns the tabulated dt in effect at simtime (the last entry
// whose break time is <= simtime).
func (t *TimeStepTable) valueAt(simtime float64) float64 {
	if len(t.DT) == 0 {
		return 0
	}
	dt := t.DT[0]
	for i, bt := range t.BreakTimes {
		if bt > simtime {
			break
		}
		dt = t.DT[i]
	}
	return dt
}

// SchedulerParams holds the run-wide time-stepping configuration.
type SchedulerParams struct {
	DTOpt         DTOpt
	Table         TimeStepTable
	CourantMax    float64 // ceiling for the larger of C_ov, C_ch
	SigFigs       int     // significant digits dt is rounded down to (default 1)
	TEnd          float64
	PrintInterval float64 // simtime interval between periodic reports
}

// roundDownSigFigs truncates v to n significant figures, rounding toward
// zero, so adaptive-dt drift from tiny adjustments is avoided.
func roundDownSigFigs(v float64, n int) float64 {
	if v <= 0 || n <= 0 {
		return v
	}
	mag := math.Floor(math.Log10(v))
	scale := math.Pow(10, mag-float64(n-1))
	return math.Floor(v/scale) * scale
}

// Simulation owns every piece of state needed to drive one run: the grid,
// the channel network, forcing, hydrology, solids/chemical transport
// configuration, the scheduler parameters, and the mass-balance recorder.
// Components borrow scoped views of it during their turn in the pipeline;
// nothing simulation-wide lives outside this struct.
type Simulation struct {
	Grid    *Grid
	Network *Network
	Forcing *Forcing
	Hydro   Hydrology
	Water   WaterRouterParams
	Solids  SolidsParams
	Chem    ChemicalParams
	Sched   SchedulerParams

	SimTime float64
	DT      float64
	reverse bool // overland sweep direction toggle
	step    int

	Balance MassBalance

	// outletIndex maps a channel outlet node to its index into
	// Forcing.OutletDepthBC / the mass-balance outlet registers.
	outletIndex map[*Node]int

	Log *logrus.Logger
}

// NewSimulation builds a Simulation ready to run once its Grid, Network,
// Forcing, and parameter structs are populated by the caller (a config
// loader or test fixture).
func NewSimulation(g *Grid, net *Network, nSolids, nChem int) *Simulation {
	s := &Simulation{
		Grid:        g,
		Network:     net,
		Balance:     NewMassBalance(nSolids, nChem),
		outletIndex: make(map[*Node]int),
		Log:         logrus.New(),
	}
	if net != nil {
		idx := 0
		net.ForEachNode(func(link, j int, n *Node) {
			if n.IsOutlet {
				s.outletIndex[n] = idx
				idx++
			}
		})
	}
	return s
}

// StepFunc is one stage of the per-step pipeline: a composable unit that
// mutates the Simulation and can fail fatally.
type StepFunc func(*Simulation) error

// Pipeline returns the fixed, strictly ordered per-step sequence: forcing
// update, hydrology, point-load injection, overland routing, channel
// routing, floodplain transfer, solids transport, chemical transport.
// Encoding the sequence as one slice of StepFunc rather than components
// calling each other keeps the water/channel floodplain coupling a plain,
// inspectable pipeline with no mutual calls.
func (s *Simulation) Pipeline() []StepFunc {
	return []StepFunc{
		(*Simulation).updateForcing,
		(*Simulation).stepHydrology,
		(*Simulation).applyPointLoads,
		(*Simulation).stepWater,
		(*Simulation).stepSolids,
		(*Simulation).stepChemical,
	}
}

func (s *Simulation) updateForcing() error {
	if s.Forcing != nil && s.Forcing.RainGages != nil {
		s.Forcing.RainGages.Update(s.SimTime)
	}
	if s.Forcing != nil && s.Forcing.SnowGages != nil {
		s.Forcing.SnowGages.Update(s.SimTime)
	}
	return nil
}

func (s *Simulation) stepHydrology() error {
	var stepErr error
	area := s.Grid.CellSize * s.Grid.CellSize
	airTemp := s.Hydro.Params.AirTemp
	s.Grid.ActiveCells(func(row, col int, c *Cell) {
		if stepErr != nil {
			return
		}
		rainRate, snowRate := 0.0, 0.0
		if s.Forcing != nil {
			rainRate = s.Forcing.RainfallRate("default", s.SimTime)
			snowRate = s.Forcing.SnowfallRate("default", s.SimTime)
		}
		c.SWE += snowRate * s.DT
		sinks := s.Hydro.Step(c, rainRate, airTemp, s.DT)
		c.Depth += sinks.NetInput
		// The hydrology source/sink volumes land in the point-source
		// register slot so the mass-balance report can close over rain
		// and infiltration.
		liquidIn := sinks.NetInput + sinks.Infiltration
		if liquidIn > 0 {
			c.InVol[PointSource] += liquidIn * area
		}
		if sinks.Infiltration > 0 {
			c.OutVol[PointSource] += sinks.Infiltration * area
		}
		if !isFinite(c.Depth) {
			stepErr = cellErr(ErrNumerical, row, col, s.SimTime, errNonFiniteDepth)
		}
	})
	return stepErr
}

// stepWater runs the overland sweep, then the channel sweep, then the
// floodplain transfer. Channel transmission loss, when enabled, is
// applied after the channel sweep so it sees the step's routed depths.
func (s *Simulation) stepWater() error {
	// QOut/QIn hold this step's flows: clear the previous step's values
	// before the sweeps add to them.
	s.Grid.ActiveCells(func(row, col int, c *Cell) {
		c.QOut, c.QIn = [4]float64{}, [4]float64{}
	})
	if s.Network != nil {
		for i := range s.Network.Nodes {
			s.Network.Nodes[i].QOut, s.Network.Nodes[i].QIn = 0, 0
		}
	}

	if err := s.Water.routeOverland(s.Grid, s.DT, s.reverse); err != nil {
		return err
	}
	s.reverse = !s.reverse

	if s.Network != nil {
		if err := s.Water.routeChannel(s.Network, s.Forcing, s.outletIndex, s.SimTime, s.DT); err != nil {
			return err
		}
		if s.Hydro.Params.TransmissionLossEnabled {
			s.Network.ForEachNode(func(link, j int, n *Node) {
				loss := s.Hydro.TransmissionLoss(n, s.DT)
				if loss <= 0 {
					return
				}
				n.Depth -= loss
				n.OutVol[PointSource] += loss * n.topWidth(n.Depth) * n.ChanLength
			})
		}
		s.Grid.ActiveCells(func(row, col int, c *Cell) {
			if !c.HasChannel {
				return
			}
			n := s.Network.Node(c.Link, c.Node)
			cellArea := s.Grid.CellSize * s.Grid.CellSize
			s.Water.floodplainTransfer(c, n, cellArea, s.DT)
		})
	}

	var residual float64
	s.Grid.ActiveCells(func(row, col int, c *Cell) {
		clamped, r := clampDepth(c.Depth)
		c.Depth = clamped
		residual += r
	})
	s.Balance.RoundOffResidual += residual
	return nil
}

// applyPointLoads injects the forcing interpolator's overland and channel
// point-source water flows as direct depth additions, recorded under the
// PointSource direction index, before the water router sweeps the step's
// flows. Point loads are themselves time-series-driven, so their current
// rate is read straight from each load's Series rather than cached.
func (s *Simulation) applyPointLoads() error {
	if s.Forcing == nil {
		return nil
	}
	area := s.Grid.CellSize * s.Grid.CellSize
	for i := range s.Forcing.OverlandPointFlows {
		pl := &s.Forcing.OverlandPointFlows[i]
		if pl.Series == nil {
			continue
		}
		q := pl.Series.Value(s.SimTime)
		if q == 0 {
			continue
		}
		c := s.Grid.At(pl.Row, pl.Col)
		vol := q * s.DT
		c.Depth += vol / area
		c.InVol[PointSource] += vol
	}
	if s.Network == nil {
		return nil
	}
	for i := range s.Forcing.ChannelPointFlows {
		pl := &s.Forcing.ChannelPointFlows[i]
		if pl.Series == nil {
			continue
		}
		q := pl.Series.Value(s.SimTime)
		if q == 0 {
			continue
		}
		n := s.Network.Node(pl.Link, pl.Node)
		surfaceArea := n.topWidth(n.Depth) * n.ChanLength
		if surfaceArea <= 0 {
			surfaceArea = n.BottomWidth * math.Max(n.ChanLength, 1e-6)
		}
		vol := q * s.DT
		n.Depth += vol / surfaceArea
		n.InVol[PointSource] += vol
	}
	return nil
}

func (s *Simulation) stepSolids() error {
	return s.Solids.Step(s)
}

func (s *Simulation) stepChemical() error {
	return s.Chem.Step(s)
}

// nextDT computes the dt to adopt for the upcoming step, per the selected
// DTOpt. It must be called after a step's flows
// have been computed so Courant numbers reflect the step just completed.
func (s *Simulation) nextDT() float64 {
	switch s.Sched.DTOpt {
	case DTFixed:
		return s.Sched.Table.valueAt(s.SimTime)
	case DTCourant:
		return s.courantDT(s.Sched.CourantMax)
	default: // DTHybrid
		bound := s.Sched.Table.valueAt(s.SimTime)
		proposed := s.courantDT(s.Sched.CourantMax)
		if bound > 0 && proposed > bound {
			return bound
		}
		return proposed
	}
}

// courantDT proposes the next dt so the larger of the overland and
// channel Courant numbers (v*dt/L) falls at or below ceiling, rounding the
// result down to SigFigs significant digits.
func (s *Simulation) courantDT(ceiling float64) float64 {
	maxC := 0.0
	w := s.Grid.CellSize
	s.Grid.ActiveCells(func(row, col int, c *Cell) {
		for _, q := range c.QOut {
			v := math.Abs(q) / (w * w)
			if c.Depth > 1e-9 {
				v /= c.Depth
			}
			cn := v * s.DT / w
			if cn > maxC {
				maxC = cn
			}
		}
	})
	if s.Network != nil {
		s.Network.ForEachNode(func(link, j int, n *Node) {
			a := n.area(n.Depth)
			if a <= 0 {
				return
			}
			v := math.Abs(n.QOut) / a
			cn := v * s.DT / math.Max(n.ChanLength, 1e-9)
			if cn > maxC {
				maxC = cn
			}
		})
	}
	s.Balance.RecordCourant(maxC)
	if maxC <= 0 {
		return s.DT
	}
	proposed := s.DT * ceiling / maxC
	sig := s.Sched.SigFigs
	if sig <= 0 {
		sig = 1
	}
	return roundDownSigFigs(proposed, sig)
}

// Run drives the simulation from the current SimTime to Sched.TEnd,
// executing the fixed per-step pipeline, advancing SimTime by the adopted
// dt, and emitting structured step logs. Run is
// the sole place that converts a returned *SimError into a log message
// and propagates it to the caller; the caller decides the process exit
// code.
func (s *Simulation) Run() error {
	if s.DT <= 0 {
		s.DT = s.Sched.Table.valueAt(s.SimTime)
	}
	s.Balance.SnapshotInitial(s.Grid, s.Network)
	pipeline := s.Pipeline()
	start := time.Now()
	nextPrint := s.SimTime + s.Sched.PrintInterval
	for s.SimTime < s.Sched.TEnd {
		stepStart := time.Now()
		for _, fn := range pipeline {
			if err := fn(s); err != nil {
				s.Log.WithFields(logrus.Fields{
					"step":    s.step,
					"dt":      s.DT,
					"simtime": s.SimTime,
				}).Error(err)
				return err
			}
		}
		s.SimTime += s.DT
		s.step++
		s.Log.WithFields(logrus.Fields{
			"step":      s.step,
			"dt":        s.DT,
			"simtime":   s.SimTime,
			"elapsed_s": time.Since(stepStart).Seconds(),
			"walltime":  time.Since(start).String(),
		}).Debug("step complete")

		if s.Sched.PrintInterval > 0 && s.SimTime >= nextPrint {
			s.Log.WithFields(logrus.Fields{
				"step":     s.step,
				"simtime":  s.SimTime,
				"dt":       s.DT,
				"walltime": time.Since(start).String(),
			}).Info("progress")
			for nextPrint <= s.SimTime {
				nextPrint += s.Sched.PrintInterval
			}
		}

		s.updatePeaks()
		s.DT = s.nextDT()
	}
	s.finalize()
	return nil
}

// updatePeaks maintains the min/max state-variable trackers: peak discharge and time of peak for outlet cells, and the
// domain-wide depth extremes for the summary report. Peak registers are
// monotone non-decreasing over the run.
func (s *Simulation) updatePeaks() {
	s.Grid.ActiveCells(func(row, col int, c *Cell) {
		if c.Depth > s.Balance.MaxDepth {
			s.Balance.MaxDepth = c.Depth
		}
		if c.Depth < s.Balance.MinDepth {
			s.Balance.MinDepth = c.Depth
		}
		if !c.IsOutlet {
			return
		}
		q := 0.0
		for _, v := range c.QOut {
			q += v
		}
		if q > c.PeakDischarge {
			c.PeakDischarge = q
			c.TimeOfPeak = s.SimTime
		}
	})
}

// finalize runs the end-of-run mass-balance computation: final mass in
// water column and every stack layer, domain totals, and the mass-balance
// error.
func (s *Simulation) finalize() {
	s.Balance.Finalize(s.Grid, s.Network, &s.Solids)
}

var errNonFiniteDepth = fmt.Errorf("non-finite water depth")

// parallelLinks runs fn for every link in the network concurrently,
// gated by an independence check derived from the up/down branch tables:
// only links with no upstream or downstream branch connection to another
// link in this batch are dispatched together, so per-link parallelism
// never reorders updates between coupled links. Work fans out across
// runtime.GOMAXPROCS goroutines with a WaitGroup; link independence, not
// locking, is what guards correctness.
func parallelLinks(net *Network, fn func(link int)) {
	independent := independentLinks(net)
	nprocs := runtime.GOMAXPROCS(0)
	var wg sync.WaitGroup
	linkCh := make(chan int, len(independent))
	for _, link := range independent {
		linkCh <- link
	}
	close(linkCh)
	wg.Add(nprocs)
	for p := 0; p < nprocs; p++ {
		go func() {
			defer wg.Done()
			for link := range linkCh {
				fn(link)
			}
		}()
	}
	wg.Wait()

	// Links with any branch connection run sequentially afterward, in
	// link order, since their evaluation order can affect results.
	indep := make(map[int]bool, len(independent))
	for _, l := range independent {
		indep[l] = true
	}
	for link := range net.Links {
		if !indep[link] {
			fn(link)
		}
	}
}

// independentLinks returns the indices of links with no upstream or
// downstream branch (UpBranch/DownBranch all zero on every node), the
// only links safe to update concurrently with each other.
func independentLinks(net *Network) []int {
	var out []int
	for link, span := range net.Links {
		isolated := true
		for j := 0; j < span.Length; j++ {
			n := net.Node(link, j)
			for _, b := range n.UpBranch {
				if b != 0 {
					isolated = false
				}
			}
			for _, b := range n.DownBranch {
				if b != 0 {
					isolated = false
				}
			}
		}
		if isolated {
			out = append(out, link)
		}
	}
	return out
}
