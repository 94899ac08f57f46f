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

// Package trex implements TREX, a two-dimensional, event-based watershed
// response model. Rainfall and snowmelt produce overland flow on a raster
// grid that is coupled to a one-dimensional dendritic channel network;
// multiple classes of solids and reactive chemicals are advected, dispersed,
// deposited, and eroded; a layered soil/sediment stack records the evolving
// bed composition; and mass balances are reported per cell and per node.
//
// The engine is built around four tightly coupled subsystems that share
// grid state, bed state, and the simulation clock within a single time
// step: the explicit, adaptive-dt scheduler (Simulation.Run), the
// two-domain water router (routeOverland / routeChannel / floodplain
// transfer), the multi-class solids transport and bed-stack manager
// (Solids, Stack), and the forcing-function interpolator (Series,
// Forcing). Chemical transport mirrors the solids pipeline.
package trex

// Version is the engine version string, reported by `trex version`.
const Version = "0.1.0"
