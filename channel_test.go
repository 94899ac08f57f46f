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

func TestNewNetworkLayout(t *testing.T) {
	net := NewNetwork([]int{3, 2})
	if net.NumLinks() != 2 {
		t.Fatalf("NumLinks() = %d, want 2", net.NumLinks())
	}
	if len(net.NodesOf(0)) != 3 {
		t.Errorf("len(NodesOf(0)) = %d, want 3", len(net.NodesOf(0)))
	}
	if len(net.NodesOf(1)) != 2 {
		t.Errorf("len(NodesOf(1)) = %d, want 2", len(net.NodesOf(1)))
	}
	n := net.Node(1, 0)
	if n.Link != 1 || n.Index != 0 {
		t.Errorf("Node(1,0) = {Link:%d Index:%d}, want {1 0}", n.Link, n.Index)
	}
}

func TestNetworkUpstreamDownstream(t *testing.T) {
	net := NewNetwork([]int{3})
	if up := net.Upstream(0, 0); up != nil {
		t.Error("expected nil upstream of the first node")
	}
	if down := net.Downstream(0, 2); down != nil {
		t.Error("expected nil downstream of the last node")
	}
	mid := net.Downstream(0, 0)
	if mid != net.Node(0, 1) {
		t.Error("Downstream(0,0) should be Node(0,1)")
	}
}

func TestDownstreamOrBranchCrossesLinkJunction(t *testing.T) {
	net := NewNetwork([]int{2, 3})
	last := net.Node(0, 1)
	last.DownBranch[CompassS] = 2 // link index 1, stored as id+1

	got := net.DownstreamOrBranch(0, 1)
	if got != net.Node(1, 0) {
		t.Error("expected the last node of link 0 to flow into the head of link 1")
	}
	if net.DownstreamOrBranch(1, 2) != nil {
		t.Error("expected nil at a terminal node with no downstream branch")
	}
	if net.DownstreamOrBranch(0, 0) != net.Node(0, 1) {
		t.Error("expected within-link downstream to take precedence")
	}
}

func TestNodeTrapezoidalGeometry(t *testing.T) {
	n := &Node{BottomWidth: 2, SideSlope: 1, BankHeight: 1}

	if got := n.topWidth(0); got != 2 {
		t.Errorf("topWidth(0) = %g, want 2", got)
	}
	if got := n.topWidth(1); got != 4 {
		t.Errorf("topWidth(1) = %g, want 4 (bottom + 2*z*depth)", got)
	}
	if got := n.area(1); got != 3 {
		t.Errorf("area(1) = %g, want 3 (d*(b+z*d) = 1*(2+1))", got)
	}
	if got := n.area(0); got != 0 {
		t.Errorf("area(0) = %g, want 0", got)
	}
}

func TestNodeOverbankArea(t *testing.T) {
	n := &Node{BottomWidth: 2, SideSlope: 1, BankHeight: 1}
	bankArea := n.area(1)
	overbankArea := n.area(1.5)
	topW := n.BottomWidth + 2*n.SideSlope*n.BankHeight
	want := bankArea + 0.5*topW
	if overbankArea != want {
		t.Errorf("area(1.5) = %g, want %g", overbankArea, want)
	}
}

func TestNodeBankFull(t *testing.T) {
	n := &Node{BankHeight: 1, Depth: 1}
	if !n.bankFull() {
		t.Error("expected bankFull() true when Depth == BankHeight")
	}
	n.Depth = 0.5
	if n.bankFull() {
		t.Error("expected bankFull() false when Depth < BankHeight")
	}
}

func TestForEachNodeOrder(t *testing.T) {
	net := NewNetwork([]int{2, 2})
	var seen [][2]int
	net.ForEachNode(func(link, j int, n *Node) {
		seen = append(seen, [2]int{link, j})
	})
	want := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("seen[%d] = %v, want %v", i, seen[i], w)
		}
	}
}
