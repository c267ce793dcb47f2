package cluster

import (
	"math"
	"sort"
)

// KDNode is one node of the flat tree. Internal nodes split on the point at
// PointIdx; leaves (Left and Right both -1) own Points[Start:End+1].
type KDNode struct {
	PointIdx int32
	Left     int32
	Right    int32
	Axis     uint8
	Start    int32
	End      int32
}

type KDTree struct {
	Nodes    []KDNode  // All nodes in a single slice
	Points   []KDPoint // All points in a single slice, reordered by the build
	NodeSize int
	Bounds   KDBounds
}

// KDPoint is a point or cluster at one zoom level, in projected [0,1] space.
type KDPoint struct {
	X, Y float64
	// ID is the feature index for single points and the cluster id for
	// aggregates.
	ID        int
	NumPoints int
	// Zoom is the last zoom this point was clustered at. Points that have
	// not been visited yet carry unvisited.
	Zoom      int
	ParentID  int
	MetricIdx int32
}

const (
	unvisited = math.MaxInt32
	noParent  = -1
	noMetrics = int32(-1)
)

type KDBounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func emptyBounds() KDBounds {
	return KDBounds{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// Extend expands bounds to include another point
func (b *KDBounds) Extend(x, y float64) {
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
}

func (b KDBounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// NewKDTree copies points and builds a static tree over them.
func NewKDTree(points []KDPoint, nodeSize int) *KDTree {
	if nodeSize <= 0 {
		nodeSize = 64
	}
	tree := &KDTree{
		Nodes:    make([]KDNode, 0, 2*len(points)/nodeSize+1),
		Points:   make([]KDPoint, len(points)),
		NodeSize: nodeSize,
		Bounds:   emptyBounds(),
	}
	copy(tree.Points, points)

	for _, p := range tree.Points {
		tree.Bounds.Extend(p.X, p.Y)
	}
	if len(points) > 0 {
		tree.buildNodes(0, len(points)-1, 0)
	}
	return tree
}

func (t *KDTree) buildNodes(start, end, depth int) int32 {
	if start > end {
		return -1
	}

	nodeIdx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, KDNode{Left: -1, Right: -1, Start: int32(start), End: int32(end)})

	if end-start <= t.NodeSize {
		t.Nodes[nodeIdx].PointIdx = int32(start)
		return nodeIdx
	}

	axis := depth % 2
	median := (start + end) / 2
	sortPointsRange(t.Points[start:end+1], axis)

	// t.Nodes may be reallocated by the recursive calls
	left := t.buildNodes(start, median-1, depth+1)
	right := t.buildNodes(median+1, end, depth+1)

	node := &t.Nodes[nodeIdx]
	node.PointIdx = int32(median)
	node.Axis = uint8(axis)
	node.Left = left
	node.Right = right
	return nodeIdx
}

func sortPointsRange(points []KDPoint, axis int) {
	if axis == 0 {
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].X < points[j].X
		})
	} else {
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Y < points[j].Y
		})
	}
}

func (t *KDTree) isLeaf(n KDNode) bool { return n.Left < 0 && n.Right < 0 }

// Range returns the indices of all points inside the box, edges included.
func (t *KDTree) Range(minX, minY, maxX, maxY float64) []int {
	if len(t.Nodes) == 0 {
		return nil
	}
	var out []int
	t.rangeNode(0, minX, minY, maxX, maxY, &out)
	return out
}

func (t *KDTree) rangeNode(idx int32, minX, minY, maxX, maxY float64, out *[]int) {
	node := t.Nodes[idx]
	if t.isLeaf(node) {
		for i := node.Start; i <= node.End; i++ {
			p := t.Points[i]
			if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
				*out = append(*out, int(i))
			}
		}
		return
	}

	p := t.Points[node.PointIdx]
	if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
		*out = append(*out, int(node.PointIdx))
	}

	split, lo, hi := p.X, minX, maxX
	if node.Axis == 1 {
		split, lo, hi = p.Y, minY, maxY
	}
	if node.Left >= 0 && lo <= split {
		t.rangeNode(node.Left, minX, minY, maxX, maxY, out)
	}
	if node.Right >= 0 && hi >= split {
		t.rangeNode(node.Right, minX, minY, maxX, maxY, out)
	}
}

// Within returns the indices of all points at distance <= r from (x, y).
func (t *KDTree) Within(x, y, r float64) []int {
	if len(t.Nodes) == 0 {
		return nil
	}
	var out []int
	t.withinNode(0, x, y, r, r*r, &out)
	return out
}

func (t *KDTree) withinNode(idx int32, x, y, r, r2 float64, out *[]int) {
	node := t.Nodes[idx]
	if t.isLeaf(node) {
		for i := node.Start; i <= node.End; i++ {
			if sqDist(t.Points[i].X, t.Points[i].Y, x, y) <= r2 {
				*out = append(*out, int(i))
			}
		}
		return
	}

	p := t.Points[node.PointIdx]
	if sqDist(p.X, p.Y, x, y) <= r2 {
		*out = append(*out, int(node.PointIdx))
	}

	split, v := p.X, x
	if node.Axis == 1 {
		split, v = p.Y, y
	}
	if node.Left >= 0 && v-r <= split {
		t.withinNode(node.Left, x, y, r, r2, out)
	}
	if node.Right >= 0 && v+r >= split {
		t.withinNode(node.Right, x, y, r, r2, out)
	}
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return dx*dx + dy*dy
}
