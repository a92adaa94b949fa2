// Package cluster groups encoded tracks with bottom-up hierarchical
// clustering and picks the working subset the classifier is trained on.
//
// The dendrogram is built with the nearest-neighbour-chain algorithm and
// Lance–Williams distance updates, which is exact for the reducible
// linkages supported here (ward, complete, average, single).
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Linkage selects the inter-cluster distance.
type Linkage string

const (
	Ward     Linkage = "ward"
	Complete Linkage = "complete"
	Average  Linkage = "average"
	Single   Linkage = "single"
)

// MaxPoints bounds the condensed distance matrix (n*(n-1)/2 float64s).
const MaxPoints = 8000

// ErrTooManyPoints is returned when the input would exceed MaxPoints.
var ErrTooManyPoints = errors.New("cluster: too many points")

// ParseLinkage validates a linkage name, defaulting to ward.
func ParseLinkage(s string) (Linkage, error) {
	switch Linkage(s) {
	case "", Ward:
		return Ward, nil
	case Complete, Average, Single:
		return Linkage(s), nil
	}
	return "", fmt.Errorf("cluster: unknown linkage %q", s)
}

type merge struct {
	a, b   int
	height float64
}

// Agglomerative assigns each point a label in [0, k). Labels are numbered in
// order of first appearance. When k >= len(points) every point is its own
// cluster.
func Agglomerative(points [][]float64, k int, linkage Linkage) ([]int, error) {
	n := len(points)
	if n == 0 {
		return nil, nil
	}
	if k < 1 {
		return nil, fmt.Errorf("cluster: n_clusters must be positive, got %d", k)
	}
	if n > MaxPoints {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPoints, n, MaxPoints)
	}
	if k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i
		}
		return labels, nil
	}

	merges := nnChain(points, linkage)
	sort.SliceStable(merges, func(i, j int) bool { return merges[i].height < merges[j].height })

	uf := newUnionFind(n)
	for _, m := range merges[:n-k] {
		uf.union(m.a, m.b)
	}

	labels := make([]int, n)
	ids := make(map[int]int, k)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels, nil
}

// nnChain returns the n-1 merges of the full dendrogram. Each merge names
// two slots; slot b carries the merged cluster afterwards, so both indices
// are always members of the clusters they stand for.
func nnChain(points [][]float64, linkage Linkage) []merge {
	n := len(points)
	d := newCondensed(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sq := squaredDistance(points[i], points[j])
			if linkage == Ward {
				d.set(i, j, sq)
			} else {
				d.set(i, j, math.Sqrt(sq))
			}
		}
	}

	size := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)
	next := 0

	for len(merges) < n-1 {
		if len(chain) == 0 {
			for !active[next] {
				next++
			}
			chain = append(chain, next)
		}

		var a, b int
		var best float64
		for {
			a = chain[len(chain)-1]
			prev := -1
			best = math.Inf(1)
			if len(chain) >= 2 {
				prev = chain[len(chain)-2]
				best = d.get(a, prev)
			}
			b = prev
			for j := 0; j < n; j++ {
				if !active[j] || j == a {
					continue
				}
				if dist := d.get(a, j); dist < best {
					best = dist
					b = j
				}
			}
			if b == prev {
				break
			}
			chain = append(chain, b)
		}
		chain = chain[:len(chain)-2]

		merges = append(merges, merge{a: a, b: b, height: best})

		sa, sb := float64(size[a]), float64(size[b])
		for k := 0; k < n; k++ {
			if !active[k] || k == a || k == b {
				continue
			}
			sk := float64(size[k])
			dka, dkb := d.get(k, a), d.get(k, b)
			var updated float64
			switch linkage {
			case Single:
				updated = math.Min(dka, dkb)
			case Complete:
				updated = math.Max(dka, dkb)
			case Average:
				updated = (sa*dka + sb*dkb) / (sa + sb)
			default:
				updated = ((sa+sk)*dka + (sb+sk)*dkb - sk*best) / (sa + sb + sk)
			}
			d.set(k, b, updated)
		}
		active[a] = false
		size[b] += size[a]
	}

	if linkage == Ward {
		for i := range merges {
			merges[i].height = math.Sqrt(math.Max(merges[i].height, 0))
		}
	}
	return merges
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

type condensed struct {
	n    int
	data []float64
}

func newCondensed(n int) *condensed {
	return &condensed{n: n, data: make([]float64, n*(n-1)/2)}
}

func (c *condensed) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return c.n*i - i*(i+1)/2 + j - i - 1
}

func (c *condensed) get(i, j int) float64 {
	return c.data[c.index(i, j)]
}

func (c *condensed) set(i, j int, v float64) {
	c.data[c.index(i, j)] = v
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
