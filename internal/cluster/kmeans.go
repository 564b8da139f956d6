// Package cluster partitions a territory's samples into spatial clusters
// using seeded k-means with adaptive cluster-count selection.
package cluster

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrastat/soil-pipeline/internal/config"
	"github.com/terrastat/soil-pipeline/internal/model"
)

// Restarts per candidate k; the lowest-inertia run wins.
const initRestarts = 10

// Large territories get extra clusters so no single cluster swallows the
// whole dataset.
const (
	largeTerritoryThreshold = 1000
	largeTargetPerCluster   = 150
	oversizedClusterLimit   = 300
	oversizedTargetSize     = 200
)

type point struct {
	lat, lon float64
}

// Partition groups the territory's samples into clusters. Below
// minClusters x minSamplesPerCluster samples the territory gets a single
// degenerate cluster. Each sample receives exactly one cluster assignment
// (written to ClusterID), and returned ordinals are contiguous from 1.
func Partition(territoryCode string, samples []*model.Sample, cfg config.ClusterConfig) ([]*model.Cluster, error) {
	if len(samples) == 0 {
		return nil, eris.Errorf("cluster: territory %s has no samples", territoryCode)
	}

	points := make([]point, len(samples))
	for i, s := range samples {
		points[i] = point{lat: s.Latitude, lon: s.Longitude}
	}

	kMax := maxCandidateClusters(len(samples), cfg)
	if len(samples) < cfg.MinClusters*cfg.MinSamplesPerCluster || kMax < cfg.MinClusters {
		return []*model.Cluster{degenerate(territoryCode, samples, points)}, nil
	}

	// Sweep the candidate range and keep every run so the selected k does
	// not have to be re-fit.
	runs := make(map[int]kmeansRun, kMax-cfg.MinClusters+1)
	inertias := make([]float64, 0, kMax-cfg.MinClusters+1)
	for k := cfg.MinClusters; k <= kMax; k++ {
		r := fitKMeans(points, k, cfg.MaxIterations, cfg.Seed)
		runs[k] = r
		inertias = append(inertias, r.inertia)
	}

	k := selectElbow(inertias, cfg.MinClusters, cfg.ElbowThreshold)
	k = widenForOversizedClusters(k, kMax, len(samples))

	best := runs[k]
	if !best.converged {
		zap.L().Warn("cluster: iteration budget exhausted before convergence",
			zap.String("territory", territoryCode),
			zap.Int("k", k),
			zap.Int("max_iterations", cfg.MaxIterations),
		)
	}

	// Coincident coordinates can leave a cluster with no members no matter
	// how the repair moves its center; compact those out so every returned
	// cluster is populated and ordinals stay contiguous.
	counts := make([]int, k)
	for _, label := range best.labels {
		counts[label]++
	}
	remap := make([]int, k)
	kept := 0
	for label := 0; label < k; label++ {
		if counts[label] == 0 {
			remap[label] = -1
			continue
		}
		remap[label] = kept
		kept++
	}
	if kept < k {
		zap.L().Warn("cluster: dropping empty clusters",
			zap.String("territory", territoryCode),
			zap.Int("selected", k),
			zap.Int("kept", kept),
		)
	}

	clusters := make([]*model.Cluster, kept)
	for label := 0; label < k; label++ {
		if remap[label] < 0 {
			continue
		}
		ordinal := remap[label] + 1
		clusters[remap[label]] = &model.Cluster{
			ID:            model.ClusterID(territoryCode, ordinal),
			TerritoryCode: territoryCode,
			Ordinal:       ordinal,
			CenterLat:     best.centers[label].lat,
			CenterLon:     best.centers[label].lon,
		}
	}
	for i, s := range samples {
		c := clusters[remap[best.labels[i]]]
		s.ClusterID = c.ID
		c.SampleCount++
	}
	return clusters, nil
}

func maxCandidateClusters(n int, cfg config.ClusterConfig) int {
	byMembership := n / cfg.MinSamplesPerCluster
	upper := cfg.MaxClusters
	if n > largeTerritoryThreshold {
		if adjusted := n / largeTargetPerCluster; adjusted > upper {
			upper = adjusted
		}
	}
	if byMembership < upper {
		return byMembership
	}
	return upper
}

func degenerate(territoryCode string, samples []*model.Sample, points []point) *model.Cluster {
	c := &model.Cluster{
		ID:            model.ClusterID(territoryCode, 1),
		TerritoryCode: territoryCode,
		Ordinal:       1,
		SampleCount:   len(samples),
	}
	for _, p := range points {
		c.CenterLat += p.lat
		c.CenterLon += p.lon
	}
	c.CenterLat /= float64(len(points))
	c.CenterLon /= float64(len(points))
	for _, s := range samples {
		s.ClusterID = c.ID
	}
	return c
}

// selectElbow finds the smallest k past which the marginal inertia
// reduction drops below threshold relative to the previous step. When the
// curve never flattens it falls back to the k minimizing inertia per
// cluster, which favors the widest partition.
func selectElbow(inertias []float64, minClusters int, threshold float64) int {
	if len(inertias) < 2 {
		return minClusters
	}
	deltas := make([]float64, len(inertias)-1)
	for i := 1; i < len(inertias); i++ {
		deltas[i-1] = inertias[i-1] - inertias[i]
	}
	for i := 1; i < len(deltas); i++ {
		ratio := 1.0
		if deltas[i-1] > 0 {
			ratio = deltas[i] / deltas[i-1]
		}
		if ratio < threshold {
			return minClusters + i
		}
	}
	bestK := minClusters
	bestScore := math.Inf(1)
	for i, inertia := range inertias {
		k := minClusters + i
		if score := inertia / float64(k); score < bestScore {
			bestScore = score
			bestK = k
		}
	}
	return bestK
}

func widenForOversizedClusters(k, kMax, n int) int {
	if n <= largeTerritoryThreshold {
		return k
	}
	avg := float64(n) / float64(k)
	if avg <= oversizedClusterLimit {
		return k
	}
	k += int(avg) / oversizedTargetSize
	if k > kMax {
		return kMax
	}
	return k
}

type kmeansRun struct {
	labels    []int
	centers   []point
	inertia   float64
	converged bool
}

// fitKMeans runs Lloyd's algorithm with k-means++ seeding. Every restart
// draws from the same seeded source, so identical input always yields an
// identical partition.
func fitKMeans(points []point, k, maxIterations int, seed int64) kmeansRun {
	rng := rand.New(rand.NewSource(seed + int64(k)))
	best := kmeansRun{inertia: math.Inf(1)}
	for restart := 0; restart < initRestarts; restart++ {
		run := lloyd(points, seedCenters(points, k, rng), maxIterations)
		if run.inertia < best.inertia {
			best = run
		}
	}
	return best
}

// seedCenters picks initial centers with k-means++: each subsequent
// center is drawn with probability proportional to its squared distance
// from the nearest already-chosen center.
func seedCenters(points []point, k int, rng *rand.Rand) []point {
	centers := make([]point, 0, k)
	centers = append(centers, points[rng.Intn(len(points))])

	dists := make([]float64, len(points))
	for len(centers) < k {
		total := 0.0
		latest := centers[len(centers)-1]
		for i, p := range points {
			d := sqDist(p, latest)
			if len(centers) == 1 || d < dists[i] {
				dists[i] = d
			}
			total += dists[i]
		}
		if total == 0 {
			// All remaining points coincide with a center.
			centers = append(centers, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		idx := len(points) - 1
		acc := 0.0
		for i, d := range dists {
			acc += d
			if acc >= target {
				idx = i
				break
			}
		}
		centers = append(centers, points[idx])
	}
	return centers
}

func lloyd(points []point, centers []point, maxIterations int) kmeansRun {
	k := len(centers)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	converged := false

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			nearest := 0
			nearestDist := sqDist(p, centers[0])
			for c := 1; c < k; c++ {
				if d := sqDist(p, centers[c]); d < nearestDist {
					nearest = c
					nearestDist = d
				}
			}
			if labels[i] != nearest {
				labels[i] = nearest
				changed = true
			}
		}
		if !changed {
			converged = true
			break
		}
		recomputeCenters(points, labels, centers)
	}

	inertia := 0.0
	for i, p := range points {
		inertia += sqDist(p, centers[labels[i]])
	}
	return kmeansRun{labels: labels, centers: centers, inertia: inertia, converged: converged}
}

func recomputeCenters(points []point, labels []int, centers []point) {
	k := len(centers)
	sums := make([]point, k)
	counts := make([]int, k)
	for i, p := range points {
		l := labels[i]
		sums[l].lat += p.lat
		sums[l].lon += p.lon
		counts[l]++
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			// An emptied cluster recaptures the point farthest from its
			// current center so every label stays populated.
			centers[c] = farthestPoint(points, centers[c])
			continue
		}
		centers[c] = point{
			lat: sums[c].lat / float64(counts[c]),
			lon: sums[c].lon / float64(counts[c]),
		}
	}
}

func farthestPoint(points []point, from point) point {
	best := points[0]
	bestDist := -1.0
	for _, p := range points {
		if d := sqDist(p, from); d > bestDist {
			best = p
			bestDist = d
		}
	}
	return best
}

func sqDist(a, b point) float64 {
	dLat := a.lat - b.lat
	dLon := a.lon - b.lon
	return dLat*dLat + dLon*dLon
}
