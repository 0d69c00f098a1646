package palette

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	// MinColors and MaxColors bound the cluster count for extraction and the
	// target palette size for recoloring.
	MinColors = 1
	MaxColors = 10

	DefaultColors        = 5
	DefaultSeed          = 42
	DefaultRestarts      = 10
	DefaultMaxIterations = 100

	convergenceEps = 1e-6
)

var (
	ErrInvalidImage     = errors.New("invalid or empty image")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Entry is one ranked palette color. Frequency is the fraction of the pixel
// population assigned to the cluster; entries for degenerate clusters keep
// Count == 0 and are still reported.
type Entry struct {
	Hex       string  `json:"hex"`
	Count     int     `json:"pixels"`
	Frequency float64 `json:"frequency"`
}

type Palette []Entry

// Cluster is a k-means centroid with its member count. Centroid channels are
// unrounded means in [0,255].
type Cluster struct {
	ID       int
	Centroid [3]float64
	Count    int
}

// Options configure quantization. The seed is an explicit value rather than
// process-global randomness so that identical image bytes and identical
// options produce a bit-identical palette on every run.
type Options struct {
	Colors        int
	Seed          int64
	Restarts      int
	MaxIterations int
	Workers       int
}

func DefaultOptions() Options {
	return Options{
		Colors:        DefaultColors,
		Seed:          DefaultSeed,
		Restarts:      DefaultRestarts,
		MaxIterations: DefaultMaxIterations,
		Workers:       runtime.NumCPU(),
	}
}

func (o Options) withDefaults() Options {
	if o.Restarts < 1 {
		o.Restarts = DefaultRestarts
	}
	if o.MaxIterations < 1 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Workers < 1 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Extract flattens the image into its pixel population, clusters it, and
// returns the frequency-ranked palette.
func Extract(img image.Image, opts Options) (Palette, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	}

	pixels := PixelPopulation(img)
	clusters, err := Quantize(pixels, opts)
	if err != nil {
		return nil, err
	}
	return Rank(clusters, len(pixels)), nil
}

// PixelPopulation flattens an image row-major into RGB triples in [0,255].
// Alpha is dropped; yarn photos are treated as fully opaque.
func PixelPopulation(img image.Image) [][3]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}

	pixels := make([][3]float64, 0, w*h)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pixels = append(pixels, [3]float64{
				float64(r >> 8),
				float64(g >> 8),
				float64(b >> 8),
			})
		}
	}
	return pixels
}

// Quantize runs seeded Lloyd's k-means over the pixel population with
// multiple random restarts, keeping the restart with the lowest
// within-cluster variance. Degenerate clusters that end up with no members
// are kept so the caller always sees exactly opts.Colors clusters.
func Quantize(pixels [][3]float64, opts Options) ([]Cluster, error) {
	if opts.Colors < MinColors || opts.Colors > MaxColors {
		return nil, fmt.Errorf("%w: colors must be in [%d,%d], got %d", ErrInvalidParameter, MinColors, MaxColors, opts.Colors)
	}
	if len(pixels) == 0 {
		return nil, fmt.Errorf("%w: empty pixel population", ErrInvalidImage)
	}
	opts = opts.withDefaults()

	k := opts.Colors
	rng := rand.New(rand.NewSource(opts.Seed))

	var (
		bestCentroids [][3]float64
		bestCounts    []int
		bestSSE       = math.Inf(1)
	)

	// Restarts run sequentially off one seeded source; only the per-pixel
	// assignment inside a restart is parallel, and its reduction is merged in
	// fixed chunk order, so results do not depend on scheduling.
	for restart := 0; restart < opts.Restarts; restart++ {
		centroids := seedCentroids(pixels, k, rng)
		var counts []int
		sse := 0.0

		for iter := 0; iter < opts.MaxIterations; iter++ {
			sums, assignedCounts, assignedSSE := assignParallel(pixels, centroids, opts.Workers)
			counts = assignedCounts
			sse = assignedSSE

			moved := 0.0
			for c := 0; c < k; c++ {
				if counts[c] == 0 {
					continue // keep the stale centroid; cluster is degenerate
				}
				n := float64(counts[c])
				next := [3]float64{sums[c][0] / n, sums[c][1] / n, sums[c][2] / n}
				moved += sqDist(centroids[c], next)
				centroids[c] = next
			}
			if moved < convergenceEps {
				break
			}
		}

		if sse < bestSSE {
			bestSSE = sse
			bestCentroids = centroids
			bestCounts = counts
		}
	}

	clusters := make([]Cluster, k)
	for c := 0; c < k; c++ {
		clusters[c] = Cluster{ID: c, Centroid: bestCentroids[c], Count: bestCounts[c]}
	}
	return clusters, nil
}

// Rank converts clusters into the ordered palette: frequency descending, ties
// broken by ascending centroid RGB sum.
func Rank(clusters []Cluster, totalPixels int) Palette {
	sorted := make([]Cluster, len(clusters))
	copy(sorted, clusters)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		si, sj := rgbSum(sorted[i].Centroid), rgbSum(sorted[j].Centroid)
		if si != sj {
			return si < sj
		}
		// Equal sums as well: fall back to channel-wise comparison so the
		// order never depends on cluster seeding.
		for ch := 0; ch < 3; ch++ {
			if sorted[i].Centroid[ch] != sorted[j].Centroid[ch] {
				return sorted[i].Centroid[ch] > sorted[j].Centroid[ch]
			}
		}
		return false
	})

	out := make(Palette, 0, len(sorted))
	for _, c := range sorted {
		freq := 0.0
		if totalPixels > 0 {
			freq = float64(c.Count) / float64(totalPixels)
		}
		out = append(out, Entry{
			Hex:       hexFromCentroid(c.Centroid),
			Count:     c.Count,
			Frequency: freq,
		})
	}
	return out
}

// Colors returns the palette's hex strings in rank order.
func (p Palette) Colors() []string {
	out := make([]string, len(p))
	for i, e := range p {
		out[i] = e.Hex
	}
	return out
}

func seedCentroids(pixels [][3]float64, k int, rng *rand.Rand) [][3]float64 {
	centroids := make([][3]float64, k)
	if len(pixels) >= k {
		used := make(map[int]bool, k)
		for c := 0; c < k; c++ {
			idx := rng.Intn(len(pixels))
			for used[idx] {
				idx = rng.Intn(len(pixels))
			}
			used[idx] = true
			centroids[c] = pixels[idx]
		}
		return centroids
	}
	for c := 0; c < k; c++ {
		centroids[c] = pixels[rng.Intn(len(pixels))]
	}
	return centroids
}

type chunkResult struct {
	sums   [][3]float64
	counts []int
	sse    float64
}

// assignParallel maps every pixel to its nearest centroid and reduces
// per-cluster channel sums, member counts, and the total squared error.
// Chunks are merged in index order, which keeps the floating-point reduction
// independent of goroutine scheduling.
func assignParallel(pixels [][3]float64, centroids [][3]float64, workers int) ([][3]float64, []int, float64) {
	k := len(centroids)
	n := len(pixels)
	if workers > n {
		workers = n
	}
	chunkSize := (n + workers - 1) / workers
	numChunks := (n + chunkSize - 1) / chunkSize

	results := make([]chunkResult, numChunks)
	var wg sync.WaitGroup
	for chunk := 0; chunk < numChunks; chunk++ {
		start := chunk * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(chunk, start, end int) {
			defer wg.Done()
			res := chunkResult{
				sums:   make([][3]float64, k),
				counts: make([]int, k),
			}
			for i := start; i < end; i++ {
				best := 0
				bestDist := sqDist(pixels[i], centroids[0])
				for c := 1; c < k; c++ {
					if d := sqDist(pixels[i], centroids[c]); d < bestDist {
						bestDist = d
						best = c
					}
				}
				res.sums[best][0] += pixels[i][0]
				res.sums[best][1] += pixels[i][1]
				res.sums[best][2] += pixels[i][2]
				res.counts[best]++
				res.sse += bestDist
			}
			results[chunk] = res
		}(chunk, start, end)
	}
	wg.Wait()

	sums := make([][3]float64, k)
	counts := make([]int, k)
	sse := 0.0
	for _, res := range results {
		for c := 0; c < k; c++ {
			sums[c][0] += res.sums[c][0]
			sums[c][1] += res.sums[c][1]
			sums[c][2] += res.sums[c][2]
			counts[c] += res.counts[c]
		}
		sse += res.sse
	}
	return sums, counts, sse
}

func sqDist(a, b [3]float64) float64 {
	dr := a[0] - b[0]
	dg := a[1] - b[1]
	db := a[2] - b[2]
	return dr*dr + dg*dg + db*db
}

func rgbSum(c [3]float64) float64 {
	return c[0] + c[1] + c[2]
}

func hexFromCentroid(c [3]float64) string {
	return colorful.Color{
		R: clampChannel(c[0]) / 255.0,
		G: clampChannel(c[1]) / 255.0,
		B: clampChannel(c[2]) / 255.0,
	}.Hex()
}

func clampChannel(v float64) float64 {
	rounded := math.Round(v)
	if rounded < 0 {
		return 0
	}
	if rounded > 255 {
		return 255
	}
	return rounded
}
