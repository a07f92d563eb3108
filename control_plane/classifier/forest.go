package classifier

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/itskum47/tierroute/control_plane/task"
)

// Artifact is the on-disk forest format. Trees use a flat node layout where
// node 0 is the root, x[feature] <= threshold descends left, and a node with a
// value is a leaf holding per-class weights.
type Artifact struct {
	Version  string   `yaml:"version"`
	Kind     string   `yaml:"kind"`
	Features []string `yaml:"features"`
	Classes  []string `yaml:"classes"`
	Trees    []Tree   `yaml:"trees"`
}

type Tree struct {
	Nodes []Node `yaml:"nodes"`
}

type Node struct {
	Feature   int       `yaml:"feature"`
	Threshold float64   `yaml:"threshold"`
	Left      int       `yaml:"left"`
	Right     int       `yaml:"right"`
	Value     []float64 `yaml:"value,omitempty"`
}

func (n Node) leaf() bool { return len(n.Value) > 0 }

// Forest averages the leaf distributions of its trees.
type Forest struct {
	version string
	trees   []Tree
}

// LoadForest reads and validates an artifact. Every failure wraps
// ErrModelUnavailable.
func LoadForest(path string) (*Forest, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no artifact path configured", ErrModelUnavailable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return ParseForest(data)
}

// ParseForest decodes an artifact from YAML (or JSON) and validates it.
func ParseForest(data []byte) (*Forest, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", ErrModelUnavailable, err)
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	f := &Forest{version: a.Version, trees: a.Trees}
	if err := f.probe(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return f, nil
}

func (a *Artifact) validate() error {
	if a.Kind != "random_forest" {
		return fmt.Errorf("unsupported model kind %q", a.Kind)
	}
	if len(a.Features) != len(task.FeatureNames) {
		return fmt.Errorf("expected %d features, artifact has %d", len(task.FeatureNames), len(a.Features))
	}
	for i, name := range task.FeatureNames {
		if a.Features[i] != name {
			return fmt.Errorf("feature %d: expected %q, artifact has %q", i, name, a.Features[i])
		}
	}
	if len(a.Classes) != task.NumClasses {
		return fmt.Errorf("expected %d classes, artifact has %d", task.NumClasses, len(a.Classes))
	}
	for _, c := range task.Classes {
		parsed, err := task.ParseClass(a.Classes[c])
		if err != nil || parsed != c {
			return fmt.Errorf("class %d: expected %s, artifact has %q", int(c), c, a.Classes[c])
		}
	}
	if len(a.Trees) == 0 {
		return fmt.Errorf("artifact has no trees")
	}

	for ti := range a.Trees {
		nodes := a.Trees[ti].Nodes
		if len(nodes) == 0 {
			return fmt.Errorf("tree %d: no nodes", ti)
		}
		for ni := range nodes {
			n := &nodes[ni]
			if n.leaf() {
				if err := normalize(n.Value); err != nil {
					return fmt.Errorf("tree %d node %d: %w", ti, ni, err)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= len(task.FeatureNames) {
				return fmt.Errorf("tree %d node %d: feature index %d out of range", ti, ni, n.Feature)
			}
			// Children always follow their parent, so traversal terminates.
			for _, child := range []int{n.Left, n.Right} {
				if child <= ni || child >= len(nodes) {
					return fmt.Errorf("tree %d node %d: child index %d invalid", ti, ni, child)
				}
			}
		}
	}
	return nil
}

func normalize(v []float64) error {
	if len(v) != task.NumClasses {
		return fmt.Errorf("leaf has %d values, want %d", len(v), task.NumClasses)
	}
	var sum float64
	for _, x := range v {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("leaf value %v invalid", x)
		}
		sum += x
	}
	if sum <= 0 {
		return fmt.Errorf("leaf values sum to zero")
	}
	for i := range v {
		v[i] /= sum
	}
	return nil
}

// probe runs a few representative vectors through the forest.
func (f *Forest) probe() error {
	probes := []task.Features{
		{},
		{Priority: 5, LatencyRequirement: 5, LoadEdge: 50, LoadCloud: 50, LoadAccelerator: 50, NetworkLatency: 200, CostSensitivity: 5},
		{Priority: 10, LatencyRequirement: 10, RequiresAccelerator: 1, LoadEdge: 100, LoadCloud: 100, LoadAccelerator: 100, NetworkLatency: 1000, CostSensitivity: 10},
	}
	for _, p := range probes {
		pred, _ := f.Predict(p)
		var sum float64
		for _, x := range pred.Probabilities {
			sum += x
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("probe prediction sums to %v", sum)
		}
	}
	return nil
}

func (f *Forest) Name() string    { return KindForest }
func (f *Forest) Version() string { return f.version }
func (f *Forest) Trees() int      { return len(f.trees) }

// Predict averages the leaf reached in every tree.
func (f *Forest) Predict(feat task.Features) (Prediction, error) {
	x := feat.Vector()

	var dist [task.NumClasses]float64
	for _, t := range f.trees {
		leaf := t.walk(x)
		for c := range dist {
			dist[c] += leaf[c]
		}
	}
	n := float64(len(f.trees))
	for c := range dist {
		dist[c] /= n
	}
	return fromDistribution(dist), nil
}

func (t Tree) walk(x [8]float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
