// Package classifier maps a feature vector to a probability distribution over
// execution classes.
package classifier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/tierroute/control_plane/observability"
	"github.com/itskum47/tierroute/control_plane/task"
)

// ErrModelUnavailable means the model artifact is missing, unreadable, corrupt
// or failed validation. It is fatal at startup unless a fallback is configured.
var ErrModelUnavailable = errors.New("classification model unavailable")

// Prediction is a class choice with the full distribution behind it.
// Probabilities are non-negative and sum to 1.
type Prediction struct {
	Class         task.Class
	Probabilities [task.NumClasses]float64
}

// Confidence is the probability of the chosen class.
func (p Prediction) Confidence() float64 {
	return p.Probabilities[p.Class]
}

// Alternatives returns every class ranked by probability, highest first.
// Ties keep class index order.
func (p Prediction) Alternatives() []task.Alternative {
	alts := make([]task.Alternative, 0, task.NumClasses)
	for _, c := range task.Classes {
		alts = append(alts, task.Alternative{Class: c, Probability: p.Probabilities[c]})
	}
	sort.SliceStable(alts, func(i, j int) bool {
		return alts[i].Probability > alts[j].Probability
	})
	if len(alts) > 3 {
		alts = alts[:3]
	}
	return alts
}

// Classifier predicts an execution class for a feature vector.
type Classifier interface {
	Predict(f task.Features) (Prediction, error)
	Name() string
}

func fromDistribution(dist [task.NumClasses]float64) Prediction {
	best := task.Edge
	for _, c := range task.Classes[1:] {
		if dist[c] > dist[best] {
			best = c
		}
	}
	return Prediction{Class: best, Probabilities: dist}
}

const (
	KindForest     = "forest"
	KindLowestLoad = "lowest_load"
)

// Options selects and configures the classifier used by the service.
type Options struct {
	Kind     string // forest (default) or lowest_load
	Artifact string // forest artifact path
	// Fallback, when set to lowest_load, replaces an unloadable model with the
	// lowest-load policy instead of failing.
	Fallback string
}

// New builds the configured classifier. Without an explicit fallback any
// artifact problem is returned as ErrModelUnavailable.
func New(opts Options) (Classifier, error) {
	observability.ClassifierFallbackActive.Set(0)

	switch opts.Kind {
	case "", KindForest:
	case KindLowestLoad:
		log.Warn().Msg("classifier: lowest-load policy selected explicitly, no model in use")
		observability.ClassifierFallbackActive.Set(1)
		return LowestLoad{}, nil
	default:
		return nil, fmt.Errorf("classifier: unknown kind %q", opts.Kind)
	}

	forest, err := LoadForest(opts.Artifact)
	if err == nil {
		log.Info().
			Str("artifact", opts.Artifact).
			Str("version", forest.Version()).
			Int("trees", forest.Trees()).
			Msg("classifier: model loaded")
		return forest, nil
	}

	if opts.Fallback != KindLowestLoad {
		return nil, err
	}

	log.Error().Err(err).
		Str("artifact", opts.Artifact).
		Msg("classifier: MODEL UNAVAILABLE, serving lowest-load fallback")
	observability.ClassifierFallbackActive.Set(1)
	return LowestLoad{}, nil
}
