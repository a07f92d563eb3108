package classifier

import "github.com/itskum47/tierroute/control_plane/task"

// LowestLoad picks the least loaded resource-eligible class. A task that
// requires an accelerator is only eligible for the accelerator class. Ties go
// to the lower class index. The distribution is one-hot.
type LowestLoad struct{}

func (LowestLoad) Name() string { return KindLowestLoad }

func (LowestLoad) Predict(f task.Features) (Prediction, error) {
	choice := task.Accelerator
	if f.RequiresAccelerator < 0.5 {
		choice = task.Edge
		for _, c := range task.Classes[1:] {
			if f.Load(c) < f.Load(choice) {
				choice = c
			}
		}
	}

	var dist [task.NumClasses]float64
	dist[choice] = 1
	return Prediction{Class: choice, Probabilities: dist}, nil
}
