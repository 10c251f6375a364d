package models

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/HatiCode/vigil/pkg/stats"
)

type member struct {
	method Method
	model  model
	weight float64
}

// ensembleModel is a weighted average of the base methods that could be
// fitted. Bands are averaged with the same weights, so each member's
// monotone band keeps the combined band monotone.
type ensembleModel struct {
	members []member
}

func fitEnsemble(f frame, cfg Config) (*ensembleModel, []Method, error) {
	var (
		members []member
		skipped []Method
	)
	for _, m := range BaseMethods {
		mdl, err := fitters[m](f, cfg)
		if err != nil {
			if !errors.Is(err, ErrInsufficientHistory) {
				return nil, nil, err
			}
			skipped = append(skipped, m)
			continue
		}
		members = append(members, member{method: m, model: mdl})
	}
	if len(members) == 0 {
		return nil, skipped, fmt.Errorf("%w: no forecast method applies to %d samples", ErrInsufficientHistory, f.len())
	}

	weighByBacktest(members, f, cfg)
	return &ensembleModel{members: members}, skipped, nil
}

// weighByBacktest refits every member on the history minus a trailing
// holdout and weights it by the inverse of its mean absolute error on the
// holdout. Members that cannot be refitted on the shorter history take the
// lowest weight among the others; with nothing back-tested, weights are
// equal.
func weighByBacktest(members []member, f frame, cfg Config) {
	n := f.len()
	holdout := min(int(cfg.BacktestFraction*float64(n)), cfg.MaxBacktestPoints)
	train := n - holdout

	eps := stats.Epsilon * math.Max(1, stats.Mean(absAll(f.values)))
	var tested []float64
	if holdout >= 1 && train >= cfg.MinSamples {
		head := f.head(train)
		origin := head.lastHour()
		for i := range members {
			bm, err := fitters[members[i].method](head, cfg)
			if err != nil {
				continue
			}
			var errSum float64
			for j := train; j < n; j++ {
				predicted, _ := bm.predict(f.hours[j] - origin)
				errSum += math.Abs(predicted - f.values[j])
			}
			members[i].weight = 1 / (errSum/float64(holdout) + eps)
			tested = append(tested, members[i].weight)
		}
	}

	fallback := 1.0
	if len(tested) > 0 {
		fallback = slices.Min(tested)
	}
	var total float64
	for i := range members {
		if members[i].weight == 0 {
			members[i].weight = fallback
		}
		total += members[i].weight
	}
	for i := range members {
		members[i].weight /= total
	}
}

func (m *ensembleModel) predict(offset float64) (float64, float64) {
	var value, half float64
	for _, mem := range m.members {
		v, h := mem.model.predict(offset)
		value += mem.weight * v
		half += mem.weight * h
	}
	return value, half
}

func (m *ensembleModel) weights() map[Method]float64 {
	out := make(map[Method]float64, len(m.members))
	for _, mem := range m.members {
		out[mem.method] = mem.weight
	}
	return out
}

func absAll(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}
	return out
}
