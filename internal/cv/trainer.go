package cv

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"

	"pathflow/internal/bag"
	"pathflow/internal/cohort"
	"pathflow/internal/mil"
	"pathflow/internal/models"
	"pathflow/internal/util"
)

// BagLoader fetches one slide's cached feature bag. The orchestrator
// never touches the cache directly; injecting the loader keeps folds
// testable against in-memory bags.
type BagLoader func(slideID string) (*models.FeatureBag, error)

type TrainParams struct {
	InputDim    int     `json:"input_dim"`
	HiddenDim   int     `json:"hidden_dim"`
	AttnDim     int     `json:"attn_dim"`
	Epochs      int     `json:"epochs"`
	BatchSize   int     `json:"batch_size"`
	MaxBagSize  int     `json:"max_bag_size"`
	LearnRate   float64 `json:"learn_rate"`
	ClipNorm    float64 `json:"clip_norm"`
	WeightDecay float64 `json:"weight_decay"`
	Seed        int64   `json:"seed"`
	// Regression trains against a continuous slide-level target: every
	// label in the cohort table must parse as a float and the model head
	// emits a single value trained with squared error.
	Regression bool `json:"regression"`
	// DivergenceRetries bounds how often a non-finite batch loss is
	// retried with a freshly sampled batch before the fold is failed.
	DivergenceRetries int `json:"divergence_retries"`
}

type FoldResult struct {
	Fold       int                 `json:"fold"`
	Failed     bool                `json:"failed"`
	FailReason string              `json:"fail_reason,omitempty"`
	Metrics    FoldMetrics         `json:"metrics"`
	Preds      []models.Prediction `json:"preds,omitempty"`
	Checkpoint mil.Checkpoint      `json:"-"`
}

// TrainFold trains one AttentionMIL instance on the fold's training
// patients and evaluates on its held-out validation patients. Divergence
// is a per-fold condition, reported in the result rather than returned as
// an error, so sibling folds keep running.
func TrainFold(ctx context.Context, runID string, fold Fold, table *cohort.Table, load BagLoader, p TrainParams, fingerprint string) (FoldResult, error) {
	res := FoldResult{Fold: fold.Index}

	trainSlides := slidesOf(table, fold.TrainPatients)
	valSlides := slidesOf(table, fold.ValPatients)
	if len(trainSlides) == 0 || len(valSlides) == 0 {
		return res, fmt.Errorf("cv: fold %d has %d train and %d val slides", fold.Index, len(trainSlides), len(valSlides))
	}

	numOut := len(table.Classes)
	if p.Regression {
		numOut = 1
	}
	cfg := mil.Config{
		InputDim:   p.InputDim,
		HiddenDim:  p.HiddenDim,
		AttnDim:    p.AttnDim,
		NumClasses: numOut,
		Regression: p.Regression,
	}
	model := mil.New(cfg, p.Seed+int64(fold.Index))
	opt := mil.NewAdam(model.Params(), p.WeightDecay)
	rng := rand.New(rand.NewSource(p.Seed ^ int64(fold.Index)<<16))

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 8
	}
	retries := p.DivergenceRetries
	if retries <= 0 {
		retries = 3
	}

	makeBatch := func(ids []string) ([]mil.Example, error) {
		batch := make([]mil.Example, 0, len(ids))
		for _, id := range ids {
			b, err := load(id)
			if err != nil {
				return nil, fmt.Errorf("fold %d: load bag %s: %w", fold.Index, id, err)
			}
			sample, err := bag.FromBag(b, p.MaxBagSize, rng)
			if err != nil {
				return nil, err
			}
			ex := mil.Example{Instances: sample.Instances, Mask: sample.Mask}
			if p.Regression {
				ex.Value, err = continuousTarget(table, id)
			} else {
				ex.Class, err = table.ClassIndex(table.Labels[id])
			}
			if err != nil {
				return nil, err
			}
			batch = append(batch, ex)
		}
		return batch, nil
	}

	for epoch := 0; epoch < p.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		order := make([]string, len(trainSlides))
		copy(order, trainSlides)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		steps := 0
		for start := 0; start < len(order); start += batchSize {
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			ids := order[start:end]

			var loss float64
			var stepErr error
			for attempt := 0; ; attempt++ {
				batch, err := makeBatch(ids)
				if err != nil {
					return res, err
				}
				loss, stepErr = model.TrainStep(batch, opt, p.LearnRate, p.ClipNorm)
				if stepErr == nil || !errors.Is(stepErr, util.ErrTrainingDiverged) || attempt >= retries {
					break
				}
				log.Printf("run %s fold %d: non-finite loss, re-sampling batch (attempt %d/%d)",
					runID, fold.Index, attempt+1, retries)
			}
			if stepErr != nil {
				if errors.Is(stepErr, util.ErrTrainingDiverged) {
					res.Failed = true
					res.FailReason = stepErr.Error()
					return res, nil
				}
				return res, stepErr
			}
			epochLoss += loss
			steps++
		}
		if steps > 0 {
			log.Printf("run %s fold %d: epoch %d mean loss %.4f", runID, fold.Index, epoch, epochLoss/float64(steps))
		}
	}

	preds, metrics, err := evaluate(ctx, model, table, load, valSlides, p, fold.Index, runID)
	if err != nil {
		return res, err
	}
	res.Preds = preds
	res.Metrics = metrics
	res.Checkpoint = model.Snapshot(runID, fold.Index, table.Classes, fingerprint, trainSlides, valSlides)
	return res, nil
}

// evaluate runs exhaustive inference over the fold's held-out slides:
// full bags, chunked attention when a bag exceeds the training bag bound.
func evaluate(ctx context.Context, model *mil.Model, table *cohort.Table, load BagLoader, valSlides []string, p TrainParams, foldIdx int, runID string) ([]models.Prediction, FoldMetrics, error) {
	preds := make([]models.Prediction, 0, len(valSlides))
	var lossTotal float64
	for _, id := range valSlides {
		if err := ctx.Err(); err != nil {
			return nil, FoldMetrics{}, err
		}
		b, err := load(id)
		if err != nil {
			return nil, FoldMetrics{}, fmt.Errorf("fold %d: load bag %s: %w", foldIdx, id, err)
		}
		sample, err := bag.Full(b)
		if err != nil {
			return nil, FoldMetrics{}, err
		}
		var out mil.Output
		if p.MaxBagSize > 0 && sample.N > p.MaxBagSize {
			out, err = model.ForwardChunked(sample.Instances, p.MaxBagSize)
		} else {
			out, err = model.Forward(sample.Instances, sample.Mask)
		}
		if err != nil {
			return nil, FoldMetrics{}, err
		}
		if p.Regression {
			target, err := continuousTarget(table, id)
			if err != nil {
				return nil, FoldMetrics{}, err
			}
			diff := out.Logits[0] - target
			lossTotal += diff * diff
			preds = append(preds, models.Prediction{
				RunID:     runID,
				SlideID:   id,
				Fold:      foldIdx,
				Label:     table.Labels[id],
				Predicted: strconv.FormatFloat(out.Logits[0], 'g', -1, 64),
				Scores:    []float64{out.Logits[0]},
			})
			continue
		}
		probs := mil.Softmax(out.Logits)
		best := 0
		for k := range probs {
			if probs[k] > probs[best] {
				best = k
			}
		}
		class, err := table.ClassIndex(table.Labels[id])
		if err != nil {
			return nil, FoldMetrics{}, err
		}
		pTrue := probs[class]
		if pTrue < 1e-12 {
			pTrue = 1e-12
		}
		lossTotal += -math.Log(pTrue)
		preds = append(preds, models.Prediction{
			RunID:     runID,
			SlideID:   id,
			Fold:      foldIdx,
			Label:     table.Labels[id],
			Predicted: table.Classes[best],
			Scores:    probs,
		})
	}
	m := FoldMetrics{
		Loss:   lossTotal / float64(len(preds)),
		Slides: len(preds),
	}
	if !p.Regression {
		m.Accuracy = Accuracy(preds)
		m.AUC = BinaryAUC(preds, table.Classes)
	}
	return preds, m, nil
}

// continuousTarget reads a slide's label as a float, the value the
// regression head trains against.
func continuousTarget(table *cohort.Table, slideID string) (float64, error) {
	v, err := strconv.ParseFloat(table.Labels[slideID], 64)
	if err != nil {
		return 0, fmt.Errorf("cv: slide %s: continuous target %q: %w", slideID, table.Labels[slideID], err)
	}
	return v, nil
}

func slidesOf(table *cohort.Table, patients []string) []string {
	out := make([]string, 0, len(patients))
	for _, p := range patients {
		out = append(out, table.PatientSlides[p]...)
	}
	return out
}
