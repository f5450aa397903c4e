package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pathflow/internal/cache"
	"pathflow/internal/cohort"
	"pathflow/internal/config"
	"pathflow/internal/cv"
	"pathflow/internal/encoder"
	"pathflow/internal/extract"
	"pathflow/internal/mil"
	"pathflow/internal/models"
	"pathflow/internal/slide"
	"pathflow/internal/storage"
	"pathflow/internal/tessellate"
	"pathflow/internal/util"
)

type Activities struct {
	cfg       config.Config
	store     *cache.Store
	opener    slide.Opener
	enc       encoder.Encoder
	tparams   tessellate.Params
	slideRepo *storage.SlideRepo
	runRepo   *storage.RunRepo
	predRepo  *storage.PredictionRepo
}

func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	enc, err := encoder.New(cfg.EncoderName, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	tp := tessellate.DefaultParams()
	tp.TileSizeUM = cfg.TileSizeUM
	tp.TargetMPP = cfg.TargetMPP
	tp.CoverageMin = cfg.TissueCoverageMin
	tp.ThumbnailMaxDim = cfg.ThumbnailMaxDim
	return &Activities{
		cfg:       cfg,
		store:     cache.NewStore(cfg.FeatureOutRoot),
		opener:    slide.SyntheticOpener{},
		enc:       enc,
		tparams:   tp,
		slideRepo: storage.NewSlideRepo(db),
		runRepo:   storage.NewRunRepo(db),
		predRepo:  storage.NewPredictionRepo(db),
	}, nil
}

// Fingerprint of the current encoder + tessellation configuration.
func (a *Activities) fingerprint() string {
	return cache.Fingerprint(a.enc.Info(), a.tparams.Key())
}

func (a *Activities) ListSlidesActivity(ctx context.Context, in ListSlidesInput) (ListSlidesOutput, error) {
	_ = ctx
	entries, err := os.ReadDir(in.InputDir)
	if err != nil {
		return ListSlidesOutput{}, fmt.Errorf("read input dir: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".slide.json") {
			paths = append(paths, filepath.Join(in.InputDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return ListSlidesOutput{Paths: paths}, nil
}

func (a *Activities) ResolveSlideActivity(ctx context.Context, in ResolveSlideInput) (ResolveSlideOutput, error) {
	_ = ctx
	s, err := a.opener.Open(in.SlidePath)
	if err != nil {
		return ResolveSlideOutput{}, fmt.Errorf("%s: %w", util.ErrSlideUnreadable, err)
	}
	defer s.Close()
	f, err := os.Open(in.SlidePath)
	if err != nil {
		return ResolveSlideOutput{}, fmt.Errorf("%s: %w", util.ErrSlideUnreadable, err)
	}
	defer f.Close()
	digest, err := util.SHA256HexFromReader(f)
	if err != nil {
		return ResolveSlideOutput{}, fmt.Errorf("digest slide file %s: %w", in.SlidePath, err)
	}
	return ResolveSlideOutput{SlideID: s.Info().ID, Fingerprint: a.fingerprint(), FileDigest: digest}, nil
}

func (a *Activities) HasCachedBagActivity(ctx context.Context, in HasCachedBagInput) (HasCachedBagOutput, error) {
	_ = ctx
	return HasCachedBagOutput{Cached: a.store.Has(in.SlideID, in.Fingerprint)}, nil
}

// ExtractSlideActivity runs the per-slide pipeline leaf to leaf:
// tessellate, extract, cache. The slide handle is closed before the bag
// is stored, and the store is atomic, so an interruption anywhere leaves
// either a complete bag or nothing.
func (a *Activities) ExtractSlideActivity(ctx context.Context, in ExtractSlideInput) (ExtractSlideOutput, error) {
	s, err := a.opener.Open(in.SlidePath)
	if err != nil {
		return ExtractSlideOutput{}, fmt.Errorf("%s: %w", util.ErrSlideUnreadable, err)
	}
	tess, err := tessellate.Tessellate(ctx, s, a.tparams)
	if err != nil {
		_ = s.Close()
		return ExtractSlideOutput{}, err
	}
	res, err := extract.Extract(ctx, s, tess.Coords, a.enc, extract.Params{
		TileSizePx0: tess.TileSizePx0,
		TileSizePx:  tess.TileSizePx,
		BatchSize:   a.cfg.EncoderBatch,
	})
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return ExtractSlideOutput{}, err
	}
	bag := &models.FeatureBag{
		SlideID:     in.SlideID,
		Fingerprint: in.Fingerprint,
		TileSizePx:  tess.TileSizePx,
		Coords:      res.Coords,
		Features:    res.Features,
		Dim:         a.enc.Info().Dim,
		Dropped:     res.Dropped,
	}
	if err := a.store.Put(bag); err != nil {
		return ExtractSlideOutput{}, err
	}
	return ExtractSlideOutput{TileCount: len(res.Coords), Dropped: res.Dropped}, nil
}

func (a *Activities) UpdateSlideStatusActivity(ctx context.Context, in UpdateSlideStatusInput) error {
	return a.slideRepo.UpsertSlide(ctx, models.Slide{
		SlideID:    in.SlideID,
		CohortID:   in.CohortID,
		PatientID:  in.PatientID,
		Filename:   in.Filename,
		TileCount:  in.TileCount,
		Status:     in.Status,
		FailReason: in.FailReason,
	})
}

func (a *Activities) WriteCohortSummaryActivity(ctx context.Context, in WriteCohortSummaryInput) error {
	_ = ctx
	outPath := filepath.Join(a.cfg.FeatureOutRoot, in.CohortID, "cohort_summary.json")
	return util.WriteJSONAtomic(outPath, in.Summary)
}

func (a *Activities) LoadCohortActivity(ctx context.Context, in LoadCohortInput) (LoadCohortOutput, error) {
	_ = ctx
	fp := in.Fingerprint
	if fp == "" {
		fp = a.fingerprint()
	}
	rows, err := cohort.LoadCSV(in.TablePath)
	if err != nil {
		return LoadCohortOutput{}, err
	}
	table, err := cohort.Build(rows, func(slideID string) bool {
		return a.store.Has(slideID, fp)
	})
	if err != nil {
		return LoadCohortOutput{}, err
	}
	return LoadCohortOutput{Table: table, Fingerprint: fp}, nil
}

func (a *Activities) SplitFoldsActivity(ctx context.Context, in SplitFoldsInput) (SplitFoldsOutput, error) {
	_ = ctx
	folds, err := cv.Split(in.Patients, func(p string) string { return in.Labels[p] },
		in.Folds, in.Seed, in.Stratify)
	if err != nil {
		return SplitFoldsOutput{}, err
	}
	return SplitFoldsOutput{Folds: folds}, nil
}

func (a *Activities) TrainFoldActivity(ctx context.Context, in TrainFoldInput) (TrainFoldOutput, error) {
	load := func(slideID string) (*models.FeatureBag, error) {
		return a.store.Get(slideID, in.Fingerprint)
	}
	res, err := cv.TrainFold(ctx, in.RunID, in.Fold, in.Table, load, in.Params, in.Fingerprint)
	if err != nil {
		return TrainFoldOutput{}, err
	}
	if !res.Failed {
		path := filepath.Join(a.cfg.CheckpointRoot, in.RunID, fmt.Sprintf("fold-%d.ckpt", in.Fold.Index))
		if err := mil.SaveCheckpoint(path, res.Checkpoint); err != nil {
			return TrainFoldOutput{}, err
		}
		if err := a.predRepo.UpsertPredictions(ctx, res.Preds); err != nil {
			return TrainFoldOutput{}, err
		}
	}
	return TrainFoldOutput{Result: res}, nil
}

func (a *Activities) AggregateRunActivity(ctx context.Context, in AggregateRunInput) (AggregateRunOutput, error) {
	_ = ctx
	var accs, aucs []float64
	failed := 0
	for _, fr := range in.Folds {
		if fr.Failed {
			failed++
			continue
		}
		accs = append(accs, fr.Metrics.Accuracy)
		if fr.Metrics.AUC > 0 {
			aucs = append(aucs, fr.Metrics.AUC)
		}
	}
	out := AggregateRunOutput{
		AccuracySummary: cv.Summarize(accs),
		AUCSummary:      cv.Summarize(aucs),
		FailedFolds:     failed,
	}
	manifest := map[string]any{
		"run_id":           in.RunID,
		"classes":          in.Classes,
		"folds":            len(in.Folds),
		"failed_folds":     failed,
		"accuracy_summary": out.AccuracySummary,
		"auc_summary":      out.AUCSummary,
		"generated_at":     time.Now().UTC(),
	}
	path := filepath.Join(a.cfg.CheckpointRoot, in.RunID, "manifest.json")
	if err := util.WriteJSONAtomic(path, manifest); err != nil {
		return AggregateRunOutput{}, err
	}
	out.ManifestPath = path
	return out, nil
}

func (a *Activities) UpdateRunStatusActivity(ctx context.Context, in UpdateRunStatusInput) error {
	return a.runRepo.UpdateRunStatus(ctx, in.RunID, in.Status)
}
