package activities

import (
	"pathflow/internal/cohort"
	"pathflow/internal/cv"
)

type ListSlidesInput struct {
	InputDir string `json:"input_dir"`
}

type ListSlidesOutput struct {
	Paths []string `json:"paths"`
}

type ResolveSlideInput struct {
	SlidePath string `json:"slide_path"`
}

type ResolveSlideOutput struct {
	SlideID     string `json:"slide_id"`
	Fingerprint string `json:"fingerprint"`
	FileDigest  string `json:"file_digest"`
}

type HasCachedBagInput struct {
	SlideID     string `json:"slide_id"`
	Fingerprint string `json:"fingerprint"`
}

type HasCachedBagOutput struct {
	Cached bool `json:"cached"`
}

type ExtractSlideInput struct {
	SlidePath   string `json:"slide_path"`
	SlideID     string `json:"slide_id"`
	Fingerprint string `json:"fingerprint"`
}

type ExtractSlideOutput struct {
	TileCount int `json:"tile_count"`
	Dropped   int `json:"dropped"`
}

type UpdateSlideStatusInput struct {
	SlideID    string `json:"slide_id"`
	CohortID   string `json:"cohort_id"`
	PatientID  string `json:"patient_id,omitempty"`
	Filename   string `json:"filename"`
	TileCount  int    `json:"tile_count,omitempty"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type WriteCohortSummaryInput struct {
	CohortID string         `json:"cohort_id"`
	Summary  map[string]any `json:"summary"`
}

type LoadCohortInput struct {
	TablePath   string `json:"table_path"`
	Fingerprint string `json:"fingerprint"`
}

type LoadCohortOutput struct {
	Table       *cohort.Table `json:"table"`
	Fingerprint string        `json:"fingerprint"`
}

type SplitFoldsInput struct {
	Patients []string          `json:"patients"`
	Labels   map[string]string `json:"labels"` // patient id -> label
	Folds    int               `json:"folds"`
	Seed     int64             `json:"seed"`
	Stratify bool              `json:"stratify"`
}

type SplitFoldsOutput struct {
	Folds []cv.Fold `json:"folds"`
}

type TrainFoldInput struct {
	RunID       string         `json:"run_id"`
	Fold        cv.Fold        `json:"fold"`
	Table       *cohort.Table  `json:"table"`
	Params      cv.TrainParams `json:"params"`
	Fingerprint string         `json:"fingerprint"`
}

type TrainFoldOutput struct {
	Result cv.FoldResult `json:"result"`
}

type AggregateRunInput struct {
	RunID   string          `json:"run_id"`
	Classes []string        `json:"classes"`
	Folds   []cv.FoldResult `json:"folds"`
}

type AggregateRunOutput struct {
	AccuracySummary cv.Summary `json:"accuracy_summary"`
	AUCSummary      cv.Summary `json:"auc_summary"`
	FailedFolds     int        `json:"failed_folds"`
	ManifestPath    string     `json:"manifest_path"`
}

type UpdateRunStatusInput struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}
