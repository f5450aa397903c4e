package workflows

import "pathflow/internal/cv"

type CohortPreprocessInput struct {
	CohortID              string `json:"cohort_id"`
	InputDir              string `json:"input_dir"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
}

type SlidePreprocessInput struct {
	CohortID  string `json:"cohort_id"`
	SlidePath string `json:"slide_path"`
}

type CrossValidationInput struct {
	RunID     string         `json:"run_id"`
	CohortID  string         `json:"cohort_id"`
	TablePath string         `json:"table_path"`
	Folds     int            `json:"folds"`
	Seed      int64          `json:"seed"`
	Stratify  bool           `json:"stratify"`
	Train     cv.TrainParams `json:"train"`
}

type SlideStatus struct {
	SlideID     string            `json:"slide_id"`
	SlidePath   string            `json:"slide_path"`
	Fingerprint string            `json:"fingerprint"`
	FileDigest  string            `json:"file_digest,omitempty"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Steps       map[string]string `json:"steps"`
	TileCount   int               `json:"tile_count"`
	Dropped     int               `json:"dropped"`
	Cached      bool              `json:"cached"`
}

type CohortPreprocessProgress struct {
	CohortID      string            `json:"cohort_id"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	PerSlide      map[string]string `json:"per_slide"`
	ChildWorkflow map[string]string `json:"child_workflow"`
}

type CrossValidationProgress struct {
	RunID       string         `json:"run_id"`
	CohortID    string         `json:"cohort_id"`
	Folds       int            `json:"folds"`
	PerFold     map[int]string `json:"per_fold"`
	FailedFolds int            `json:"failed_folds"`
	Status      string         `json:"status"`
}
