package workflows

import (
	"strings"
	"time"

	"pathflow/internal/activities"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetSlideStatus = "GetSlideStatus"
	QueryGetProgress    = "GetProgress"
	QueryGetRunProgress = "GetRunProgress"
)

// CohortPreprocessWorkflow fans a cohort's slide files out to per-slide
// child workflows in bounded batches. Slides are independent units of
// work; one failing slide never aborts the cohort.
func CohortPreprocessWorkflow(ctx workflow.Context, input CohortPreprocessInput) (string, error) {
	progress := CohortPreprocessProgress{
		CohortID:      input.CohortID,
		PerSlide:      map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (CohortPreprocessProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var listOut activities.ListSlidesOutput
	if err := workflow.ExecuteActivity(ctx, "ListSlidesActivity", activities.ListSlidesInput{InputDir: input.InputDir}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 4
	}

	for i := 0; i < len(paths); i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerSlide[path] = "processing"
			workflowID := "slide-" + sanitizeID(input.CohortID) + "-" + sanitizeID(filepathBase(path))
			cwo := workflow.ChildWorkflowOptions{WorkflowID: workflowID}
			childCtx := workflow.WithChildOptions(ctx, cwo)
			f := workflow.ExecuteChildWorkflow(childCtx, SlidePreprocessWorkflow, SlidePreprocessInput{
				CohortID:  input.CohortID,
				SlidePath: path,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				progress.Failed++
				progress.PerSlide[path] = "failed"
				continue
			}
			switch childStatus {
			case "failed":
				progress.Failed++
			case "cached":
				progress.Skipped++
			}
			progress.Done++
			progress.PerSlide[path] = childStatus
		}
	}

	_ = workflow.ExecuteActivity(ctx, "WriteCohortSummaryActivity", activities.WriteCohortSummaryInput{
		CohortID: input.CohortID,
		Summary: map[string]any{
			"cohort_id":        input.CohortID,
			"total":            progress.Total,
			"done":             progress.Done,
			"failed":           progress.Failed,
			"skipped_cached":   progress.Skipped,
			"per_slide_status": progress.PerSlide,
			"generated_at":     workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

// SlidePreprocessWorkflow runs one slide through resolve, cache check,
// tessellate+extract+store, and status bookkeeping. An empty-tissue
// slide or a mostly unreadable slide fails gracefully with a recorded
// reason; already-cached slides are skipped, which is what makes a rerun
// after interruption cheap.
func SlidePreprocessWorkflow(ctx workflow.Context, input SlidePreprocessInput) (string, error) {
	status := SlideStatus{
		SlidePath:   input.SlidePath,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetSlideStatus, func() (SlideStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	filename := filepathBase(input.SlidePath)

	status.CurrentStep = "resolve_slide"
	status.Steps[status.CurrentStep] = "processing"
	var resolveOut activities.ResolveSlideOutput
	if err := workflow.ExecuteActivity(ctx, "ResolveSlideActivity", activities.ResolveSlideInput{SlidePath: input.SlidePath}).Get(ctx, &resolveOut); err != nil {
		if isSlideUnreadableError(err) {
			status.Status = "failed"
			status.FailReason = "slide file unreadable"
			status.Steps[status.CurrentStep] = "failed"
			return status.Status, nil
		}
		return "", err
	}
	status.SlideID = resolveOut.SlideID
	status.Fingerprint = resolveOut.Fingerprint
	status.FileDigest = resolveOut.FileDigest
	status.Steps[status.CurrentStep] = "done"

	_ = workflow.ExecuteActivity(ctx, "UpdateSlideStatusActivity", activities.UpdateSlideStatusInput{
		SlideID: resolveOut.SlideID, CohortID: input.CohortID, Filename: filename, Status: "processing",
	}).Get(ctx, nil)

	status.CurrentStep = "check_cache"
	status.Steps[status.CurrentStep] = "processing"
	var hasOut activities.HasCachedBagOutput
	if err := workflow.ExecuteActivity(ctx, "HasCachedBagActivity", activities.HasCachedBagInput{
		SlideID: resolveOut.SlideID, Fingerprint: resolveOut.Fingerprint,
	}).Get(ctx, &hasOut); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	if hasOut.Cached {
		status.Cached = true
		status.Status = "cached"
		_ = workflow.ExecuteActivity(ctx, "UpdateSlideStatusActivity", activities.UpdateSlideStatusInput{
			SlideID: resolveOut.SlideID, CohortID: input.CohortID, Filename: filename, Status: "processed",
		}).Get(ctx, nil)
		return status.Status, nil
	}

	status.CurrentStep = "extract"
	status.Steps[status.CurrentStep] = "processing"
	var extractOut activities.ExtractSlideOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractSlideActivity", activities.ExtractSlideInput{
		SlidePath: input.SlidePath, SlideID: resolveOut.SlideID, Fingerprint: resolveOut.Fingerprint,
	}).Get(ctx, &extractOut); err != nil {
		reason := ""
		switch {
		case isEmptyTissueError(err):
			reason = "no tissue tiles found after segmentation"
		case isMostlyFailedError(err):
			reason = "too many tile reads failed"
		case isSlideUnreadableError(err):
			reason = "slide file unreadable"
		}
		if reason != "" {
			status.Status = "failed"
			status.FailReason = reason
			status.Steps[status.CurrentStep] = "failed"
			_ = workflow.ExecuteActivity(ctx, "UpdateSlideStatusActivity", activities.UpdateSlideStatusInput{
				SlideID: resolveOut.SlideID, CohortID: input.CohortID, Filename: filename,
				Status: "failed", FailReason: reason,
			}).Get(ctx, nil)
			return status.Status, nil
		}
		return "", err
	}
	status.TileCount = extractOut.TileCount
	status.Dropped = extractOut.Dropped
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_processed"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpdateSlideStatusActivity", activities.UpdateSlideStatusInput{
		SlideID: resolveOut.SlideID, CohortID: input.CohortID, Filename: filename,
		TileCount: extractOut.TileCount, Status: "processed",
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = "processed"
	return status.Status, nil
}

func isEmptyTissueError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no tissue tiles")
}

func isMostlyFailedError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "tile reads failed")
}

func isSlideUnreadableError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "slide file unreadable")
}

func filepathBase(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
