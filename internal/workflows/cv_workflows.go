package workflows

import (
	"time"

	"pathflow/internal/activities"
	"pathflow/internal/cv"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// CrossValidationWorkflow drives a full k-fold run: load the labelled
// cohort, split patients into folds, train every fold in parallel, then
// aggregate. A diverged fold is recorded and skipped rather than failing
// the run; the run only errors when no fold produced a model.
func CrossValidationWorkflow(ctx workflow.Context, input CrossValidationInput) (string, error) {
	progress := CrossValidationProgress{
		RunID:    input.RunID,
		CohortID: input.CohortID,
		Folds:    input.Folds,
		PerFold:  map[int]string{},
		Status:   "running",
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetRunProgress, func() (CrossValidationProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	_ = workflow.ExecuteActivity(ctx, "UpdateRunStatusActivity", activities.UpdateRunStatusInput{
		RunID: input.RunID, Status: "running",
	}).Get(ctx, nil)

	var cohortOut activities.LoadCohortOutput
	if err := workflow.ExecuteActivity(ctx, "LoadCohortActivity", activities.LoadCohortInput{
		TablePath: input.TablePath,
	}).Get(ctx, &cohortOut); err != nil {
		return failRun(ctx, &progress, input.RunID, err)
	}

	var splitOut activities.SplitFoldsOutput
	if err := workflow.ExecuteActivity(ctx, "SplitFoldsActivity", activities.SplitFoldsInput{
		Patients: cohortOut.Table.Patients(),
		Labels:   cohortOut.Table.PatientLabel,
		Folds:    input.Folds,
		Seed:     input.Seed,
		Stratify: input.Stratify,
	}).Get(ctx, &splitOut); err != nil {
		return failRun(ctx, &progress, input.RunID, err)
	}

	futures := make([]workflow.Future, len(splitOut.Folds))
	for i, fold := range splitOut.Folds {
		progress.PerFold[fold.Index] = "training"
		futures[i] = workflow.ExecuteActivity(ctx, "TrainFoldActivity", activities.TrainFoldInput{
			RunID:       input.RunID,
			Fold:        fold,
			Table:       cohortOut.Table,
			Params:      input.Train,
			Fingerprint: cohortOut.Fingerprint,
		})
	}

	results := make([]cv.FoldResult, 0, len(futures))
	healthy := 0
	for i, f := range futures {
		var out activities.TrainFoldOutput
		idx := splitOut.Folds[i].Index
		if err := f.Get(ctx, &out); err != nil {
			progress.PerFold[idx] = "failed"
			progress.FailedFolds++
			results = append(results, cv.FoldResult{Fold: idx, Failed: true, FailReason: err.Error()})
			continue
		}
		if out.Result.Failed {
			progress.PerFold[idx] = "failed"
			progress.FailedFolds++
		} else {
			progress.PerFold[idx] = "done"
			healthy++
		}
		results = append(results, out.Result)
	}
	if healthy == 0 {
		return failRun(ctx, &progress, input.RunID, temporal.NewApplicationError("every fold failed to train", "AllFoldsFailed"))
	}

	var aggOut activities.AggregateRunOutput
	if err := workflow.ExecuteActivity(ctx, "AggregateRunActivity", activities.AggregateRunInput{
		RunID:   input.RunID,
		Classes: cohortOut.Table.Classes,
		Folds:   results,
	}).Get(ctx, &aggOut); err != nil {
		return failRun(ctx, &progress, input.RunID, err)
	}

	progress.Status = "completed"
	if err := workflow.ExecuteActivity(ctx, "UpdateRunStatusActivity", activities.UpdateRunStatusInput{
		RunID: input.RunID, Status: "completed",
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	return progress.Status, nil
}

func failRun(ctx workflow.Context, progress *CrossValidationProgress, runID string, err error) (string, error) {
	progress.Status = "failed"
	_ = workflow.ExecuteActivity(ctx, "UpdateRunStatusActivity", activities.UpdateRunStatusInput{
		RunID: runID, Status: "failed",
	}).Get(ctx, nil)
	return "", err
}
