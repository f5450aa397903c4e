package workflows

import (
	"context"
	"testing"

	"pathflow/internal/activities"
	"pathflow/internal/cohort"
	"pathflow/internal/cv"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func testTable() *cohort.Table {
	return &cohort.Table{
		Labels:        map[string]string{"s1": "MSIH", "s2": "nonMSIH", "s3": "MSIH", "s4": "nonMSIH"},
		PatientOf:     map[string]string{"s1": "p1", "s2": "p2", "s3": "p3", "s4": "p4"},
		PatientSlides: map[string][]string{"p1": {"s1"}, "p2": {"s2"}, "p3": {"s3"}, "p4": {"s4"}},
		PatientLabel:  map[string]string{"p1": "MSIH", "p2": "nonMSIH", "p3": "MSIH", "p4": "nonMSIH"},
		Classes:       []string{"MSIH", "nonMSIH"},
	}
}

func registerCVActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "UpdateRunStatusActivity", func(context.Context, activities.UpdateRunStatusInput) error { return nil })
	registerActivityName(env, "LoadCohortActivity", func(context.Context, activities.LoadCohortInput) (activities.LoadCohortOutput, error) {
		return activities.LoadCohortOutput{}, nil
	})
	registerActivityName(env, "SplitFoldsActivity", func(context.Context, activities.SplitFoldsInput) (activities.SplitFoldsOutput, error) {
		return activities.SplitFoldsOutput{}, nil
	})
	registerActivityName(env, "TrainFoldActivity", func(context.Context, activities.TrainFoldInput) (activities.TrainFoldOutput, error) {
		return activities.TrainFoldOutput{}, nil
	})
	registerActivityName(env, "AggregateRunActivity", func(context.Context, activities.AggregateRunInput) (activities.AggregateRunOutput, error) {
		return activities.AggregateRunOutput{}, nil
	})
}

func TestCrossValidationWorkflowCompletes(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CrossValidationWorkflow)
	registerCVActivities(env)

	folds := []cv.Fold{
		{Index: 0, TrainPatients: []string{"p3", "p4"}, ValPatients: []string{"p1", "p2"}},
		{Index: 1, TrainPatients: []string{"p1", "p2"}, ValPatients: []string{"p3", "p4"}},
	}

	env.OnActivity("UpdateRunStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("LoadCohortActivity", mock.Anything, mock.Anything).Return(activities.LoadCohortOutput{Table: testTable(), Fingerprint: "fp1"}, nil)
	env.OnActivity("SplitFoldsActivity", mock.Anything, mock.Anything).Return(activities.SplitFoldsOutput{Folds: folds}, nil)
	env.OnActivity("TrainFoldActivity", mock.Anything, mock.MatchedBy(func(in activities.TrainFoldInput) bool { return in.Fold.Index == 0 })).
		Return(activities.TrainFoldOutput{Result: cv.FoldResult{Fold: 0, Metrics: cv.FoldMetrics{Accuracy: 0.75, Slides: 2}}}, nil)
	env.OnActivity("TrainFoldActivity", mock.Anything, mock.MatchedBy(func(in activities.TrainFoldInput) bool { return in.Fold.Index == 1 })).
		Return(activities.TrainFoldOutput{Result: cv.FoldResult{Fold: 1, Failed: true, FailReason: "training loss became non-finite"}}, nil)
	env.OnActivity("AggregateRunActivity", mock.Anything, mock.MatchedBy(func(in activities.AggregateRunInput) bool {
		return in.RunID == "run1" && len(in.Folds) == 2
	})).Return(activities.AggregateRunOutput{FailedFolds: 1}, nil)

	env.ExecuteWorkflow(CrossValidationWorkflow, CrossValidationInput{
		RunID: "run1", CohortID: "tcga-crc", TablePath: "/data/cohort.csv",
		Folds: 2, Seed: 7, Stratify: true,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "completed", out)
}

func TestCrossValidationWorkflowAllFoldsFailed(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CrossValidationWorkflow)
	registerCVActivities(env)

	folds := []cv.Fold{
		{Index: 0, TrainPatients: []string{"p3", "p4"}, ValPatients: []string{"p1", "p2"}},
		{Index: 1, TrainPatients: []string{"p1", "p2"}, ValPatients: []string{"p3", "p4"}},
	}

	env.OnActivity("UpdateRunStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("LoadCohortActivity", mock.Anything, mock.Anything).Return(activities.LoadCohortOutput{Table: testTable(), Fingerprint: "fp1"}, nil)
	env.OnActivity("SplitFoldsActivity", mock.Anything, mock.Anything).Return(activities.SplitFoldsOutput{Folds: folds}, nil)
	env.OnActivity("TrainFoldActivity", mock.Anything, mock.Anything).
		Return(activities.TrainFoldOutput{Result: cv.FoldResult{Failed: true, FailReason: "training loss became non-finite"}}, nil)

	env.ExecuteWorkflow(CrossValidationWorkflow, CrossValidationInput{
		RunID: "run1", CohortID: "tcga-crc", TablePath: "/data/cohort.csv",
		Folds: 2, Seed: 7, Stratify: true,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
