package workflows

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker) {
	w.RegisterWorkflow(CohortPreprocessWorkflow)
	w.RegisterWorkflow(SlidePreprocessWorkflow)
	w.RegisterWorkflow(CrossValidationWorkflow)
}
