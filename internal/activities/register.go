package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListSlidesActivity)
	w.RegisterActivity(a.ResolveSlideActivity)
	w.RegisterActivity(a.HasCachedBagActivity)
	w.RegisterActivity(a.ExtractSlideActivity)
	w.RegisterActivity(a.UpdateSlideStatusActivity)
	w.RegisterActivity(a.WriteCohortSummaryActivity)
	w.RegisterActivity(a.LoadCohortActivity)
	w.RegisterActivity(a.SplitFoldsActivity)
	w.RegisterActivity(a.TrainFoldActivity)
	w.RegisterActivity(a.AggregateRunActivity)
	w.RegisterActivity(a.UpdateRunStatusActivity)
}
