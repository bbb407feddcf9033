package ports

// Backend bundles every collaborator the dashboard talks to.
type Backend interface {
	EntitySource
	Optimizer
	JobService
	ModelStore
	ResultStore
}
