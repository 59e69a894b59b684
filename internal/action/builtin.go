package action

import "github.com/tbmahfudi/app-buildify-sub002/internal/ir"

// Deps are the collaborators of the built-in handlers. A nil collaborator
// still registers its handler; executing it fails with a configuration
// error instead of an unknown-type error.
type Deps struct {
	Notifier Notifier
	Caller   EndpointCaller
	Retry    RetryPolicy
	Records  ir.RecordStore
}

// NewBuiltinRegistry registers send-notification, call-external-endpoint
// and mutate-record. trigger-workflow-transition is registered by the
// caller once the workflow engine exists, via RegisterTransitioner.
func NewBuiltinRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(NewNotificationHandler(d.Notifier))

	caller := d.Caller
	if caller == nil {
		caller = NewHTTPCaller(DefaultCallTimeout)
	}
	retry := d.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	r.Register(NewEndpointHandler(caller, retry))
	r.Register(NewMutateHandler(d.Records))
	r.Register(NewTransitionHandler(nil))
	return r
}

// RegisterTransitioner binds trigger-workflow-transition to an engine.
func (r *Registry) RegisterTransitioner(t Transitioner) {
	r.Register(NewTransitionHandler(t))
}
