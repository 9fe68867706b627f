package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Receive.Decrypt != nil && s.deps.Receive.RecordFull != nil
}

func (s Service) ValidateCallback(ctx context.Context, req CallbackRequest) Verdict {
	return RunValidateCallback(ctx, req, s.deps.Callback)
}

func (s Service) Receive(ctx context.Context, req CallbackRequest) ReceiveResult {
	return RunReceive(ctx, req, s.deps.Receive)
}

func (s Service) Cleanup(ctx context.Context) CleanupResult {
	return RunCleanup(ctx, s.deps.Cleanup)
}
