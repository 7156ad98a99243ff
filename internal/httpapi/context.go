package httpapi

import (
	"context"
)

// serverBaseCtx is canceled when the process shuts down.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context that handlers join with the
// request context.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req and is additionally canceled when base is
// done. Request-scoped values stay visible.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
