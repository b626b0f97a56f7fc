package session

import (
	"context"
	"log/slog"

	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/rpc"
)

// outbox issues backend calls without waiting for them. Failures are only logged:
// the backend owns the effect of every call.
type outbox struct {
	ctx     context.Context
	caller  rpc.Caller
	logger  *slog.Logger
	metrics *metrics.Viewer
}

func (o *outbox) send(method string, args any) *rpc.Call {
	call := o.caller.Go(o.ctx, method, args)
	o.metrics.CallIssued(method)

	select {
	case <-call.Done():
		o.report(call)
	default:
		go func() {
			<-call.Done()
			o.report(call)
		}()
	}
	return call
}

func (o *outbox) report(call *rpc.Call) {
	if call.Error == nil {
		return
	}
	o.metrics.CallFailed(call.Method)
	o.logger.Warn("backend call failed", "method", call.Method, "error", call.Error)
}
