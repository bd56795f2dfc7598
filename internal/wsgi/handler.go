package wsgi

import (
	"context"
	"time"

	"github.com/danmuck/fcgiwsgi/internal/interp"
	"github.com/danmuck/fcgiwsgi/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
)

// Serve runs the application for one request and streams its body to res.
// false means the transport should answer with a generic failure.
func (a *Application) Serve(ctx context.Context, req Request, res Response) bool {
	start := time.Now()
	id := uuid.NewString()
	logger := log.With().Str("application", a.name).Str("request_id", id).Logger()

	outcome := a.serve(ctx, id, req, res, logger)
	observability.RecordServe(a.name, outcome, time.Since(start))
	logger.Debug().
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("wsgi.Serve done")
	return outcome == observability.OutcomeOK
}

func (a *Application) serve(ctx context.Context, id string, req Request, res Response, logger zerolog.Logger) string {
	held := a.rt.ExecGuard().Acquire()
	defer held.Release()
	observability.RecordGuardWait(held.Waited())

	fn := a.app.Get()
	if fn == nil {
		logger.Error().Msg("wsgi.Serve application already shut down")
		return observability.OutcomeCallError
	}

	thread := a.rt.NewThread(id)
	interp.SetHeld(thread, held)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	env := BuildEnvironment(thread, req, a.version, logger)
	sink := NewSink(res, logger)

	result, err := starlark.Call(thread, fn, starlark.Tuple{env, sink.Callable()}, nil)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn().Err(context.Cause(ctx)).Msg("wsgi.Serve call canceled")
			return observability.OutcomeCanceled
		}
		logger.Error().Str("trace", interp.Describe(err)).Msg("wsgi.Serve call failed")
		return observability.OutcomeCallError
	}
	defer closeResult(thread, result, logger)

	iter := starlark.Iterate(result)
	if iter == nil {
		logger.Warn().Str("type", result.Type()).Msg("wsgi.Serve result not iterable")
		return observability.OutcomeNotIterable
	}
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		chunk, ok := elem.(starlark.Bytes)
		if !ok {
			logger.Warn().Str("type", elem.Type()).Msg("wsgi.Serve skipping non-bytes chunk")
			observability.RecordChunk(a.name, 0, false)
			elem = nil
			continue
		}
		body := []byte(chunk)
		elem = nil

		err := held.Unlocked(func() error {
			_, err := res.Write(body)
			return err
		})
		if err != nil {
			logger.Warn().Err(err).Int("bytes", len(body)).Msg("wsgi.Serve body write failed")
			return observability.OutcomeWriteError
		}
		observability.RecordChunk(a.name, len(body), true)

		if ctx.Err() != nil {
			logger.Warn().Err(context.Cause(ctx)).Msg("wsgi.Serve canceled mid-body")
			return observability.OutcomeCanceled
		}
	}

	if failed, ok := iter.(interface{ Err() error }); ok && failed.Err() != nil {
		if ctx.Err() != nil {
			logger.Warn().Err(context.Cause(ctx)).Msg("wsgi.Serve iteration canceled")
			return observability.OutcomeCanceled
		}
		logger.Error().Str("trace", interp.Describe(failed.Err())).Msg("wsgi.Serve iteration failed")
		return observability.OutcomeIterError
	}
	if ctx.Err() != nil {
		logger.Warn().Err(context.Cause(ctx)).Msg("wsgi.Serve canceled before body end")
		return observability.OutcomeCanceled
	}
	if _, set := sink.Status(); !set {
		logger.Warn().Msg("wsgi.Serve application never called start_response")
	}
	return observability.OutcomeOK
}

// closeResult calls result.close() when the application returned an
// object that has one.
func closeResult(thread *starlark.Thread, result starlark.Value, logger zerolog.Logger) {
	attrs, ok := result.(starlark.HasAttrs)
	if !ok {
		return
	}
	closer, err := attrs.Attr("close")
	if err != nil || closer == nil {
		return
	}
	if _, err := starlark.Call(thread, closer, nil, nil); err != nil {
		logger.Warn().Str("trace", interp.Describe(err)).Msg("wsgi.Serve result close failed")
	}
}
