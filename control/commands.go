package control

import (
	"context"
	"fmt"
	"time"

	labrecerrors "github.com/c360/labrecorder/errors"
	"github.com/c360/labrecorder/health"
	"github.com/c360/labrecorder/recorder"
)

// dispatch executes one Request against ctrl and builds its Response. It
// never panics on malformed input — every error path returns a
// {ok:false, error:{kind,message}} Response instead.
func dispatch(ctx context.Context, ctrl *recorder.Controller, req Request) Response {
	switch req.Command {
	case "status":
		return ok(ctrl.StatusReport())

	case "streams":
		return ok(ctrl.AvailableStreams())

	case "update":
		discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		streams, err := ctrl.UpdateStreams(discoverCtx)
		if err != nil {
			return toErrorResponse(err)
		}
		return ok(streams)

	case "select":
		if len(req.Args) == 0 {
			return fail("BadRequest", "select requires \"all\", \"none\", or one or more stream uids")
		}
		selected, err := ctrl.Select(req.Args)
		if err != nil {
			return toErrorResponse(err)
		}
		return ok(selected)

	case "start":
		if err := ctrl.Start(); err != nil {
			return toErrorResponse(err)
		}
		return ok(map[string]bool{"recording": true})

	case "stop":
		if err := ctrl.Stop(); err != nil {
			return toErrorResponse(err)
		}
		return ok(map[string]bool{"recording": false})

	case "filename":
		if len(req.Args) == 0 {
			return fail("BadRequest", "filename requires a path or template spec")
		}
		spec := joinArgs(req.Args)
		resolved, err := ctrl.SetFilename(spec)
		if err != nil {
			return toErrorResponse(err)
		}
		return ok(resolved)

	case "get_filename":
		return ok(ctrl.Filename())

	default:
		return fail("BadRequest", fmt.Sprintf("unknown command %q", req.Command))
	}
}

func joinArgs(args []string) string {
	spec := ""
	for i, a := range args {
		if i > 0 {
			spec += " "
		}
		spec += a
	}
	return spec
}

// toErrorResponse classifies err via the errors package's Kind taxonomy,
// falling back to InvalidState for anything unclassified, and scrubs the
// message before it crosses the control channel.
func toErrorResponse(err error) Response {
	kind := labrecerrors.ClassifyKind(err)
	if kind == labrecerrors.KindUnknown {
		kind = labrecerrors.KindInvalidState
	}
	return fail(kind.String(), health.Sanitize(err))
}
