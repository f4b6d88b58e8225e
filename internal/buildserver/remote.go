package buildserver

import (
	"context"

	"github.com/Norgate-AV/csx/internal/compiler"
)

// Remote compiles by forwarding requests to the daemon
type Remote struct {
	client  *Client
	backend compiler.Backend
}

// NewRemote creates a compiler that sends backend command lines to the daemon
func NewRemote(client *Client, backend compiler.Backend) *Remote {
	return &Remote{
		client:  client,
		backend: backend,
	}
}

// Compile sends req to the daemon. An ErrUnavailable error means nothing
// was compiled and the caller may compile locally instead.
func (r *Remote) Compile(ctx context.Context, req *compiler.Request) (*compiler.Result, error) {
	out, code, err := r.client.SendBuildRequest(ctx, r.backend.ID, r.backend.Args(req))
	if err != nil {
		return nil, err
	}

	return compiler.NewResult(code, out, req), nil
}
