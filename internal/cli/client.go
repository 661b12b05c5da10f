package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/colebrumley/areamgr/internal/providers/rest"
)

const apiTimeout = 30 * time.Second

// apiClient talks to a running daemon. Operator commands are not retried.
func apiClient(opts *RootOptions) *rest.Client {
	return rest.New(opts.Addr,
		rest.WithPolicy(rest.Policy{Attempts: 1}),
		rest.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// call issues one API request and decodes the JSON response into out.
func call(ctx context.Context, opts *RootOptions, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	if err := apiClient(opts).JSON(ctx, method, path, in, out); err != nil {
		return apiError(err)
	}
	return nil
}

// apiError prefers the daemon's own error message over the raw response.
func apiError(err error) error {
	var serr *rest.StatusError
	if !errors.As(err, &serr) {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(serr.Body), &body) == nil && body.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", body.Error, serr.Status)
	}
	return serr
}
