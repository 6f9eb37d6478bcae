// Package command runs a local program as a content source. The program gets
// the task query as its last argument and prints a JSON array of items.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"curator/internal/connector"
	"curator/internal/domain"
)

// Exit codes a source program can use to report a classified failure.
const (
	ExitInvalidQuery = 2
	ExitAuth         = 3
	ExitRateLimited  = 4
)

type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

func (c Command) Fetch(ctx context.Context, query string) ([]domain.CandidateItem, error) {
	if c.Path == "" {
		return nil, connector.Errorf(connector.KindInvalidQuery, "command is required")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args...), query)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		kind := connector.KindTransient
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			switch ee.ExitCode() {
			case ExitInvalidQuery:
				kind = connector.KindInvalidQuery
			case ExitAuth:
				kind = connector.KindAuth
			case ExitRateLimited:
				kind = connector.KindRateLimited
			}
		}
		return nil, &connector.Error{Kind: kind, Err: fmt.Errorf("command error: %v; stderr=%s", err, bytes.TrimSpace(stderr.Bytes()))}
	}

	var items []domain.CandidateItem
	if err := json.Unmarshal(stdout.Bytes(), &items); err != nil {
		return nil, connector.Errorf(connector.KindTransient, "decode command output: %w", err)
	}
	out := items[:0]
	for _, it := range items {
		if it.PlatformID != "" {
			out = append(out, it)
		}
	}
	return out, nil
}
