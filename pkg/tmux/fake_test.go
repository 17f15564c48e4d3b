package tmux

import (
	"context"
	"strings"
	"sync"
)

// fakeTmux records invocations and answers them from a handler.
type fakeTmux struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(args []string) (string, error)
}

func newFakeTmux(h func(args []string) (string, error)) *fakeTmux {
	if h == nil {
		h = func([]string) (string, error) { return "", nil }
	}
	return &fakeTmux{handler: h}
}

func (f *fakeTmux) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	h := f.handler
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return h(args)
}

func (f *fakeTmux) Interactive(ctx context.Context, args ...string) error {
	_, err := f.Run(ctx, args...)
	return err
}

// subcommands returns the first word of every call in order.
func (f *fakeTmux) subcommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c[0]
	}
	return out
}

// find returns every call whose subcommand is sub.
func (f *fakeTmux) find(sub string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if c[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

func joined(args []string) string {
	return strings.Join(args, " ")
}

func noSession() error {
	return &CommandError{Args: []string{"has-session"}, ExitCode: 1, Stderr: "can't find session: Drone"}
}
