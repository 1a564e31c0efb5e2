package push

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// PermissionPrompter asks the citizen whether push notifications may be used.
type PermissionPrompter interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// StaticPrompter always answers with the same permission.
type StaticPrompter struct {
	Answer Permission
}

// RequestPermission implements PermissionPrompter.
func (s StaticPrompter) RequestPermission(context.Context) (Permission, error) {
	return s.Answer, nil
}

// TerminalPrompter asks on an interactive terminal. An empty answer grants
// permission; end of input without an answer leaves it undecided.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// RequestPermission implements PermissionPrompter.
func (p TerminalPrompter) RequestPermission(ctx context.Context) (Permission, error) {
	fmt.Fprint(p.Out, "Allow push notifications so the Digital Liberia mobile app can approve this login? [Y/n] ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return PermissionDefault, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return PermissionDefault, fmt.Errorf("read answer: %w", a.err)
		}
		if a.err == io.EOF && a.line == "" {
			return PermissionDefault, nil
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "", "y", "yes":
			return PermissionGranted, nil
		default:
			return PermissionDenied, nil
		}
	}
}
