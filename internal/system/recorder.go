package system

import (
	"context"
	"strings"
	"sync"
)

// Recorder is a Runner test double shared by the pipeline packages. It
// records every invocation as a single command line and lets tests fail
// chosen commands or canned their output.
type Recorder struct {
	mu sync.Mutex

	// Commands holds each invocation joined with spaces, in order.
	Commands []string

	// FailOn maps a substring to the error returned for any command
	// line containing it.
	FailOn map[string]error

	// Outputs maps a substring to the stdout returned for any matching
	// Output call.
	Outputs map[string]string
}

var _ Runner = (*Recorder)(nil)

// Run records the invocation and fails it when a FailOn entry matches.
func (r *Recorder) Run(_ context.Context, name string, args ...string) error {
	line := r.record(name, args)
	return r.failure(line)
}

// Output records the invocation and returns a canned stdout when an
// Outputs entry matches.
func (r *Recorder) Output(_ context.Context, name string, args ...string) (string, error) {
	line := r.record(name, args)
	if err := r.failure(line); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for substr, out := range r.Outputs {
		if strings.Contains(line, substr) {
			return out, nil
		}
	}
	return "", nil
}

// Ran reports whether any recorded command line contains substr.
func (r *Recorder) Ran(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.Commands {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (r *Recorder) record(name string, args []string) string {
	line := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	r.Commands = append(r.Commands, line)
	r.mu.Unlock()
	return line
}

func (r *Recorder) failure(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for substr, err := range r.FailOn {
		if strings.Contains(line, substr) {
			return err
		}
	}
	return nil
}
