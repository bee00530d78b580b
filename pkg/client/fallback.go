package client

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// ErrNoSpeechCommand is returned when no local speech command is installed.
var ErrNoSpeechCommand = errors.New("client: no local speech command found")

// Speaker reads text aloud. It is used when the gateway could not
// synthesize a reply.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// SayFallback speaks through a local command such as macOS say or espeak.
// Text is spoken one sentence at a time so cancelling ctx stops speech at
// the next sentence boundary at the latest.
type SayFallback struct {
	Command string
	Args    []string

	// run executes one command; tests replace it.
	run func(ctx context.Context, name string, args ...string) error
}

// DefaultFallback picks say on macOS and espeak-ng or espeak elsewhere.
func DefaultFallback() (*SayFallback, error) {
	candidates := []string{"espeak-ng", "espeak"}
	if runtime.GOOS == "darwin" {
		candidates = []string{"say"}
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return &SayFallback{Command: path}, nil
		}
	}
	return nil, ErrNoSpeechCommand
}

func (f *SayFallback) Say(ctx context.Context, text string) error {
	if f.Command == "" {
		return ErrNoSpeechCommand
	}
	run := f.run
	if run == nil {
		run = runCommand
	}
	for _, sentence := range SplitSentences(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		args := append(append([]string(nil), f.Args...), sentence)
		if err := run(ctx, f.Command, args...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("speak with %s: %w", f.Command, err)
		}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
