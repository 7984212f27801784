package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/Veraticus/fitcheck/internal/service"
)

// ExecPlayer plays audio files through an external command such as
// "afplay" or "mpv --no-video". Pause stops the current playback.
type ExecPlayer struct {
	cmd    *exec.Cmd
	logger *slog.Logger
	done   chan struct{}
	args   []string
	mu     sync.Mutex
}

var _ service.AudioPlayer = (*ExecPlayer)(nil)

// NewExecPlayer creates a player from a command line. The file path is
// appended as the last argument.
func NewExecPlayer(command string, logger *slog.Logger) (*ExecPlayer, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("audio player command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPlayer{args: args, logger: logger}, nil
}

// Play starts playing path, stopping anything already playing.
func (p *ExecPlayer) Play(ctx context.Context, path string) error {
	p.Pause()

	p.mu.Lock()
	defer p.mu.Unlock()

	args := append(append([]string(nil), p.args[1:]...), path)
	cmd := exec.CommandContext(ctx, p.args[0], args...) //nolint:gosec // player command comes from the user's own config
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start audio player: %w", err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Debug("audio player exited", "error", err)
		}
		close(done)
	}()
	return nil
}

// Wait blocks until the current playback ends or ctx is done.
func (p *ExecPlayer) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops playback. It is safe to call when nothing is playing.
func (p *ExecPlayer) Pause() {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		p.logger.Debug("failed to stop audio player", "error", err)
	}
	<-done
}
