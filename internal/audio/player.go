package audio

import (
	"context"
	"fmt"
	"os/exec"

	"orangeclock/pkg/logx"
)

// Player turns a clip path into sound. Implementations must respect the
// context so a shutdown (or action timeout) can cut playback short.
type Player interface {
	Play(ctx context.Context, path string) error
}

// DefaultCommand is used when no player command is configured. ffplay exits
// on its own when the clip ends, which is exactly what an alarm wants.
var DefaultCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}

// ExecPlayer shells out to an external player binary, appending the clip
// path as the final argument.
type ExecPlayer struct {
	command []string
	log     logx.Logger
}

func NewExecPlayer(command []string, log logx.Logger) *ExecPlayer {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &ExecPlayer{command: command, log: log}
}

func (p *ExecPlayer) Play(ctx context.Context, path string) error {
	args := append(append([]string(nil), p.command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)

	p.log.Debug("playback start",
		logx.String("player", p.command[0]),
		logx.String("clip", path))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("playback interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("player %s: %w", p.command[0], err)
	}
	return nil
}

// NopPlayer is used when playback is disabled; it logs and returns.
type NopPlayer struct {
	log logx.Logger
}

func NewNopPlayer(log logx.Logger) *NopPlayer { return &NopPlayer{log: log} }

func (p *NopPlayer) Play(_ context.Context, path string) error {
	p.log.Info("playback disabled, skipping clip", logx.String("clip", path))
	return nil
}
