package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// FFPlaySink plays audio containers through an ffplay subprocess, one
// process per clip. It implements ports.AudioSink.
type FFPlaySink struct {
	command string
	log     *zap.Logger
}

func NewFFPlaySink(command string, log *zap.Logger) *FFPlaySink {
	if command == "" {
		command = "ffplay"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FFPlaySink{command: command, log: log}
}

func (s *FFPlaySink) Start(ctx context.Context, container []byte) (<-chan error, error) {
	cmd := exec.CommandContext(ctx, s.command,
		"-autoexit",
		"-nodisp",
		"-loglevel", "error",
		"-i", "-",
	)
	cmd.Stdin = bytes.NewReader(container)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player: %w", err)
	}
	s.log.Debug("playback started", zap.Int("bytes", len(container)))

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if err != nil && stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		done <- err
	}()
	return done, nil
}
