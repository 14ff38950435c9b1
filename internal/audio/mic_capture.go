package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/U1000000000000/Lila/internal/ports"
)

// MicCapture streams microphone PCM audio through an ffmpeg subprocess.
type MicCapture struct {
	command string
	log     *zap.Logger
}

func NewMicCapture(command string, log *zap.Logger) *MicCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MicCapture{command: command, log: log}
}

func (c *MicCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}

	c.log.Debug("microphone capture starting",
		zap.String("input", cfg.InputDevice),
		zap.Int("sampleRate", cfg.SampleRate),
	)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// A recorder that dies immediately usually means the device is missing
	// or access was denied; surface that instead of handing out a dead pipe.
	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("recorder exited before capture started: %s", detail)
	case <-time.After(250 * time.Millisecond):
	}

	return &micSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		log:     c.log,
	}, nil
}

type micSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error
	log     *zap.Logger

	stopOnce sync.Once
	stopErr  error
}

func (s *micSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *micSession) Close() error {
	return s.Stop()
}

// Stop releases the capture stream. Safe to call more than once; later calls
// return the first outcome.
func (s *micSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeExit(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
		s.log.Debug("microphone capture stopped", zap.Error(s.stopErr))
	})

	return s.stopErr
}

// Interrupting ffmpeg makes it exit non-zero; that is a normal stop, not a
// capture failure.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
