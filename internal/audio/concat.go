package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Concatenator writes pieces to a single audio file at out.
type Concatenator interface {
	Concat(ctx context.Context, pieces []Piece, out string) error
}

// ExecConcatenator drives ffmpeg. Silence comes from the anullsrc filter
// and every input is joined by a single concat filter.
type ExecConcatenator struct {
	cmd        []string
	sampleRate int
}

func NewExecConcatenator(command string, sampleRate int) (*ExecConcatenator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command empty")
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &ExecConcatenator{cmd: args, sampleRate: sampleRate}, nil
}

// Args returns the full argument list used for pieces.
func (e *ExecConcatenator) Args(pieces []Piece, out string) []string {
	args := append([]string{}, e.cmd[1:]...)
	for _, p := range pieces {
		if p.Path != "" {
			args = append(args, "-i", p.Path)
			continue
		}
		args = append(args,
			"-f", "lavfi",
			"-t", strconv.FormatFloat(p.Silence.Seconds(), 'f', -1, 64),
			"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", e.sampleRate))
	}
	var filter strings.Builder
	for i := range pieces {
		fmt.Fprintf(&filter, "[%d:a]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[out]", len(pieces))
	return append(args, "-filter_complex", filter.String(), "-map", "[out]", out)
}

func (e *ExecConcatenator) Concat(ctx context.Context, pieces []Piece, out string) error {
	if len(pieces) == 0 {
		return errors.New("no audio to concatenate")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".tmp.mp3")
	cmd := exec.CommandContext(ctx, e.cmd[0], e.Args(pieces, tmp)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("concatenate audio: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("concatenate audio: %w", err)
	}
	return nil
}
