package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
	"github.com/mattn/go-shellwords"
)

// execProvider runs an external command per request. The command reads one
// JSON request on stdin and writes JSON lines on stdout.
type execProvider struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text             string           `json:"text"`
	VoiceID          string           `json:"voice_id"`
	Model            string           `json:"model,omitempty"`
	VoiceSettings    VoiceSettings    `json:"voice_settings"`
	GenerationConfig GenerationConfig `json:"generation_config"`
	APIKey           string           `json:"api_key,omitempty"`
}

type execAlignment struct {
	Chars      []string `json:"chars"`
	StartTimes []int64  `json:"char_start_times_ms"`
	Durations  []int64  `json:"char_durations_ms"`
}

type execResponse struct {
	AudioBase64 string         `json:"audio_base64"`
	Alignment   *execAlignment `json:"alignment"`
	Final       bool           `json:"final"`
	Error       string         `json:"error"`
	Message     string         `json:"message"`
	Status      int            `json:"status"`
}

func NewExecProvider(command string) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	return &execProvider{cmd: args}, nil
}

func (e *execProvider) Synthesize(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:             req.Text,
		VoiceID:          req.Voice.ID,
		Model:            req.Voice.Model,
		VoiceSettings:    req.Voice.VoiceSettings,
		GenerationConfig: req.Voice.GenerationConfig,
		APIKey:           req.Credential.Key(),
	})
	if err != nil {
		return Result{}, wrap(ErrMalformedRequest, "encode request: %v", err)
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, wrap(ErrTransient, "start speech command: %v", err)
	}

	var (
		res      Result
		final    bool
		provider error
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			provider = wrap(ErrTransient, "decode speech command output: %v", err)
			break
		}
		if resp.Error != "" {
			provider = errorFromCode(resp.Error, resp.Message, resp.Status)
			break
		}
		chunk, err := decodeChunk(resp.AudioBase64, resp.Alignment)
		if err != nil {
			provider = err
			break
		}
		res.Append(chunk)
		if resp.Final {
			final = true
			break
		}
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if provider != nil {
		return Result{}, provider
	}
	if waitErr != nil && !final {
		return Result{}, wrap(ErrTransient, "speech command: %v: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if err := scanner.Err(); err != nil {
		return Result{}, wrap(ErrTransient, "read speech command output: %v", err)
	}
	return res, nil
}

func decodeChunk(audio string, align *execAlignment) (Result, error) {
	var res Result
	if audio != "" {
		pcm, err := base64.StdEncoding.DecodeString(audio)
		if err != nil {
			return Result{}, wrap(ErrTransient, "decode audio: %v", err)
		}
		res.Audio = pcm
	}
	if align != nil {
		res.Timings = append(res.Timings, charTimings(align.Chars, align.StartTimes, align.Durations))
	}
	return res, nil
}

func charTimings(chars []string, starts, durations []int64) []alignment.CharTiming {
	n := min(len(chars), len(starts), len(durations))
	out := make([]alignment.CharTiming, 0, n)
	for i := range n {
		out = append(out, alignment.CharTiming{Char: chars[i], StartMS: starts[i], DurationMS: durations[i]})
	}
	return out
}
