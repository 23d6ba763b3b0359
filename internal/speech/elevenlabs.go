package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

const DefaultElevenLabsEndpoint = "wss://api.elevenlabs.io"

type ElevenLabsOptions struct {
	// Endpoint is the ws(s) or http(s) root of the API.
	Endpoint string
	Timeout  time.Duration
}

type elevenLabsStream struct {
	endpoint string
	timeout  time.Duration
}

// NewElevenLabsStream returns a provider speaking the stream-input websocket
// protocol.
func NewElevenLabsStream(opts ElevenLabsOptions) Provider {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultElevenLabsEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &elevenLabsStream{endpoint: endpoint, timeout: timeout}
}

type streamInput struct {
	Text                 string            `json:"text"`
	TryTriggerGeneration bool              `json:"try_trigger_generation,omitempty"`
	APIKey               string            `json:"xi_api_key,omitempty"`
	VoiceSettings        *VoiceSettings    `json:"voice_settings,omitempty"`
	GenerationConfig     *GenerationConfig `json:"generation_config,omitempty"`
}

type streamAlignment struct {
	Chars            []string `json:"chars"`
	CharStartTimesMs []int64  `json:"charStartTimesMs"`
	CharDurationsMs  []int64  `json:"charDurationsMs"`
}

type streamOutput struct {
	Audio     string           `json:"audio"`
	Alignment *streamAlignment `json:"alignment"`
	IsFinal   bool             `json:"isFinal"`
	Error     string           `json:"error"`
	Message   string           `json:"message"`
	Code      int              `json:"code"`
}

func (e *elevenLabsStream) streamURL(voice Voice) string {
	u := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input", e.endpoint, url.PathEscape(voice.ID))
	if voice.Model != "" {
		u += "?model_id=" + url.QueryEscape(voice.Model)
	}
	return u
}

func (e *elevenLabsStream) Synthesize(ctx context.Context, req Request) (Result, error) {
	cfg, err := websocket.NewConfig(e.streamURL(req.Voice), "http://localhost/")
	if err != nil {
		return Result{}, wrap(ErrMalformedRequest, "stream url: %v", err)
	}
	cfg.Header = http.Header{}
	if key := req.Credential.Key(); key != "" {
		cfg.Header.Set("xi-api-key", key)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	conn, err := cfg.DialContext(dialCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, wrap(ErrTransient, "dial stream: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(e.timeout))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	text := req.Text
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	settings := req.Voice.VoiceSettings
	input := streamInput{
		Text:                 text,
		TryTriggerGeneration: true,
		APIKey:               req.Credential.Key(),
		VoiceSettings:        &settings,
	}
	if len(req.Voice.GenerationConfig.ChunkLengthSchedule) > 0 {
		gen := req.Voice.GenerationConfig
		input.GenerationConfig = &gen
	}
	if err := websocket.JSON.Send(conn, input); err != nil {
		return Result{}, e.connErr(ctx, "send text", err)
	}
	if err := websocket.JSON.Send(conn, streamInput{Text: ""}); err != nil {
		return Result{}, e.connErr(ctx, "send end of stream", err)
	}

	var res Result
	for {
		var msg streamOutput
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			if errors.Is(err, io.EOF) {
				return Result{}, wrap(ErrTransient, "stream closed before final message")
			}
			return Result{}, e.connErr(ctx, "receive", err)
		}
		if msg.Error != "" {
			return Result{}, errorFromCode(msg.Error, msg.Message, msg.Code)
		}
		var align *execAlignment
		if msg.Alignment != nil {
			align = &execAlignment{
				Chars:      msg.Alignment.Chars,
				StartTimes: msg.Alignment.CharStartTimesMs,
				Durations:  msg.Alignment.CharDurationsMs,
			}
		}
		chunk, err := decodeChunk(msg.Audio, align)
		if err != nil {
			return Result{}, err
		}
		res.Append(chunk)
		if msg.IsFinal {
			return res, nil
		}
	}
}

func (e *elevenLabsStream) connErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return wrap(ErrTransient, "%s: %v", op, err)
}
