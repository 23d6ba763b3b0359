package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
)

const DefaultElevenLabsHTTPEndpoint = "https://api.elevenlabs.io"

type elevenLabsHTTP struct {
	endpoint string
	client   *http.Client
}

// NewElevenLabsHTTP returns a provider that calls the with-timestamps REST
// endpoint once per request.
func NewElevenLabsHTTP(opts ElevenLabsOptions) Provider {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultElevenLabsHTTPEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &elevenLabsHTTP{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type timestampsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type timestampsAlignment struct {
	Characters []string  `json:"characters"`
	Starts     []float64 `json:"character_start_times_seconds"`
	Ends       []float64 `json:"character_end_times_seconds"`
}

type timestampsResponse struct {
	AudioBase64 string               `json:"audio_base64"`
	Alignment   *timestampsAlignment `json:"alignment"`
}

type errorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *elevenLabsHTTP) Synthesize(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(timestampsRequest{
		Text:          req.Text,
		ModelID:       req.Voice.Model,
		VoiceSettings: req.Voice.VoiceSettings,
	})
	if err != nil {
		return Result{}, wrap(ErrMalformedRequest, "encode request: %v", err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps", e.endpoint, url.PathEscape(req.Voice.ID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, wrap(ErrMalformedRequest, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := req.Credential.Key(); key != "" {
		httpReq.Header.Set("xi-api-key", key)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, wrap(ErrTransient, "request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, wrap(ErrTransient, "read response: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return Result{}, statusError(resp.StatusCode, data)
	}

	var out timestampsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, wrap(ErrTransient, "decode response: %v", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		return Result{}, wrap(ErrTransient, "decode audio: %v", err)
	}
	res := Result{Audio: audio}
	if out.Alignment != nil {
		res.Timings = [][]alignment.CharTiming{secondsToTimings(*out.Alignment)}
	}
	return res, nil
}

func statusError(status int, body []byte) error {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	var detail errorDetail
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		if json.Unmarshal(payload.Detail, &detail) != nil {
			detail.Message = string(payload.Detail)
		}
	}
	msg := detail.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch {
	case detail.Status == "quota_exceeded", status == http.StatusTooManyRequests:
		return wrap(ErrQuotaExceeded, "status %d: %s", status, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return wrap(ErrUnauthorized, "status %d: %s", status, msg)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return wrap(ErrMalformedRequest, "status %d: %s", status, msg)
	default:
		return wrap(ErrTransient, "status %d: %s", status, msg)
	}
}

func secondsToTimings(a timestampsAlignment) []alignment.CharTiming {
	n := min(len(a.Characters), len(a.Starts), len(a.Ends))
	out := make([]alignment.CharTiming, 0, n)
	for i := range n {
		start := int64(math.Round(a.Starts[i] * 1000))
		end := int64(math.Round(a.Ends[i] * 1000))
		out = append(out, alignment.CharTiming{Char: a.Characters[i], StartMS: start, DurationMS: max(end-start, 0)})
	}
	return out
}

