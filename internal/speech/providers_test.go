package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/websocket"
)

func wsEndpoint(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestElevenLabsStream(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotText string
	)
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		gotPath = ws.Request().URL.Path
		var in, eos streamInput
		if err := websocket.JSON.Receive(ws, &in); err != nil {
			return
		}
		if err := websocket.JSON.Receive(ws, &eos); err != nil {
			return
		}
		gotKey = in.APIKey
		gotText = in.Text
		_ = websocket.JSON.Send(ws, streamOutput{
			Audio: base64.StdEncoding.EncodeToString([]byte("abc")),
			Alignment: &streamAlignment{
				Chars:            []string{"H", "i"},
				CharStartTimesMs: []int64{0, 100},
				CharDurationsMs:  []int64{100, 150},
			},
		})
		_ = websocket.JSON.Send(ws, streamOutput{Audio: base64.StdEncoding.EncodeToString([]byte("def"))})
		_ = websocket.JSON.Send(ws, streamOutput{IsFinal: true})
	}))
	defer srv.Close()

	p := NewElevenLabsStream(ElevenLabsOptions{Endpoint: wsEndpoint(srv)})
	res, err := p.Synthesize(context.Background(), Request{
		Text:       "Hi",
		Voice:      Voice{ID: "voice 1", Model: "turbo"},
		Credential: Credential{ID: "a", Keys: []string{"sk_a"}},
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(res.Audio) != "abcdef" {
		t.Fatalf("unexpected audio %q", res.Audio)
	}
	if len(res.Timings) != 1 || len(res.Timings[0]) != 2 || res.Timings[0][1].DurationMS != 150 {
		t.Fatalf("unexpected timings: %+v", res.Timings)
	}
	if gotPath != "/v1/text-to-speech/voice%201/stream-input" && gotPath != "/v1/text-to-speech/voice 1/stream-input" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "sk_a" {
		t.Fatalf("expected api key in first message, got %q", gotKey)
	}
	if gotText != "Hi " {
		t.Fatalf("expected trailing space in text, got %q", gotText)
	}
}

func TestElevenLabsStreamErrors(t *testing.T) {
	cases := map[string]error{
		"quota_exceeded": ErrQuotaExceeded,
		"system_busy":    ErrTransient,
		"auth_error":     ErrUnauthorized,
		"weird":          ErrTransient,
	}
	for code, want := range cases {
		srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
			var in streamInput
			_ = websocket.JSON.Receive(ws, &in)
			_ = websocket.JSON.Receive(ws, &in)
			_ = websocket.JSON.Send(ws, streamOutput{Error: code, Message: "nope"})
		}))
		p := NewElevenLabsStream(ElevenLabsOptions{Endpoint: wsEndpoint(srv)})
		_, err := p.Synthesize(context.Background(), Request{Text: "Hi", Voice: Voice{ID: "v"}})
		srv.Close()
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", code, want, err)
		}
	}
}

func TestElevenLabsStreamClosedEarlyIsTransient(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		var in streamInput
		_ = websocket.JSON.Receive(ws, &in)
	}))
	defer srv.Close()
	p := NewElevenLabsStream(ElevenLabsOptions{Endpoint: wsEndpoint(srv)})
	_, err := p.Synthesize(context.Background(), Request{Text: "Hi", Voice: Voice{ID: "v"}})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestElevenLabsHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/v1/with-timestamps" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "sk_a" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body timestampsRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(timestampsResponse{
			AudioBase64: base64.StdEncoding.EncodeToString([]byte(body.Text)),
			Alignment: &timestampsAlignment{
				Characters: []string{"H", "i"},
				Starts:     []float64{0, 0.12},
				Ends:       []float64{0.12, 0.3},
			},
		})
	}))
	defer srv.Close()

	p := NewElevenLabsHTTP(ElevenLabsOptions{Endpoint: srv.URL})
	res, err := p.Synthesize(context.Background(), Request{
		Text:       "Hi",
		Voice:      Voice{ID: "v1"},
		Credential: Credential{Keys: []string{"sk_a"}},
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(res.Audio) != "Hi" {
		t.Fatalf("unexpected audio %q", res.Audio)
	}
	got := res.Timings[0]
	if got[1].StartMS != 120 || got[1].DurationMS != 180 {
		t.Fatalf("unexpected timing: %+v", got[1])
	}

	_, err = p.Synthesize(context.Background(), Request{Text: "Hi", Voice: Voice{ID: "v1"}})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{401, `{"detail":{"status":"quota_exceeded","message":"out"}}`, ErrQuotaExceeded},
		{401, `{"detail":{"status":"invalid_api_key"}}`, ErrUnauthorized},
		{403, ``, ErrUnauthorized},
		{429, `{"detail":"slow down"}`, ErrQuotaExceeded},
		{422, `{"detail":[{"msg":"text required"}]}`, ErrMalformedRequest},
		{400, `bad`, ErrMalformedRequest},
		{503, `unavailable`, ErrTransient},
	}
	for _, tc := range cases {
		if err := statusError(tc.status, []byte(tc.body)); !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestMockProvider(t *testing.T) {
	res, err := NewMockProvider().Synthesize(context.Background(), Request{Text: "ab c"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Timings) != 1 || len(res.Timings[0]) != 4 {
		t.Fatalf("unexpected timings: %+v", res.Timings)
	}
	if last := res.Timings[0][3]; last.StartMS != 3*MockCharMS || last.DurationMS != MockCharMS {
		t.Fatalf("unexpected last timing: %+v", last)
	}
}

func TestNewProvider(t *testing.T) {
	for _, kind := range []string{ProviderElevenLabs, ProviderElevenLabsHTTP, ProviderMock} {
		if _, err := NewProvider(ProviderOptions{Kind: kind}); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
	}
	if _, err := NewProvider(ProviderOptions{Kind: ProviderExec}); err == nil {
		t.Fatalf("expected error for empty exec command")
	}
	if _, err := NewProvider(ProviderOptions{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
