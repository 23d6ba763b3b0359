package speech

import (
	"fmt"
	"time"
)

const (
	ProviderElevenLabs     = "elevenlabs"
	ProviderElevenLabsHTTP = "elevenlabs-http"
	ProviderExec           = "exec"
	ProviderMock           = "mock"
)

type ProviderOptions struct {
	Kind     string
	Endpoint string
	Command  string
	Timeout  time.Duration
}

// NewProvider builds the provider named by opts.Kind.
func NewProvider(opts ProviderOptions) (Provider, error) {
	switch opts.Kind {
	case ProviderElevenLabs:
		return NewElevenLabsStream(ElevenLabsOptions{Endpoint: opts.Endpoint, Timeout: opts.Timeout}), nil
	case ProviderElevenLabsHTTP:
		return NewElevenLabsHTTP(ElevenLabsOptions{Endpoint: opts.Endpoint, Timeout: opts.Timeout}), nil
	case ProviderExec:
		return NewExecProvider(opts.Command)
	case ProviderMock, "":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", opts.Kind)
	}
}
