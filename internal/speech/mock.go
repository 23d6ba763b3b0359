package speech

import (
	"context"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
)

// MockCharMS is the duration the mock provider gives every character.
const MockCharMS = 40

type mockProvider struct{}

// NewMockProvider returns a provider that needs no network. Its audio is the
// request text and every character lasts MockCharMS.
func NewMockProvider() Provider { return mockProvider{} }

func (mockProvider) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	timings := make([]alignment.CharTiming, 0, len(req.Text))
	var at int64
	for _, r := range req.Text {
		timings = append(timings, alignment.CharTiming{Char: string(r), StartMS: at, DurationMS: MockCharMS})
		at += MockCharMS
	}
	return Result{Audio: []byte(req.Text), Timings: [][]alignment.CharTiming{timings}}, nil
}
