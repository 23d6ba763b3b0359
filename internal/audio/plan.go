// Package audio joins a manuscript's section clips into one narration file.
package audio

import (
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

// Piece is either a clip (Path set) or a stretch of silence.
type Piece struct {
	Path    string
	Silence time.Duration
}

type PlanOptions struct {
	Silence        map[manuscript.Kind]time.Duration
	DefaultSilence time.Duration
	Logger         *slog.Logger
}

// Plan orders the clips of sections with a pause before every clip but the
// first. Image sections and sections without audio are left out.
func Plan(sections []manuscript.Section, opts PlanOptions) []Piece {
	var pieces []Piece
	for _, s := range sections {
		if s.Kind == manuscript.KindImage || s.AudioPath == "" {
			continue
		}
		if len(pieces) > 0 {
			pause, ok := opts.Silence[s.Kind]
			if !ok {
				pause = opts.DefaultSilence
				if opts.Logger != nil {
					opts.Logger.Warn("no pause configured for section kind", slog.String("kind", string(s.Kind)))
				}
			}
			if pause > 0 {
				pieces = append(pieces, Piece{Silence: pause})
			}
		}
		pieces = append(pieces, Piece{Path: s.AudioPath})
	}
	return pieces
}
