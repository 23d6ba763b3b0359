package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

// ErrNotReady is returned for complete audio of a manuscript that is not
// done yet.
var ErrNotReady = errors.New("manuscript not ready")

// Service answers reader requests from the catalog and schedules work.
type Service struct {
	worker *Worker
	logger *slog.Logger
}

func NewService(w *Worker, log *slog.Logger) *Service {
	return &Service{worker: w, logger: log.With(slog.String("component", "read-service"))}
}

// Read returns the cataloged manuscript, or a placeholder for unknown
// identifiers, and enqueues id either way.
func (s *Service) Read(ctx context.Context, id string) (manuscript.Manuscript, error) {
	catalog := s.worker.deps.Catalog
	m, found, err := catalog.Get(ctx, id)
	if err != nil {
		return manuscript.Manuscript{}, err
	}
	if !found {
		m = manuscript.Placeholder(id, s.worker.deps.Source.ArticleURL(id))
		inserted, err := catalog.InsertIfAbsent(ctx, m)
		if err != nil {
			return manuscript.Manuscript{}, err
		}
		if !inserted {
			// Someone cataloged it between the read and the insert.
			if current, ok, err := catalog.Get(ctx, id); err == nil && ok {
				m = current
			}
		}
	}
	s.worker.Enqueue(id)
	return m, nil
}

// CompleteAudio returns the URL of the joined narration of id, building it
// when it is missing.
func (s *Service) CompleteAudio(ctx context.Context, id string) (string, error) {
	m, found, err := s.worker.deps.Catalog.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !found || m.State != manuscript.StateDone {
		return "", ErrNotReady
	}
	if m.CompleteAudioURL != "" {
		if _, err := os.Stat(m.CompleteAudioPath); err == nil {
			return m.CompleteAudioURL, nil
		}
	}
	if s.worker.deps.Concat == nil {
		return "", fmt.Errorf("complete audio disabled: %w", ErrNotReady)
	}
	if err := s.worker.buildComplete(ctx, &m, m.ID); err != nil {
		s.logger.Error("complete audio failed", slog.String("id", id), slogError(err))
		return "", err
	}
	return m.CompleteAudioURL, nil
}
