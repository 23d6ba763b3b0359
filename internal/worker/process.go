package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/alignment"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/normalize"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/segment"
	"github.com/loqalabs/loqa-narrator/internal/source"
	"github.com/loqalabs/loqa-narrator/internal/speech"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Process brings the manuscript id up to date: it builds a candidate from
// the source, decides whether to regenerate and, if so, synthesizes every
// section. Fetch and segmentation failures become the error manuscript and
// are not returned.
func (w *Worker) Process(ctx context.Context, id string) (err error) {
	runID := uuid.NewString()
	ctx, span := w.tracer.Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("manuscript.id", id),
		attribute.String("run.id", runID),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := w.logger.With(slog.String("id", id), slog.String("run", runID))

	if !w.opts.Generate {
		log.Info("generation disabled, skipping")
		return nil
	}

	candidate, owner, err := w.candidate(ctx, id, log)
	if err != nil {
		return err
	}
	w.deps.Layout.Assign(&candidate, owner)

	if owner != id && (candidate.State == manuscript.StateDisallowed || candidate.State == manuscript.StateError) {
		candidate.LastModified = w.clock()
		if err := w.deps.Catalog.Upsert(ctx, candidate); err != nil {
			return fmt.Errorf("store %s manuscript: %w", candidate.State, err)
		}
		w.queue.Push(owner)
		log.Info("stored fallback manuscript", slog.String("state", string(candidate.State)))
		w.metrics.manuscriptDone(ctx, string(candidate.State))
		w.publishState(runID, candidate, false, "fallback", nil)
		return nil
	}

	existing, found, err := w.deps.Catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	var prev *manuscript.Manuscript
	if found {
		prev = &existing
	}
	files, err := w.deps.Layout.CountAudio(owner)
	if err != nil {
		return err
	}
	decision := w.opts.Regeneration.Decide(candidate, prev, files)
	if !decision.Generate {
		log.Info("skipping", slog.String("reason", string(decision.Reason)), slog.String("title", candidate.Title))
		w.publishState(runID, existing, false, string(decision.Reason), nil)
		if existing.State == manuscript.StateDone && existing.CompleteAudioURL == "" {
			return w.ensureComplete(ctx, runID, candidate, owner, existing, log)
		}
		return nil
	}

	log.Info("generating", slog.String("reason", string(decision.Reason)), slog.String("title", candidate.Title))
	done, err := w.generate(ctx, runID, candidate, owner, log)
	if err != nil {
		w.metrics.manuscriptDone(ctx, "failed")
		w.publishState(runID, candidate, false, string(decision.Reason), err)
		return err
	}
	w.publishState(runID, done, true, string(decision.Reason), nil)
	return nil
}

// ensureComplete builds a missing complete audio file. If the stored clips
// cannot be joined the manuscript is regenerated once and the build retried.
func (w *Worker) ensureComplete(ctx context.Context, runID string, candidate manuscript.Manuscript, owner string, existing manuscript.Manuscript, log *slog.Logger) error {
	if w.deps.Concat == nil {
		return nil
	}
	err := w.buildComplete(ctx, &existing, owner)
	if err == nil || ctx.Err() != nil {
		return err
	}
	log.Error("complete audio failed, regenerating", slogError(err))
	done, err := w.generate(ctx, runID, candidate, owner, log)
	if err != nil {
		return err
	}
	w.publishState(runID, done, true, "complete audio failed", nil)
	return nil
}

// candidate builds the manuscript the source currently describes, and the
// storage owner whose files it uses.
func (w *Worker) candidate(ctx context.Context, id string, log *slog.Logger) (manuscript.Manuscript, string, error) {
	voice := w.opts.SystemVoice
	url := w.deps.Source.ArticleURL(id)
	switch {
	case w.deps.Policy.Disallowed(id):
		log.Warn("article is disallowed")
		return manuscript.Disallowed(id, url, voice), manuscript.DisallowedID, nil
	case id == manuscript.HomeID:
		return manuscript.Home(voice), manuscript.HomeID, nil
	case id == manuscript.DisallowedID:
		return manuscript.Disallowed(id, "", voice), manuscript.DisallowedID, nil
	case id == manuscript.ErrorID:
		return manuscript.Error(id, "", voice), manuscript.ErrorID, nil
	}

	doc, err := w.deps.Source.Fetch(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return manuscript.Manuscript{}, "", ctx.Err()
		}
		var fetchErr *source.FetchError
		if errors.As(err, &fetchErr) {
			log.Warn("could not fetch article", slog.String("url", fetchErr.URL), slog.Int("status", fetchErr.Status), slogError(err))
		} else {
			log.Warn("could not fetch article", slogError(err))
		}
		return manuscript.Error(id, url, voice), manuscript.ErrorID, nil
	}
	res, err := segment.Segment(doc)
	if err != nil {
		log.Warn("could not segment article", slogError(err))
		return manuscript.Error(id, url, voice), manuscript.ErrorID, nil
	}
	if w.deps.Policy.TooLong(id, len(res.Sections)) {
		log.Warn("article is too long", slog.Int("sections", len(res.Sections)))
		return manuscript.Disallowed(id, url, voice), manuscript.DisallowedID, nil
	}
	return manuscript.Manuscript{
		ID:       id,
		Title:    res.Title,
		URL:      url,
		State:    manuscript.StateGenerating,
		Sections: res.Sections,
		Image:    res.Image,
	}, id, nil
}

func (w *Worker) generate(ctx context.Context, runID string, m manuscript.Manuscript, owner string, log *slog.Logger) (manuscript.Manuscript, error) {
	started := w.clock()
	if err := w.deps.Catalog.MarkGenerating(ctx, m); err != nil {
		return m, err
	}

	voice, forced, err := w.deps.Voices.Choose(w.rng, m.ForcedVoice)
	if err != nil {
		return m, err
	}
	if m.ForcedVoice != "" && !forced {
		log.Warn("forced voice not found, using random voice", slog.String("forced", m.ForcedVoice), slog.String("voice", voice.Name))
	}
	norm, err := w.voiceNormalizer(voice)
	if err != nil {
		return m, err
	}

	total := len(m.Sections)
	for i := range m.Sections {
		progress := float64(i) / float64(total)
		if err := w.deps.Catalog.SetProgress(ctx, m.ID, progress); err != nil {
			log.Warn("could not record progress", slogError(err))
		}
		w.publishProgress(runID, m.ID, i, total, progress)

		s := &m.Sections[i]
		if !s.Narrated() {
			continue
		}
		if err := w.narrate(ctx, s, voice, norm); err != nil {
			return m, fmt.Errorf("section %d: %w", i, err)
		}
		w.metrics.sectionDone(ctx)
		log.Debug("section synthesized", slog.Int("section", i+1), slog.Int("sections", total))
	}

	outro, err := w.deps.Speech.Synthesize(ctx, norm.Apply(manuscript.OutroText(voice.Name, m.ID)), voice)
	if err != nil {
		return m, fmt.Errorf("outro: %w", err)
	}
	if err := storage.WriteFile(m.Outro.AudioPath, outro.Audio); err != nil {
		return m, err
	}

	m.State = manuscript.StateDone
	m.LastModified = w.clock()
	m.Progress = nil
	m.CompleteAudioPath, m.CompleteAudioURL = "", ""
	if err := w.deps.Catalog.Upsert(ctx, m); err != nil {
		return m, err
	}
	w.metrics.manuscriptDone(ctx, string(m.State))
	log.Info("manuscript generated",
		slog.String("voice", voice.Name),
		slog.Int("sections", total),
		slog.Duration("took", w.clock().Sub(started).Round(time.Second)))

	if w.deps.Concat != nil {
		if err := w.buildComplete(ctx, &m, owner); err != nil {
			log.Error("complete audio failed", slogError(err))
		}
	}
	return m, nil
}

func (w *Worker) voiceNormalizer(voice speech.Voice) (*normalize.Normalizer, error) {
	if len(voice.Replace) == 0 {
		return w.deps.Normalizer, nil
	}
	extra := make([]normalize.Rule, 0, len(voice.Replace))
	for _, r := range voice.Replace {
		extra = append(extra, normalize.Rule{Pattern: r.From, Replacement: r.To})
	}
	n, err := w.deps.Normalizer.With(extra...)
	if err != nil {
		return nil, fmt.Errorf("voice %s replacements: %w", voice.Name, err)
	}
	return n, nil
}

// narrate synthesizes one section and writes its audio and alignment.
func (w *Worker) narrate(ctx context.Context, s *manuscript.Section, voice speech.Voice, norm *normalize.Normalizer) error {
	var result speech.Result
	for _, part := range speech.SplitForVoice(s.Text(), voice.MaxWords) {
		res, err := w.deps.Speech.Synthesize(ctx, norm.Apply(part), voice)
		if err != nil {
			return err
		}
		result.Append(res)
	}

	corrector := w.deps.Corrector
	if s.Kind.IsList() && w.opts.ListItemRules {
		c, err := corrector.With(alignment.SpokenItemRules(s.Items(), norm.Apply)...)
		if err != nil {
			return err
		}
		corrector = c
	}
	s.Alignment = corrector.Correct(alignment.Build(result.Timings...))

	if err := storage.WriteFile(s.AudioPath, result.Audio); err != nil {
		return err
	}
	data, err := json.Marshal(s.Alignment)
	if err != nil {
		return fmt.Errorf("encode alignment: %w", err)
	}
	return storage.WriteFile(s.AlignmentPath, data)
}

// buildComplete joins m's section clips and records the result.
func (w *Worker) buildComplete(ctx context.Context, m *manuscript.Manuscript, owner string) error {
	pieces := audio.Plan(m.Sections, audio.PlanOptions{
		Silence:        w.opts.Silence,
		DefaultSilence: w.opts.DefaultPause,
		Logger:         w.logger,
	})
	if len(pieces) == 0 {
		return errors.New("no sections with audio")
	}
	for _, p := range pieces {
		if p.Path == "" {
			continue
		}
		if _, err := os.Stat(p.Path); err != nil {
			return fmt.Errorf("section audio: %w", err)
		}
	}
	path, url := w.deps.Layout.Complete(owner)
	if err := w.deps.Concat.Concat(ctx, pieces, path); err != nil {
		return err
	}
	if err := w.deps.Catalog.SetCompleteAudio(ctx, m.ID, path, url); err != nil {
		return err
	}
	m.CompleteAudioPath, m.CompleteAudioURL = path, url
	if info, err := os.Stat(path); err == nil {
		w.logger.Info("complete audio written",
			slog.String("id", m.ID),
			slog.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	return nil
}

func (w *Worker) publishProgress(runID, id string, section, sections int, progress float64) {
	if w.deps.Bus == nil {
		return
	}
	evt := protocol.ProgressEvent{
		RunID:     runID,
		ID:        id,
		Section:   section,
		Sections:  sections,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
	if err := w.deps.Bus.PublishJSON(protocol.SubjectProgress, evt); err != nil {
		w.logger.Warn("publish progress failed", slogError(err))
	}
}

func (w *Worker) publishState(runID string, m manuscript.Manuscript, generated bool, reason string, cause error) {
	if w.deps.Bus == nil {
		return
	}
	evt := protocol.StateEvent{
		RunID:     runID,
		ID:        m.ID,
		State:     string(m.State),
		Generated: generated,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := w.deps.Bus.PublishJSON(protocol.SubjectState, evt); err != nil {
		w.logger.Warn("publish state failed", slogError(err))
	}
}
