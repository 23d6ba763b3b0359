package manuscript

import (
	"reflect"
	"slices"
)

type Reason string

const (
	ReasonNew             Reason = "not yet generated"
	ReasonAlwaysUpdate    Reason = "always update"
	ReasonInterrupted     Reason = "interrupted during generation"
	ReasonRecovering      Reason = "recovering from error"
	ReasonMissingFiles    Reason = "missing audio files"
	ReasonChanged         Reason = "content changed"
	ReasonRefreshDisabled Reason = "content changed but refresh disabled"
	ReasonUnchanged       Reason = "unchanged"
)

type Decision struct {
	Generate bool
	Reason   Reason
}

// Regeneration holds the operator switches that force or allow regeneration
// of cataloged manuscripts.
type Regeneration struct {
	Refresh       bool
	AlwaysUpdate  []string
	AlwaysRefresh []string
}

// Decide compares a freshly built candidate against the cataloged version.
// existing is nil when the identifier has never been cataloged; audioFiles is
// the number of audio files currently on disk for the candidate. A stored
// error or disallowed record is replaced as soon as the source yields a real
// article again.
func (r Regeneration) Decide(candidate Manuscript, existing *Manuscript, audioFiles int) Decision {
	switch {
	case existing == nil:
		return Decision{Generate: true, Reason: ReasonNew}
	case slices.Contains(r.AlwaysUpdate, candidate.ID):
		return Decision{Generate: true, Reason: ReasonAlwaysUpdate}
	case existing.State == StateGenerating:
		return Decision{Generate: true, Reason: ReasonInterrupted}
	case existing.Failed() && candidate.State == StateGenerating:
		return Decision{Generate: true, Reason: ReasonRecovering}
	case audioFiles < candidate.ExpectedAudioFiles():
		return Decision{Generate: true, Reason: ReasonMissingFiles}
	case Changed(candidate, *existing):
		if r.Refresh || slices.Contains(r.AlwaysRefresh, candidate.ID) {
			return Decision{Generate: true, Reason: ReasonChanged}
		}
		return Decision{Reason: ReasonRefreshDisabled}
	default:
		return Decision{Reason: ReasonUnchanged}
	}
}

type sectionContent struct {
	Kind  Kind
	Texts []string
	Src   string
	Alt   string
}

type content struct {
	Title    string
	URL      string
	Sections []sectionContent
}

func contentOf(m Manuscript) content {
	c := content{Title: m.Title, URL: m.URL, Sections: make([]sectionContent, 0, len(m.Sections))}
	for _, s := range m.Sections {
		c.Sections = append(c.Sections, sectionContent{Kind: s.Kind, Texts: s.Items(), Src: s.Src, Alt: s.Alt})
	}
	return c
}

// Changed reports whether two manuscripts differ in title, url or section
// content. Audio paths, alignment, timestamps and progress are ignored.
func Changed(a, b Manuscript) bool {
	return !reflect.DeepEqual(contentOf(a), contentOf(b))
}
