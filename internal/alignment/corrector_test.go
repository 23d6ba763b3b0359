package alignment

import (
	"reflect"
	"strings"
	"testing"
)

var yearRule = Rule{
	Pattern:     []string{"Year", "of", "the", `Empire[,;.:?!'")]*`},
	Replacement: "YE",
	Offset:      1,
	Regex:       true,
}

func TestCorrectorCollapsesYearOfTheEmpire(t *testing.T) {
	c, err := NewCorrector(yearRule)
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	spans := []Span{
		{Text: "375", Start: 0, Length: 1000},
		{Text: "Year", Start: 1000, Length: 1000},
		{Text: "of", Start: 2000, Length: 1000},
		{Text: "the", Start: 3000, Length: 1000},
		{Text: "Empire,", Start: 4000, Length: 1200},
	}
	got := c.Correct(spans)
	want := []Span{{Text: "375 YE", Start: 0, Length: 5200}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if len(spans) != 5 {
		t.Fatal("input must not be modified")
	}
}

func TestCorrectorResumesAfterReplacement(t *testing.T) {
	c, err := NewCorrector(yearRule)
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	spans := []Span{
		{Text: "In", Start: 0, Length: 1000},
		{Text: "380", Start: 1000, Length: 1000},
		{Text: "year", Start: 2000, Length: 1000},
		{Text: "OF", Start: 3000, Length: 1000},
		{Text: "the", Start: 4000, Length: 1000},
		{Text: "empire.", Start: 5000, Length: 1000},
		{Text: "and", Start: 6000, Length: 1000},
		{Text: "381", Start: 7000, Length: 1000},
		{Text: "Year", Start: 8000, Length: 1000},
		{Text: "of", Start: 9000, Length: 1000},
		{Text: "the", Start: 10000, Length: 1000},
		{Text: "Empire", Start: 11000, Length: 1000},
	}
	got := c.Correct(spans)
	texts := make([]string, len(got))
	for i, s := range got {
		texts[i] = s.Text
	}
	want := []string{"In", "380 YE", "and", "381 YE"}
	if !reflect.DeepEqual(texts, want) {
		t.Fatalf("expected %v, got %v", want, texts)
	}
	if got[1].Start != 1000 || got[1].Length != 5000 {
		t.Fatalf("unexpected timing for first replacement: %+v", got[1])
	}
	if got[3].Start != 7000 {
		t.Fatalf("unexpected start for second replacement: %+v", got[3])
	}
}

func TestCorrectorWindowAtEnd(t *testing.T) {
	c, err := NewCorrector(yearRule)
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	spans := []Span{
		{Text: "Year", Start: 0, Length: 1000},
		{Text: "of", Start: 1000, Length: 1000},
		{Text: "the", Start: 2000, Length: 1000},
		{Text: "Empire", Start: 3000, Length: 1000},
	}
	got := c.Correct(spans)
	if !reflect.DeepEqual(got, spans) {
		t.Fatalf("window without leading context must not match, got %+v", got)
	}
}

func TestCorrectorIsIdempotent(t *testing.T) {
	c, err := NewCorrector(yearRule, Rule{Pattern: []string{"in", "character"}, Replacement: "IC"})
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	spans := Build(timings("By 377 Year of the Empire the in character rules held", 80))
	once := c.Correct(spans)
	twice := c.Correct(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("expected idempotent correction:\n%+v\n%+v", once, twice)
	}
}

func TestCorrectorClampsShortReplacement(t *testing.T) {
	c, err := NewCorrector(Rule{Pattern: []string{"a", "b"}, Replacement: "ab"})
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	got := c.Correct([]Span{{Text: "A", Start: 10, Length: 100}, {Text: "B", Start: 110, Length: 100}})
	if len(got) != 1 || got[0].Length != MinSpanMS || got[0].Start != 10 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestItemRules(t *testing.T) {
	base, err := NewCorrector()
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	c, err := base.With(ItemRules([]string{"Bloodcrow Knott", "", "Imperial Orcs"})...)
	if err != nil {
		t.Fatalf("with item rules: %v", err)
	}
	got := c.Correct(Build(timings("Bloodcrow Knott Imperial Orcs", 50)))
	if len(got) != 2 || got[0].Text != "Bloodcrow Knott" || got[1].Text != "Imperial Orcs" {
		t.Fatalf("unexpected spans %+v", got)
	}
}

func TestSpokenItemRulesRestoreDisplayText(t *testing.T) {
	base, err := NewCorrector()
	if err != nil {
		t.Fatalf("new corrector: %v", err)
	}
	spoken := func(s string) string { return strings.ReplaceAll(s, "Sumaah", "Suhmah") }
	c, err := base.With(SpokenItemRules([]string{"The Sumaah Republic"}, spoken)...)
	if err != nil {
		t.Fatalf("with item rules: %v", err)
	}
	got := c.Correct(Build(timings("The Suhmah Republic", 50)))
	if len(got) != 1 || got[0].Text != "The Sumaah Republic" {
		t.Fatalf("unexpected spans %+v", got)
	}
}

func TestNewCorrectorRejectsInvalidRules(t *testing.T) {
	if _, err := NewCorrector(Rule{}); err == nil {
		t.Fatal("expected error for empty pattern")
	}
	if _, err := NewCorrector(Rule{Pattern: []string{"("}, Regex: true}); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}
