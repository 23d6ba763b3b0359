package manuscript

import "strings"

const errorText = "The system could not process this article. Either the article does not exist, or an error occurred during the download. The system will continue to attempt to process the article, in case the problem is temporary."

var disallowedTexts = []string{
	"This article is too long or unnecessary. The purpose of this system is to help other people and myself better understand the world of Empire. It is created and maintained out of the goodwill of a single player, and I do it entirely in my spare time without any help from Profound Decisions.",
	"I have no security protections, captchas, anti-DDOS, fancy load-balancing, IP registration, cookies, or anything else - the system's viability relies entirely on its users not abusing it. Unfortunately, I have experienced some people abusing the system a bit, so I've been forced to start disallowing some articles.",
	"This article has been deemed unfit for text-to-speech, either automatically or directly by me. This is likely because it is either an internal Wiki-specific article, too long compared to how often it is updated, makes no sense as text-to-speech, or is generally unnecessary to understand the world and game of Empire.",
	"I try only to exclude an absolute minimum of articles, so if you think this is a mistake and the article should still have text-to-speech, please get in touch with me either by email (click the letter at the bottom right) or by finding me during out-of-character time at any of the Empire events (Bloodcrow Knott, Imperial Orcs).",
}

const HomeTitle = "Empire Wikipedia Winds of Speech"

var homeIntro = []string{
	"Welcome to the unofficial Empire Wikipedia Winds of Speech!",
	"This is an unofficial text-to-speech tool to help better focus on and understand the articles on the Empire Wikipedia.",
	`It is pretty simple to use: When you find an article on the Empire Wikipedia you would like to listen to and read along with, add a "p" to the start of the URL. You'll then go directly to the text-to-speech article on this website (see the video clip below). If the article seems outdated, it may be because you are the first to visit it in a while, so please let the system update the article - this can take a bit.`,
}

var homeOutro = []string{
	"The system was initially designed for personal use, but after making it publicly available, I've received some valuable suggestions. Some are now part of the accessibility settings in the left side burger menu; some have changed how articles are generated, shown, and read aloud; and some have changed the navigation buttons and sliders. Please share suggestions and any improvements you'd like to see - either by email (click the letter at the bottom right) or by finding me during out-of-character time at any of the Empire events (Bloodcrow Knott, Imperial Orcs).",
	"If you want to support me, you can buy me a coffee or beer in the field or donate by clicking the coffee cup on the bottom right.",
	"I hope this can help others who struggle as much with reading the Wikipedia as I have!",
}

var placeholderTexts = []string{
	"The system is still processing this article.",
	"This will take anywhere from a couple of minutes to hours, depending on the article and how many articles are ahead of this one in the queue.",
	"You are welcome to come back to check the progress, but unfortunately the system is not smart enough to give you an estimate.",
}

func titleFromID(id string) string {
	return strings.ReplaceAll(id, "_", " ")
}

func paragraphs(texts []string) []Section {
	sections := make([]Section, 0, len(texts))
	for _, t := range texts {
		sections = append(sections, Section{Kind: KindP, Spans: TextSpans(t)})
	}
	return sections
}

// Error is substituted for articles that could not be fetched or segmented.
// The error manuscript itself is done once its audio exists.
func Error(id, url, voice string) Manuscript {
	m := Manuscript{
		ID:          id,
		Title:       titleFromID(id),
		State:       StateError,
		ForcedVoice: voice,
		Sections: append([]Section{{Kind: KindH1, Spans: TextSpans("Error")}},
			paragraphs([]string{errorText})...),
	}
	if id == ErrorID {
		m.State = StateDone
	} else {
		m.URL = url
	}
	return m
}

// Disallowed is substituted for articles rejected by the policy.
func Disallowed(id, url, voice string) Manuscript {
	m := Manuscript{
		ID:          id,
		Title:       titleFromID(id),
		State:       StateDisallowed,
		ForcedVoice: voice,
		Sections: append([]Section{{Kind: KindH1, Spans: TextSpans("Disallowed article")}},
			paragraphs(disallowedTexts)...),
	}
	if id == DisallowedID {
		m.State = StateDone
	} else {
		m.URL = url
	}
	return m
}

// Home is the landing page manuscript.
func Home(voice string) Manuscript {
	sections := []Section{{Kind: KindH1, Spans: TextSpans(HomeTitle)}}
	sections = append(sections, paragraphs(homeIntro)...)
	sections = append(sections, Section{
		Kind: KindImage,
		Src:  "img/tts.gif",
		Alt:  "A video clip illustrating how to access text-to-speech directly from the Empire Wikipedia.",
	})
	sections = append(sections, paragraphs(homeOutro)...)
	return Manuscript{
		ID:          HomeID,
		Title:       HomeTitle,
		State:       StateDone,
		ForcedVoice: voice,
		Sections:    sections,
	}
}

// Placeholder is returned and cataloged for identifiers that have never been
// generated, so readers never wait on the worker.
func Placeholder(id, url string) Manuscript {
	progress := 0.0
	spans := make([]Span, 0, len(placeholderTexts))
	for _, t := range placeholderTexts {
		spans = append(spans, Span{Text: t})
	}
	return Manuscript{
		ID:       id,
		Title:    id,
		URL:      url,
		State:    StateGenerating,
		Progress: &progress,
		Sections: []Section{
			{Kind: KindH1, Spans: []Span{{Text: id}}},
			{Kind: KindP, Spans: spans},
		},
	}
}
