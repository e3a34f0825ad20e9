// Package assistant implements the keyword-driven responder that answers
// "@<assistant> ..." directives. It has no notion of rooms or connections:
// Reply maps directive content to the ordered reply texts the assistant
// should post.
package assistant

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// DefaultName is the assistant's reserved directive type and display name.
const DefaultName = "川小农"

// Branch names the rule that produced a Reply.
type Branch string

const (
	BranchHostile   Branch = "hostile"
	BranchIntro     Branch = "intro"
	BranchPoem      Branch = "poem"
	BranchNotice    Branch = "notice"
	BranchKnowledge Branch = "knowledge"
	BranchDismiss   Branch = "dismiss"
)

// Reply is the outcome of one directive. Texts holds one or two entries and
// must be posted in order.
type Reply struct {
	Branch Branch
	Texts  []string
}

// Chooser returns an index in [0, n). n is always positive.
type Chooser func(n int) int

// Option configures an Engine.
type Option func(*Engine)

// WithName overrides the name used in the self-introduction.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithChooser replaces the random index source.
func WithChooser(c Chooser) Option {
	return func(e *Engine) { e.choose = c }
}

// WithClock replaces the wall clock used to date notices.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine evaluates content against an ordered rule list; first match wins.
// An Engine is safe for concurrent use as long as its Chooser is.
type Engine struct {
	name   string
	choose Chooser
	now    func() time.Time
	rules  []rule
}

// request is what every rule sees: the raw content plus one keyword scan.
type request struct {
	content string
	intents map[string]bool
}

type rule struct {
	branch Branch
	// bare rules skip the acknowledgment line.
	bare    bool
	match   func(request) bool
	respond func(*Engine, request) string
}

// NewEngine creates an Engine with a math/rand chooser and the local clock.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		name:   DefaultName,
		choose: rand.IntN,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rules = defaultRules
	return e
}

// Name returns the assistant's display name.
func (e *Engine) Name() string {
	return e.name
}

var defaultRules = []rule{
	{
		branch: BranchHostile,
		bare:   true,
		match: func(r request) bool {
			return rivalInstitutions.Any(r.content)
		},
		respond: func(e *Engine, _ request) string {
			glyph := e.pick(contemptGlyphs)
			return fmt.Sprintf(hostileFormat, glyph, glyph)
		},
	},
	{
		branch: BranchIntro,
		match: func(r request) bool {
			return strings.TrimSpace(r.content) == ""
		},
		respond: func(e *Engine, _ request) string {
			return fmt.Sprintf(introFormat, e.name)
		},
	},
	{
		// Matches "古诗" alone, or "诗" together with "生成".
		branch: BranchPoem,
		match: func(r request) bool {
			return r.intents["古诗"] || (r.intents["诗"] && r.intents["生成"])
		},
		respond: func(e *Engine, _ request) string {
			return e.pick(poems)
		},
	},
	{
		branch: BranchNotice,
		match: func(r request) bool {
			return r.intents["通知"] && (r.intents["生成"] || r.intents["写"])
		},
		respond: func(e *Engine, r request) string {
			return composeNotice(r.content, r.intents, e.now())
		},
	},
	{
		branch: BranchKnowledge,
		match: func(r request) bool {
			return institutionTopics.Any(r.content)
		},
		respond: func(_ *Engine, r request) string {
			hits := answerKeywords.Hits(r.content)
			for _, a := range answers {
				if hits[a.keyword] {
					return a.text
				}
			}
			return knowledgeFallback
		},
	},
	{
		branch:  BranchDismiss,
		match:   func(request) bool { return true },
		respond: func(*Engine, request) string { return dismissal },
	},
}

// Reply evaluates content and returns the texts to post.
func (e *Engine) Reply(content string) Reply {
	req := request{
		content: content,
		intents: intentWords.Hits(content),
	}

	for _, r := range e.rules {
		if !r.match(req) {
			continue
		}
		if r.bare {
			return Reply{Branch: r.branch, Texts: []string{r.respond(e, req)}}
		}
		ack := fmt.Sprintf(acknowledgmentFormat, e.pick(affectionGlyphs))
		return Reply{Branch: r.branch, Texts: []string{ack, r.respond(e, req)}}
	}

	// Unreachable: the dismissal rule always matches.
	return Reply{Branch: BranchDismiss, Texts: []string{dismissal}}
}

func (e *Engine) pick(pool []string) string {
	i := e.choose(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}
