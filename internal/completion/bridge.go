// Package completion implements the completion bridge: a secondary
// request/response exchange that supplies ranked completion candidates
// for the session controller to cycle through. It is deliberately
// separate from the worker IPC; the worker's envelope vocabulary never
// grows a completion type.
package completion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"circuitshell/internal/logging"
)

// Request asks for candidates at a cursor position.
type Request struct {
	ID     string `json:"id"`
	Input  string `json:"input"`
	Cursor int    `json:"cursor"`
}

// Candidate is one ranked completion suggestion.
type Candidate struct {
	Text  string  `json:"text"`
	Kind  string  `json:"kind"` // "board" | "keyword" | "history"
	Score float64 `json:"score"`
}

// Response carries the ranked candidate list for a request.
type Response struct {
	ID         string      `json:"id"`
	Candidates []Candidate `json:"candidates"`
}

// Bridge answers completion requests.
type Bridge interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(input string, cursor int) Request {
	return Request{ID: uuid.NewString(), Input: input, Cursor: cursor}
}

// Provider is the default Bridge: a static corpus of board API names
// and language keywords, optionally enriched with tokens from the
// session's input history.
type Provider struct {
	corpus []Candidate

	// historyTokens supplies extra candidates from past input lines.
	// May be nil.
	historyTokens func() []string
}

// NewProvider builds the default provider. historySupplier may be nil.
func NewProvider(historySupplier func() []string) *Provider {
	p := &Provider{historyTokens: historySupplier}

	// Bare member names: the eligible token is cut at the last '.' or
	// whitespace, so "board.D1" completes the "D1" part.
	boardNames := []string{
		"board", "LED", "Temperature()", "Light()", "ReadPin(",
	}
	for pin := 0; pin < 20; pin++ {
		boardNames = append(boardNames, fmt.Sprintf("D%d", pin))
	}
	for _, name := range boardNames {
		p.corpus = append(p.corpus, Candidate{Text: name, Kind: "board", Score: 2})
	}

	for _, kw := range []string{
		"func", "for", "if", "else", "range", "return", "import",
		"println", "print", "var", "const", "type", "struct", "map",
	} {
		p.corpus = append(p.corpus, Candidate{Text: kw, Kind: "keyword", Score: 1})
	}

	return p
}

// Complete returns candidates whose text extends the token under the
// cursor, best match first. An empty token yields no candidates rather
// than the whole corpus.
func (p *Provider) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	token := TokenAt(req.Input, req.Cursor)
	resp := Response{ID: req.ID}
	if token == "" {
		return resp, nil
	}

	pool := p.corpus
	if p.historyTokens != nil {
		for _, h := range p.historyTokens() {
			pool = append(pool, Candidate{Text: h, Kind: "history", Score: 3})
		}
	}

	lower := strings.ToLower(token)
	for _, cand := range pool {
		if cand.Text == token {
			continue // completing to itself is useless
		}
		if strings.HasPrefix(strings.ToLower(cand.Text), lower) {
			// Closer lengths rank higher within the same kind score.
			cand.Score += 1.0 / float64(1+len(cand.Text)-len(token))
			resp.Candidates = append(resp.Candidates, cand)
		}
	}

	sort.SliceStable(resp.Candidates, func(i, j int) bool {
		if resp.Candidates[i].Score != resp.Candidates[j].Score {
			return resp.Candidates[i].Score > resp.Candidates[j].Score
		}
		return resp.Candidates[i].Text < resp.Candidates[j].Text
	})

	logging.Get(logging.CategoryCompletion).Debug("completion %q -> %d candidates", token, len(resp.Candidates))
	return resp, nil
}

// TokenAt returns the replaceable trailing token at the cursor: the
// substring after the last whitespace or '.' before it.
func TokenAt(input string, cursor int) string {
	if cursor > len(input) {
		cursor = len(input)
	}
	if cursor < 0 {
		cursor = 0
	}
	head := input[:cursor]

	start := 0
	for i := len(head) - 1; i >= 0; i-- {
		c := head[i]
		if c == ' ' || c == '\t' || c == '.' {
			start = i + 1
			break
		}
	}
	return head[start:]
}

var _ Bridge = (*Provider)(nil)

// Cycler tracks repeated-completion state for the controller: which
// candidate list is active, and where in it the user currently is.
// Repeated Next calls cycle forward and wrap; Reset must be called on
// any other keystroke.
type Cycler struct {
	bridge Bridge

	active     bool
	base       string // input with the token stripped
	token      string
	candidates []Candidate
	index      int
}

// NewCycler wraps a bridge.
func NewCycler(bridge Bridge) *Cycler {
	return &Cycler{bridge: bridge}
}

// Next returns the input with the current token replaced by the next
// candidate in the cycle, querying the bridge on the first call of a
// cycle. ok is false when there are no candidates.
func (c *Cycler) Next(ctx context.Context, input string, cursor int) (string, bool) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(input) {
		cursor = len(input)
	}
	if !c.active {
		token := TokenAt(input, cursor)
		if token == "" {
			return input, false
		}

		req := NewRequest(input, cursor)
		start := time.Now()
		resp, err := c.bridge.Complete(ctx, req)
		if err != nil || len(resp.Candidates) == 0 {
			return input, false
		}
		logging.Get(logging.CategoryCompletion).Debug("cycle started: %d candidates in %s", len(resp.Candidates), time.Since(start))

		c.active = true
		c.token = token
		c.base = input[:cursor-len(token)]
		c.candidates = resp.Candidates
		c.index = 0
	} else {
		// Wrap to the first candidate after the last.
		c.index = (c.index + 1) % len(c.candidates)
	}

	return c.base + c.candidates[c.index].Text, true
}

// Reset abandons the current cycle. The next Next recomputes the
// eligible token and re-queries the bridge.
func (c *Cycler) Reset() {
	c.active = false
	c.candidates = nil
	c.index = 0
}

// Active reports whether a cycle is in progress.
func (c *Cycler) Active() bool { return c.active }
