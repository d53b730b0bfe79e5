package reasoning

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseStatus tags whether the parser had to substitute a default.
type ParseStatus string

const (
	StatusParsed    ParseStatus = "parsed"
	StatusMalformed ParseStatus = "malformed"
)

const (
	thoughtMarker = "Thought:"
	actionMarker  = "Action:"
	inputMarker   = "Action Input:"

	defaultThought = "No thought provided"
)

// actionRe accepts an optional bracket since the prompt shows the token as
// "[ACTION_TYPE]" and models sometimes echo it.
var actionRe = regexp.MustCompile(`Action:\s*\[?\s*(\w+)`)

// Parsed is the outcome of reading one model completion. Parsing never
// fails: every missing or unreadable part is replaced by a default and the
// substitution is noted.
type Parsed struct {
	Thought string
	Action  ActionKind
	Input   map[string]any
	Status  ParseStatus
	Notes   []string
}

func (p *Parsed) malformed(note string) {
	p.Status = StatusMalformed
	p.Notes = append(p.Notes, note)
}

// Parse reads the Thought / Action / Action Input layout from text.
func Parse(text string) Parsed {
	p := Parsed{Status: StatusParsed}
	p.Thought = parseThought(text, &p)
	p.Action = parseAction(text, &p)
	p.Input = parseInput(text, &p)
	return p
}

func parseThought(text string, p *Parsed) string {
	idx := strings.Index(text, thoughtMarker)
	if idx < 0 {
		p.malformed("missing Thought: marker")
		return defaultThought
	}
	rest := text[idx+len(thoughtMarker):]
	if end := strings.Index(rest, actionMarker); end >= 0 {
		rest = rest[:end]
	}
	thought := strings.TrimSpace(rest)
	if thought == "" {
		p.malformed("empty thought")
		return defaultThought
	}
	return thought
}

func parseAction(text string, p *Parsed) ActionKind {
	m := actionRe.FindStringSubmatch(text)
	if m == nil {
		p.malformed("missing Action: marker, defaulting to THINK")
		return ActionThink
	}
	kind, ok := ParseActionKind(m[1])
	if !ok {
		p.malformed("unknown action " + strings.ToUpper(m[1]) + ", defaulting to THINK")
	}
	return kind
}

func parseInput(text string, p *Parsed) map[string]any {
	idx := strings.Index(text, inputMarker)
	if idx < 0 {
		return map[string]any{}
	}
	rest := text[idx+len(inputMarker):]

	brace := strings.Index(rest, "{")
	if brace < 0 {
		raw := strings.TrimSpace(rest)
		if raw == "" {
			return map[string]any{}
		}
		p.malformed("action input is not an object")
		return map[string]any{"raw_input": raw}
	}

	var obj map[string]any
	if err := json.NewDecoder(strings.NewReader(rest[brace:])).Decode(&obj); err == nil {
		if obj == nil {
			obj = map[string]any{}
		}
		return obj
	}
	p.malformed("action input is not valid JSON")
	return map[string]any{"raw_input": balancedObject(rest[brace:])}
}

// balancedObject returns the text up to the brace that closes the first
// one, or the whole trimmed text when it never closes.
func balancedObject(s string) string {
	depth := 0
	inString, escaped := false, false
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{':
			depth++
		case r == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return strings.TrimSpace(s)
}
