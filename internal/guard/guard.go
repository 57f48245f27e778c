// Package guard blocks destructive administrative shell commands before they run.
package guard

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/jmespath/go-jmespath"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// commandPath locates the proposed command inside a hook envelope.
const commandPath = "tool_input.command"

const maxEnvelope = 1 << 20

// errOversized marks envelopes larger than maxEnvelope. They are blocked in either fail
// mode since a truncated read could hide a denylisted command.
var errOversized = fmt.Errorf("input exceeds %d bytes", maxEnvelope)

type Rule struct {
	Name       string   `yaml:"name"`
	Command    []string `yaml:"command"`
	Flags      []string `yaml:"flags,omitempty"`
	Reason     string   `yaml:"reason"`
	Suggestion string   `yaml:"suggestion"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

type Decision int

const (
	Allow Decision = iota
	Block
)

func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// Verdict is the outcome of one evaluation. Rule, Reason and Suggestion are set on Block.
type Verdict struct {
	Decision   Decision
	Rule       string
	Reason     string
	Suggestion string
}

func (v Verdict) Blocked() bool { return v.Decision == Block }

type compiled struct {
	Rule
	re *regexp.Regexp
}

type Guard struct {
	rules      []compiled
	extract    *jmespath.JMESPath
	failClosed bool
}

type Option func(*Guard)

// WithFailClosed blocks envelopes the command cannot be extracted from.
func WithFailClosed() Option {
	return func(g *Guard) { g.failClosed = true }
}

// Separators start a new command; quotes, parens and backticks cover subshells.
const (
	startClass = "[;&|(`'\"]"
	endChars   = " ;&|)`'\""
)

// wrappers are prefixes that still run the command that follows them: launchers and
// leading VAR=value assignments.
const wrappers = `(?:(?:sudo|npx|bunx|env|time|command|exec|nohup)\s+|\w+=\S*\s+)*`

func compile(r Rule) (*regexp.Regexp, error) {
	if len(r.Command) == 0 {
		return nil, fmt.Errorf("rule %q: empty command", r.Name)
	}
	toks := make([]string, len(r.Command))
	for i, t := range r.Command {
		t = strings.TrimSpace(t)
		if t == "" || strings.ContainsAny(t, " \t") {
			return nil, fmt.Errorf("rule %q: bad token %q", r.Name, t)
		}
		toks[i] = regexp.QuoteMeta(t)
	}
	// The boundary after the last token is checked by the caller, so a match never
	// consumes the separator that starts the next command.
	expr := `(?:^|` + startClass + `)\s*` + wrappers + strings.Join(toks, `\s+`)
	return regexp.Compile(expr)
}

// New compiles rules. Rule names must be unique.
func New(rules []Rule, opts ...Option) (*Guard, error) {
	extract, err := jmespath.Compile(commandPath)
	if err != nil {
		return nil, err
	}
	g := &Guard{extract: extract}
	seen := map[string]bool{}
	for _, r := range rules {
		if r.Name == "" || seen[r.Name] {
			return nil, fmt.Errorf("rule name %q empty or duplicated", r.Name)
		}
		seen[r.Name] = true
		re, err := compile(r)
		if err != nil {
			return nil, err
		}
		g.rules = append(g.rules, compiled{Rule: r, re: re})
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Default builds a guard with the embedded rule set.
func Default(opts ...Option) (*Guard, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return New(rules, opts...)
}

func DefaultRules() ([]Rule, error) { return parseRules(defaultRules) }

// LoadRules reads a YAML rule file.
func LoadRules(r io.Reader) ([]Rule, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseRules(b)
}

func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRules(f)
}

func parseRules(b []byte) ([]Rule, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("parse rules: no rules")
	}
	return rf.Rules, nil
}

var spaces = regexp.MustCompile(`\s+`)

// Flatten turns line breaks into command separators and collapses whitespace runs.
func Flatten(line string) string {
	line = strings.ReplaceAll(line, "\\\r\n", " ")
	line = strings.ReplaceAll(line, "\\\n", " ")
	line = strings.NewReplacer("\r\n", " ; ", "\n", " ; ", "\r", " ; ").Replace(line)
	return strings.TrimSpace(spaces.ReplaceAllString(line, " "))
}

// Evaluate checks one command line against the rules.
func (g *Guard) Evaluate(line string) Verdict {
	flat := Flatten(line)
	if flat == "" {
		return Verdict{Decision: Allow}
	}
	for _, r := range g.rules {
		for _, loc := range r.re.FindAllStringIndex(flat, -1) {
			end := loc[1]
			if end < len(flat) && !strings.ContainsRune(endChars, rune(flat[end])) {
				continue
			}
			if len(r.Flags) == 0 || hasFlag(segment(flat, end), r.Flags) {
				return Verdict{Decision: Block, Rule: r.Name, Reason: r.Reason, Suggestion: r.Suggestion}
			}
		}
	}
	return Verdict{Decision: Allow}
}

// segment returns the rest of the command starting at from, up to the next separator.
func segment(s string, from int) string {
	rest := s[from:]
	if i := strings.IndexAny(rest, ";&|"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func hasFlag(seg string, flags []string) bool {
	for _, f := range strings.Fields(seg) {
		for _, want := range flags {
			if f == want || strings.HasPrefix(f, want+"=") {
				return true
			}
		}
	}
	return false
}

// EvaluateEnvelope reads {"tool_input":{"command":"..."}} and evaluates the command.
// An empty command is allowed and an oversized envelope is blocked. When the command
// cannot be extracted the guard allows, unless built WithFailClosed.
func (g *Guard) EvaluateEnvelope(r io.Reader) Verdict {
	cmd, err := g.command(r)
	if errors.Is(err, errOversized) {
		return Verdict{
			Decision:   Block,
			Rule:       "oversized-input",
			Reason:     err.Error(),
			Suggestion: "Split the command into smaller invocations.",
		}
	}
	if err != nil {
		if g.failClosed {
			return Verdict{
				Decision:   Block,
				Rule:       "unreadable-input",
				Reason:     err.Error(),
				Suggestion: "Send a JSON envelope with tool_input.command set.",
			}
		}
		return Verdict{Decision: Allow}
	}
	return g.Evaluate(cmd)
}

func (g *Guard) command(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxEnvelope+1))
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if len(b) > maxEnvelope {
		return "", errOversized
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", fmt.Errorf("input is not JSON: %w", err)
	}
	v, err := g.extract.Search(doc)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", commandPath, err)
	}
	if v == nil {
		return "", fmt.Errorf("%s absent", commandPath)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", commandPath)
	}
	return s, nil
}
