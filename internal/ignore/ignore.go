package ignore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

var ErrInvalidPattern = errors.New("invalid ignore pattern")

type Kind string

const (
	KindRegex     Kind = "re"
	KindPrefix    Kind = "prefix"
	KindGlob      Kind = "glob"
	KindGitignore Kind = "gitignore"
)

// Matcher reports whether a full local path should be skipped.
type Matcher interface {
	Match(path string) bool
}

// Rule is a single parsed ignore entry.
type Rule interface {
	Matcher
	Kind() Kind
	Pattern() string
}

// ----------------------------------------------------------------------------

// RegexRule matches when the expression is found anywhere in the path.
type RegexRule struct {
	re *regexp.Regexp
}

func newRegexRule(pattern string) (*RegexRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexRule{re: re}, nil
}

func (r *RegexRule) Match(path string) bool { return r.re.MatchString(path) }
func (r *RegexRule) Kind() Kind             { return KindRegex }
func (r *RegexRule) Pattern() string        { return r.re.String() }

// ----------------------------------------------------------------------------

type PrefixRule struct {
	prefix string
}

func (p *PrefixRule) Match(path string) bool { return strings.HasPrefix(path, p.prefix) }
func (p *PrefixRule) Kind() Kind             { return KindPrefix }
func (p *PrefixRule) Pattern() string        { return p.prefix }

// ----------------------------------------------------------------------------

// GlobRule matches the whole path against a doublestar pattern.
type GlobRule struct {
	pattern string
}

func newGlobRule(pattern string) (*GlobRule, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	return &GlobRule{pattern: pattern}, nil
}

func (g *GlobRule) Match(path string) bool {
	ok, _ := doublestar.Match(g.pattern, path)
	return ok
}

func (g *GlobRule) Kind() Kind      { return KindGlob }
func (g *GlobRule) Pattern() string { return g.pattern }

// ----------------------------------------------------------------------------

// GitignoreRule applies one gitignore line with the filesystem root as base.
type GitignoreRule struct {
	line   string
	ignore *gitignore.GitIgnore
}

func newGitignoreRule(line string) *GitignoreRule {
	return &GitignoreRule{line: line, ignore: gitignore.CompileIgnoreLines(line)}
}

func (g *GitignoreRule) Match(path string) bool {
	return g.ignore.MatchesPath(strings.TrimPrefix(path, "/"))
}

func (g *GitignoreRule) Kind() Kind      { return KindGitignore }
func (g *GitignoreRule) Pattern() string { return g.line }

// ----------------------------------------------------------------------------

// Parse turns one ignore entry into a rule. The kind is selected by a
// "<kind>:" prefix; entries without one are regular expressions.
func Parse(entry string) (Rule, error) {
	kind, pattern := KindRegex, entry
	if k, rest, ok := strings.Cut(entry, ":"); ok {
		switch Kind(k) {
		case KindRegex, KindPrefix, KindGlob, KindGitignore:
			kind, pattern = Kind(k), rest
		}
	}

	if pattern == "" {
		return nil, fmt.Errorf("%w: %q is empty", ErrInvalidPattern, entry)
	}

	switch kind {
	case KindPrefix:
		return &PrefixRule{prefix: pattern}, nil
	case KindGlob:
		rule, err := newGlobRule(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, entry, err)
		}
		return rule, nil
	case KindGitignore:
		return newGitignoreRule(pattern), nil
	default:
		rule, err := newRegexRule(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, entry, err)
		}
		return rule, nil
	}
}

// RuleSet is an ordered list of rules. A path is ignored if any rule matches;
// evaluation stops at the first match.
type RuleSet struct {
	rules []Rule
}

func Compile(entries []string) (*RuleSet, error) {
	rules := make([]Rule, 0, len(entries))
	for _, entry := range entries {
		rule, err := Parse(entry)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &RuleSet{rules: rules}, nil
}

func (s *RuleSet) Match(path string) bool {
	_, ok := s.First(path)
	return ok
}

// First returns the first rule matching path.
func (s *RuleSet) First(path string) (Rule, bool) {
	if s == nil {
		return nil, false
	}
	for _, rule := range s.rules {
		if rule.Match(path) {
			return rule, true
		}
	}
	return nil, false
}

func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

var (
	_ Rule    = (*RegexRule)(nil)
	_ Rule    = (*PrefixRule)(nil)
	_ Rule    = (*GlobRule)(nil)
	_ Rule    = (*GitignoreRule)(nil)
	_ Matcher = (*RuleSet)(nil)
)
