// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package semver

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel causes for ParseRange rejections that are not syntax errors:
// strings that name something other than a version range. Callers that want
// to route dist-tags or VCS/URL specifiers elsewhere match these with
// errors.Is.
var (
	ErrTag = errors.New("range is a dist-tag, not a version range")
	ErrURL = errors.New("range is a URL, not a version range")
)

// op is a primitive comparator operator.
type op uint8

const (
	opEQ op = iota
	opLT
	opLE
	opGT
	opGE
)

func (o op) String() string {
	switch o {
	case opEQ:
		return "="
	case opLT:
		return "<"
	case opLE:
		return "<="
	case opGT:
		return ">"
	default:
		return ">="
	}
}

// comparator is a primitive version comparison.
type comparator struct {
	op  op
	ver Version
}

func (c comparator) String() string {
	return c.op.String() + c.ver.String()
}

// clause is a conjunction of comparators. An empty clause matches any
// version, subject to the prerelease visibility rule.
type clause struct {
	comps []comparator
}

// Range is a parsed npm version range: a disjunction of comparator
// conjunctions. The zero Range matches nothing; use ParseRange.
type Range struct {
	str     string
	clauses []clause
}

// String returns the range as it was given to ParseRange.
func (r Range) String() string { return r.str }

// Options controls satisfaction checks.
type Options struct {
	// IncludePrerelease disables the prerelease visibility rule: when set,
	// prerelease versions are eligible against any comparator, not only
	// comparators that name the same numeric triple with a prerelease.
	// The default (false) matches the npm CLI.
	IncludePrerelease bool
}

// partial is a possibly-incomplete version as written inside a range:
// omitted or "x"/"X"/"*" components are wildcard.
type partial struct {
	nums  [3]value
	pre   []string
	build string
}

// ParseRange parses an npm range expression. Shorthands (^, ~, hyphen
// ranges, x-wildcards, bare partials) are desugared to primitive
// comparators. Dist-tags ("latest") and URL/VCS specifiers are rejected
// with ErrTag and ErrURL respectively.
func ParseRange(s string) (Range, error) {
	if looksLikeURL(s) {
		return Range{}, fmt.Errorf("semver: %w: %q", ErrURL, s)
	}
	r := Range{str: s}
	for _, part := range strings.Split(s, "||") {
		cl, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return Range{}, err
		}
		r.clauses = append(r.clauses, cl)
	}
	return r, nil
}

func looksLikeURL(s string) bool {
	switch {
	case strings.Contains(s, "://"),
		strings.HasPrefix(s, "git+"),
		strings.HasPrefix(s, "git@"),
		strings.HasPrefix(s, "github:"),
		strings.HasPrefix(s, "file:"):
		return true
	}
	return false
}

func parseClause(s string) (clause, error) {
	if s == "" {
		return clause{}, nil
	}
	toks := strings.Fields(s)
	// Reattach operators that were written with a space before the version
	// (">= 1.2.3").
	var merged []string
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if isOperator(t) && i+1 < len(toks) {
			merged = append(merged, t+toks[i+1])
			i++
			continue
		}
		merged = append(merged, t)
	}

	var cl clause
	for i := 0; i < len(merged); i++ {
		// Hyphen range: "a - b".
		if i+2 < len(merged) && merged[i+1] == "-" {
			comps, err := desugarHyphen(merged[i], merged[i+2])
			if err != nil {
				return clause{}, err
			}
			cl.comps = append(cl.comps, comps...)
			i += 2
			continue
		}
		comps, err := desugarComparator(merged[i])
		if err != nil {
			return clause{}, err
		}
		cl.comps = append(cl.comps, comps...)
	}
	return cl, nil
}

func isOperator(s string) bool {
	switch s {
	case "<", "<=", ">", ">=", "=", "^", "~", "~>":
		return true
	}
	return false
}

// desugarComparator expands one range token into primitive comparators.
// The result may be empty (a wildcard token matches everything).
func desugarComparator(tok string) ([]comparator, error) {
	var opStr string
	rest := tok
	for _, p := range []string{">=", "<=", ">", "<", "=", "^", "~>", "~"} {
		if strings.HasPrefix(tok, p) {
			opStr, rest = p, tok[len(p):]
			break
		}
	}
	if opStr == "~>" {
		opStr = "~"
	}
	p, err := parsePartial(rest)
	if err != nil {
		return nil, err
	}
	switch opStr {
	case "^":
		return desugarCaret(p), nil
	case "~":
		return desugarTilde(p), nil
	case ">":
		return desugarGT(p), nil
	case ">=":
		return desugarGTE(p), nil
	case "<":
		return desugarLT(p), nil
	case "<=":
		return desugarLTE(p), nil
	default: // "=" or bare
		return desugarExact(p), nil
	}
}

// parsePartial parses a version that may omit components or use
// "x"/"X"/"*" wildcards. An identifier that is not a version at all is
// reported as ErrTag so callers can distinguish "latest" from "1.2.junk".
func parsePartial(s string) (partial, error) {
	orig := s
	s = strings.TrimPrefix(s, "v")
	p := partial{nums: [3]value{wildcard, wildcard, wildcard}}
	if s == "" {
		return p, nil
	}
	if i := strings.IndexByte(s, '+'); i >= 0 {
		p.build = s[i+1:]
		s = s[:i]
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		preStr := s[i+1:]
		s = s[:i]
		if preStr == "" {
			return partial{}, fmt.Errorf("semver: empty prerelease in %q", orig)
		}
		p.pre = strings.Split(preStr, ".")
		for _, id := range p.pre {
			if id == "" || !isValidPrereleaseIdent(id) {
				return partial{}, fmt.Errorf("semver: invalid prerelease identifier %q in %q", id, orig)
			}
		}
	}
	fields := strings.Split(s, ".")
	if len(fields) > 3 {
		return partial{}, fmt.Errorf("semver: too many components in %q", orig)
	}
	for i, f := range fields {
		if f == "x" || f == "X" || f == "*" {
			continue // leave wildcard
		}
		n, err := parseNumericIdent(f)
		if err != nil {
			if looksLikeTag(orig) {
				return partial{}, fmt.Errorf("semver: %w: %q", ErrTag, orig)
			}
			return partial{}, fmt.Errorf("semver: %w in %q", err, orig)
		}
		p.nums[i] = n
	}
	// A wildcard component truncates everything after it.
	for i := 0; i < 3; i++ {
		if p.nums[i] == wildcard {
			for j := i; j < 3; j++ {
				p.nums[j] = wildcard
			}
			p.pre = nil
			break
		}
	}
	if len(p.pre) > 0 && p.nums[2] == wildcard {
		return partial{}, fmt.Errorf("semver: prerelease on partial version %q", orig)
	}
	return p, nil
}

// looksLikeTag reports whether s is shaped like an npm dist-tag: an
// identifier that never parses as any version fragment.
func looksLikeTag(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if c >= '0' && c <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// version constructs a concrete Version from components.
func version(major, minor, patch value, pre ...string) Version {
	return Version{num: [3]value{major, minor, patch}, pre: pre}
}

// lowest returns the partial's floor: wildcards become zero.
func (p partial) lowest() Version {
	v := Version{pre: p.pre}
	for i, n := range p.nums {
		if n == wildcard {
			n = 0
		}
		v.num[i] = n
	}
	return v
}

// Exclusive desugared upper bounds carry a "-0" prerelease so that, for
// example, ^1.2.3 excludes 2.0.0-alpha even when prereleases are visible.
// This mirrors node-semver's own desugaring.
func upperBound(major, minor, patch value) comparator {
	return comparator{op: opLT, ver: version(major, minor, patch, "0")}
}

func desugarCaret(p partial) []comparator {
	switch {
	case p.nums[0] == wildcard:
		return nil
	case p.nums[1] == wildcard:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(p.nums[0]+1, 0, 0),
		}
	case p.nums[0] > 0:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(p.nums[0]+1, 0, 0),
		}
	case p.nums[2] == wildcard, p.nums[1] > 0:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(0, p.nums[1]+1, 0),
		}
	default: // ^0.0.z
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(0, 0, p.nums[2]+1),
		}
	}
}

func desugarTilde(p partial) []comparator {
	switch {
	case p.nums[0] == wildcard:
		return nil
	case p.nums[1] == wildcard:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(p.nums[0]+1, 0, 0),
		}
	default:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(p.nums[0], p.nums[1]+1, 0),
		}
	}
}

func desugarExact(p partial) []comparator {
	switch {
	case p.nums[0] == wildcard:
		return nil
	case p.nums[1] == wildcard:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(p.nums[0]+1, 0, 0),
		}
	case p.nums[2] == wildcard:
		return []comparator{
			{op: opGE, ver: p.lowest()},
			upperBound(p.nums[0], p.nums[1]+1, 0),
		}
	default:
		return []comparator{{op: opEQ, ver: p.lowest()}}
	}
}

func desugarGT(p partial) []comparator {
	switch {
	case p.nums[0] == wildcard:
		// ">*" is satisfiable by nothing.
		return []comparator{{op: opLT, ver: version(0, 0, 0, "0")}}
	case p.nums[1] == wildcard:
		return []comparator{{op: opGE, ver: version(p.nums[0]+1, 0, 0)}}
	case p.nums[2] == wildcard:
		return []comparator{{op: opGE, ver: version(p.nums[0], p.nums[1]+1, 0)}}
	default:
		return []comparator{{op: opGT, ver: p.lowest()}}
	}
}

func desugarGTE(p partial) []comparator {
	if p.nums[0] == wildcard {
		return nil
	}
	return []comparator{{op: opGE, ver: p.lowest()}}
}

func desugarLT(p partial) []comparator {
	switch {
	case p.nums[0] == wildcard:
		return []comparator{{op: opLT, ver: version(0, 0, 0, "0")}}
	case p.nums[2] == wildcard || p.nums[1] == wildcard:
		return []comparator{{op: opLT, ver: p.lowest().withPre("0")}}
	default:
		return []comparator{{op: opLT, ver: p.lowest()}}
	}
}

func desugarLTE(p partial) []comparator {
	switch {
	case p.nums[0] == wildcard:
		return nil
	case p.nums[1] == wildcard:
		return []comparator{upperBound(p.nums[0]+1, 0, 0)}
	case p.nums[2] == wildcard:
		return []comparator{upperBound(p.nums[0], p.nums[1]+1, 0)}
	default:
		return []comparator{{op: opLE, ver: p.lowest()}}
	}
}

func (v Version) withPre(ids ...string) Version {
	v.pre = ids
	return v
}

func desugarHyphen(lo, hi string) ([]comparator, error) {
	lp, err := parsePartial(lo)
	if err != nil {
		return nil, err
	}
	hp, err := parsePartial(hi)
	if err != nil {
		return nil, err
	}
	var comps []comparator
	if lp.nums[0] != wildcard {
		comps = append(comps, comparator{op: opGE, ver: lp.lowest()})
	}
	switch {
	case hp.nums[0] == wildcard:
		// "1.2.3 - *": unbounded above.
	case hp.nums[1] == wildcard:
		comps = append(comps, upperBound(hp.nums[0]+1, 0, 0))
	case hp.nums[2] == wildcard:
		comps = append(comps, upperBound(hp.nums[0], hp.nums[1]+1, 0))
	default:
		comps = append(comps, comparator{op: opLE, ver: hp.lowest()})
	}
	return comps, nil
}

// Satisfies reports whether v is contained in r. A prerelease version is
// only eligible when some comparator of the satisfying clause names the
// same numeric triple with a prerelease of its own, unless
// opts.IncludePrerelease is set.
func Satisfies(v Version, r Range, opts Options) bool {
	for _, cl := range r.clauses {
		if satisfiesClause(v, cl, opts.IncludePrerelease) {
			return true
		}
	}
	return false
}

func satisfiesClause(v Version, cl clause, includePre bool) bool {
	if len(cl.comps) == 0 {
		return includePre || !v.IsPrerelease()
	}
	for _, c := range cl.comps {
		if !holds(v, c) {
			return false
		}
	}
	if v.IsPrerelease() && !includePre {
		for _, c := range cl.comps {
			if c.ver.num == v.num && c.ver.IsPrerelease() {
				return true
			}
		}
		return false
	}
	return true
}

func holds(v Version, c comparator) bool {
	cmp := Compare(v, c.ver)
	switch c.op {
	case opEQ:
		return cmp == 0
	case opLT:
		return cmp < 0
	case opLE:
		return cmp <= 0
	case opGT:
		return cmp > 0
	default:
		return cmp >= 0
	}
}

// LowerBound returns the smallest version that could possibly satisfy r,
// considering lower-bound comparators only. Resolvers use it to discard
// candidates cheaply before running full satisfaction checks. The second
// result is false when r has a clause with no lower bound (any version
// may satisfy).
func (r Range) LowerBound() (Version, bool) {
	var best Version
	have := false
	for _, cl := range r.clauses {
		lo, ok := clauseLowerBound(cl)
		if !ok {
			return Version{}, false
		}
		if !have || Compare(lo, best) < 0 {
			best, have = lo, true
		}
	}
	return best, have
}

func clauseLowerBound(cl clause) (Version, bool) {
	var best Version
	have := false
	for _, c := range cl.comps {
		switch c.op {
		case opGE, opGT, opEQ:
			if !have || Compare(c.ver, best) > 0 {
				best, have = c.ver, true
			}
		}
	}
	return best, have
}

// MaxSatisfying returns the greatest member of versions contained in r,
// and false when none satisfies. The input order is irrelevant; for the
// same set and range the result is the same.
func MaxSatisfying(versions []Version, r Range, opts Options) (Version, bool) {
	var best Version
	found := false
	for _, v := range versions {
		if !Satisfies(v, r, opts) {
			continue
		}
		if !found || Compare(v, best) > 0 {
			best, found = v, true
		}
	}
	return best, found
}

// MinSatisfying returns the smallest member of versions contained in r.
func MinSatisfying(versions []Version, r Range, opts Options) (Version, bool) {
	var best Version
	found := false
	for _, v := range versions {
		if !Satisfies(v, r, opts) {
			continue
		}
		if !found || Compare(v, best) < 0 {
			best, found = v, true
		}
	}
	return best, found
}
