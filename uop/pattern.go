// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package uop

// UPat is a structural pattern over the UOp DAG: `UPat(op_tag[s],
// src=(...), name=...)` from spec.md §4.6. A zero-value Ops matches
// any tag; a nil Src matches any children (including none).
type UPat struct {
	Ops  []Tag
	Src  []UPat
	Name string
}

func (p UPat) matches(u *UOp, captures map[string]*UOp) bool {
	if len(p.Ops) > 0 {
		ok := false
		for _, t := range p.Ops {
			if u.Op == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if p.Src != nil {
		if len(p.Src) != len(u.Src) {
			return false
		}
		for i, sp := range p.Src {
			if !sp.matches(u.Src[i], captures) {
				return false
			}
		}
	}
	if p.Name != "" {
		captures[p.Name] = u
	}
	return true
}

// Rule pairs a pattern with a rewrite function. The function receives
// the named captures and the Cache used for the rewrite; it returns
// nil to signal "no rewrite applies here".
type Rule struct {
	Pat UPat
	Fn  func(c *Cache, captures map[string]*UOp) *UOp
}

// Matcher is an ordered list of rewrite rules, tried top to bottom
// at every node (first match wins), exactly like tinygrad's
// PatternMatcher.
type Matcher []Rule

// GraphRewrite applies m bottom-up to root (spec.md §4.6): each node's
// sources are rewritten first, then rules are applied at the node
// until none matches. Nodes newly built inside a replacement are not
// revisited, so the result is not guaranteed to be a fixpoint over the
// whole tree. c is used to hash-cons any reconstructed intermediate
// nodes.
func GraphRewrite(c *Cache, root *UOp, m Matcher) *UOp {
	memo := map[*UOp]*UOp{}
	var rewrite func(*UOp) *UOp
	rewrite = func(u *UOp) *UOp {
		if n, ok := memo[u]; ok {
			return n
		}
		newSrcs := make([]*UOp, len(u.Src))
		changed := false
		for i, s := range u.Src {
			ns := rewrite(s)
			newSrcs[i] = ns
			if ns != s {
				changed = true
			}
		}
		cur := u
		if changed {
			cur = c.New(u.Op, u.DType, newSrcs, u.Arg)
		}
		for {
			applied := false
			for _, rule := range m {
				captures := map[string]*UOp{}
				if !rule.Pat.matches(cur, captures) {
					continue
				}
				repl := rule.Fn(c, captures)
				if repl == nil || repl == cur {
					continue
				}
				cur = repl
				applied = true
				break
			}
			if !applied {
				break
			}
		}
		memo[u] = cur
		return cur
	}
	return rewrite(root)
}
