// Package repoaccess implements the allowlist gate that every Forge
// (source-forge) API call passes through: given (owner, repo, branch,
// path) it decides admissibility before any installation token is
// minted. Branch and path entries accept glob patterns compiled once
// at load time, following the same perimeter-policy compile-then-match
// idiom used for network egress rules elsewhere in the control plane.
package repoaccess

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/config"
)

// Entry is one allowlisted repo with its permitted branches and paths.
type Entry struct {
	Owner    string
	Repo     string
	Branches []string
	Paths    []string
}

// compiledEntry caches the regex forms of an Entry's glob patterns.
type compiledEntry struct {
	owner, repo string
	branches    []*regexp.Regexp
	paths       []*regexp.Regexp
}

// defaultAllowlist is used when FORGE_REPO_ALLOWLIST is unset, so a
// fresh checkout works against its own repo without extra config.
var defaultAllowlist = []Entry{
	{Owner: "afu9", Repo: "control-center", Branches: []string{"main", "release/*"}},
}

// Policy is the compiled allowlist gate.
type Policy struct {
	mu      sync.RWMutex
	entries []compiledEntry
}

// Result is the outcome of a checkAccess call.
type Result struct {
	Allowed bool
	Reason  string
}

// New compiles a Policy from configuration. A misconfigured
// (unparseable) FORGE_REPO_ALLOWLIST is a POLICY_CONFIG_ERROR, not a
// silent fallback — fail-closed on operator error.
func New(cfg *config.Config) (*Policy, error) {
	doc, err := cfg.ParseAllowlist()
	if err != nil {
		return nil, afu9err.New(afu9err.CodePolicyConfigError, err.Error())
	}

	var entries []Entry
	if doc == nil {
		entries = defaultAllowlist
	} else {
		for _, e := range doc.Allowlist {
			entries = append(entries, Entry{Owner: e.Owner, Repo: e.Repo, Branches: e.Branches, Paths: e.Paths})
		}
	}

	p := &Policy{}
	if err := p.load(entries); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) load(entries []Entry) error {
	compiled := make([]compiledEntry, 0, len(entries))
	for _, e := range entries {
		if e.Owner == "" || e.Repo == "" {
			return afu9err.New(afu9err.CodePolicyConfigError, "allowlist entry missing owner or repo")
		}
		ce := compiledEntry{owner: e.Owner, repo: e.Repo}
		for _, b := range e.Branches {
			re, err := globToRegexp(b)
			if err != nil {
				return afu9err.New(afu9err.CodePolicyConfigError, "invalid branch pattern: "+b)
			}
			ce.branches = append(ce.branches, re)
		}
		for _, pth := range e.Paths {
			re, err := globToRegexp(pth)
			if err != nil {
				return afu9err.New(afu9err.CodePolicyConfigError, "invalid path pattern: "+pth)
			}
			ce.paths = append(ce.paths, re)
		}
		compiled = append(compiled, ce)
	}

	p.mu.Lock()
	p.entries = compiled
	p.mu.Unlock()
	return nil
}

// globToRegexp compiles a simple glob (only "*" is special) into an
// anchored regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	return regexp.Compile("^" + quoted + "$")
}

// CheckAccess decides whether a Forge call against (owner, repo,
// branch, path) is admissible. branch and path are optional; an empty
// value skips that dimension of the check.
func (p *Policy) CheckAccess(_ context.Context, owner, repo, branch, path string) Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, e := range p.entries {
		if e.owner != owner || e.repo != repo {
			continue
		}
		if branch != "" && len(e.branches) > 0 && !matchAny(e.branches, branch) {
			return Result{Allowed: false, Reason: "branch not allowlisted: " + branch}
		}
		if path != "" && len(e.paths) > 0 && !matchAny(e.paths, path) {
			return Result{Allowed: false, Reason: "path not allowlisted: " + path}
		}
		return Result{Allowed: true}
	}
	return Result{Allowed: false, Reason: "repo not allowlisted: " + owner + "/" + repo}
}

func matchAny(patterns []*regexp.Regexp, value string) bool {
	for _, re := range patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// RequireAccess is CheckAccess with a fail-closed error return,
// suitable for direct use in gating paths: denial surfaces as
// REPO_NOT_ALLOWED.
func (p *Policy) RequireAccess(ctx context.Context, owner, repo, branch, path string) error {
	res := p.CheckAccess(ctx, owner, repo, branch, path)
	if !res.Allowed {
		return afu9err.New(afu9err.CodeRepoNotAllowed, res.Reason)
	}
	return nil
}
