package approval

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rashmirrout/pilotdesk/internal/store"
)

// Verdict is a cached approval decision.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

type sessionRuleKey struct {
	tool    string
	session string
}

// RuleCache holds remembered approval decisions. Session rules are more
// specific than Global rules and win on lookup; Once decisions are never
// stored. Only Global rules persist across restarts.
type RuleCache struct {
	mu      sync.RWMutex
	global  map[string]Verdict
	session map[sessionRuleKey]Verdict
}

// NewRuleCache creates an empty cache.
func NewRuleCache() *RuleCache {
	return &RuleCache{
		global:  make(map[string]Verdict),
		session: make(map[sessionRuleKey]Verdict),
	}
}

// Lookup returns the cached verdict for a tool, preferring the session rule
// over the global one.
func (c *RuleCache) Lookup(tool, sessionID string) (Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if sessionID != "" {
		if v, ok := c.session[sessionRuleKey{tool: tool, session: sessionID}]; ok {
			return v, true
		}
	}
	if v, ok := c.global[tool]; ok {
		return v, true
	}
	return "", false
}

// Record stores a decision under the given scope. ScopeOnce is transient
// and ignored here.
func (c *RuleCache) Record(tool string, scope Scope, sessionID string, approved bool) {
	verdict := VerdictDeny
	if approved {
		verdict = VerdictAllow
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch scope {
	case ScopeGlobal:
		c.global[tool] = verdict
	case ScopeSession:
		c.session[sessionRuleKey{tool: tool, session: sessionID}] = verdict
	}
}

// DropSession forgets every session-scoped rule for a session.
func (c *RuleCache) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.session {
		if k.session == sessionID {
			delete(c.session, k)
		}
	}
}

// GlobalRules returns a copy of the global rule table.
func (c *RuleCache) GlobalRules() map[string]Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Verdict, len(c.global))
	for k, v := range c.global {
		out[k] = v
	}
	return out
}

// Save persists the Global rules only.
func (c *RuleCache) Save(st store.StateStore) error {
	return st.Put(store.BucketRoot, store.KeyApprovalRules, c.GlobalRules())
}

// Load replaces the Global rules from the store. A missing blob is fine;
// any other failure is logged and ignored — load failures never fail
// startup.
func (c *RuleCache) Load(st store.StateStore) {
	var rules map[string]Verdict
	if err := st.Get(store.BucketRoot, store.KeyApprovalRules, &rules); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("approval: load rules failed, starting empty", "error", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = make(map[string]Verdict, len(rules))
	for k, v := range rules {
		if v == VerdictAllow || v == VerdictDeny {
			c.global[k] = v
		}
	}
}
