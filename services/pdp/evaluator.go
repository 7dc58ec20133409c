package pdp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/utils"
)

// EvaluationRequest represents a single authorization question
type EvaluationRequest struct {
	Action     string
	Target     string
	OrgID      uuid.UUID
	EnvID      *uuid.UUID
	AgentID    uuid.UUID
	Tool       string
	ResourceNS string
	Context    map[string]interface{}
	Explain    bool
}

// Decision represents the outcome of an evaluation. Absent an explicit
// allow the effect is deny.
type Decision struct {
	Effect   models.RuleEffect
	RuleID   *uuid.UUID
	PolicyID *uuid.UUID
	Reason   string
	Explain  *Explanation
}

// Allowed reports whether the decision permits the action
func (d *Decision) Allowed() bool {
	return d.Effect == models.EffectAllow
}

// Explanation reports what the evaluator considered. Populated only when
// the request asked for it; collecting it never changes the decision.
type Explanation struct {
	Bindings     []*models.PolicyBinding
	MatchedRules []MatchedRule
}

// MatchedRule is a rule whose target pattern matched the request target.
// Deciding marks the single rule that produced the decision.
type MatchedRule struct {
	Rule       *models.PolicyRule
	BindingID  uuid.UUID
	ScopeType  models.ScopeType
	Conditions bool
	Deciding   bool
}

// Evaluator is the policy decision point. It holds no per-request state;
// every Evaluate call reads the current policy set through the
// repositories (via the binding cache when one is configured).
type Evaluator struct {
	policyRepo  repositories.PolicyRepository
	bindingRepo repositories.BindingRepository
	cache       *BindingCache
	now         func() time.Time
	logger      *zap.Logger
}

// NewEvaluator creates a new Evaluator instance. cache may be nil to
// disable binding caching.
func NewEvaluator(policyRepo repositories.PolicyRepository, bindingRepo repositories.BindingRepository, cache *BindingCache, logger *zap.Logger) *Evaluator {
	return NewEvaluatorWithClock(policyRepo, bindingRepo, cache, logger, time.Now)
}

// NewEvaluatorWithClock creates an Evaluator with an injected clock for
// time window conditions
func NewEvaluatorWithClock(policyRepo repositories.PolicyRepository, bindingRepo repositories.BindingRepository, cache *BindingCache, logger *zap.Logger, now func() time.Time) *Evaluator {
	return &Evaluator{
		policyRepo:  policyRepo,
		bindingRepo: bindingRepo,
		cache:       cache,
		now:         now,
		logger:      logger,
	}
}

// scanOrder is the fixed effect order within a specificity group: a deny
// anywhere in the group wins over any allow in the same group.
var scanOrder = []models.RuleEffect{models.EffectDeny, models.EffectAllow}

// Evaluate answers whether the action on the target is permitted for the
// request's scopes. Bindings are grouped by scope type and the groups are
// consulted most-specific first: agent, then tool and resource namespace,
// then environment, then organization. The first matching rule in that
// order decides; no match at all is a deny. Evaluation failures resolve to
// deny, never allow.
func (e *Evaluator) Evaluate(ctx context.Context, req EvaluationRequest) (*Decision, error) {
	refs := e.scopeRefs(req)
	if len(refs) == 0 {
		return e.defaultDeny(req, nil), nil
	}

	bindings, err := e.collectBindings(ctx, refs)
	if err != nil {
		e.logger.Error("failed to collect policy bindings",
			zap.Error(err),
			zap.String("org_id", req.OrgID.String()),
			zap.String("action", req.Action))
		return e.errorDeny(), services.ErrServiceUnavailable.WithCause(err)
	}

	groups := groupBySpecificity(bindings, req)

	evalCtx := Context{Values: req.Context, Now: e.now()}

	var explain *Explanation
	if req.Explain {
		explain = &Explanation{Bindings: bindings}
	}

	var decided *Decision
	for _, group := range groups {
		for _, effect := range scanOrder {
			for _, binding := range group {
				rules, err := e.policyRepo.ActiveRules(ctx, binding.PolicyID, req.Action, effect)
				if err != nil {
					e.logger.Error("failed to load policy rules",
						zap.Error(err),
						zap.String("policy_id", binding.PolicyID.String()))
					return e.errorDeny(), services.ErrServiceUnavailable.WithCause(err)
				}

				for _, rule := range rules {
					if !utils.MatchTarget(req.Target, rule.Target) {
						continue
					}

					conditionsMet := e.conditionsMet(rule, evalCtx)

					deciding := conditionsMet && decided == nil
					if explain != nil {
						explain.MatchedRules = append(explain.MatchedRules, MatchedRule{
							Rule:       rule,
							BindingID:  binding.ID,
							ScopeType:  binding.ScopeType,
							Conditions: conditionsMet,
							Deciding:   deciding,
						})
					}

					if deciding {
						ruleID := rule.ID
						policyID := rule.PolicyID
						decided = &Decision{
							Effect:   effect,
							RuleID:   &ruleID,
							PolicyID: &policyID,
							Reason:   string(effect) + " by " + string(binding.ScopeType) + " scope rule",
						}
						if explain == nil {
							return decided, nil
						}
					}
				}
			}
		}
	}

	if decided == nil {
		decided = e.defaultDeny(req, bindings)
	}
	decided.Explain = explain
	return decided, nil
}

// conditionsMet parses and evaluates a rule's conditions. A malformed
// conditions document means the rule does not match.
func (e *Evaluator) conditionsMet(rule *models.PolicyRule, evalCtx Context) bool {
	predicates, err := ParseConditions(rule.Conditions)
	if err != nil {
		e.logger.Warn("rule has malformed conditions, treating as non-matching",
			zap.Error(err),
			zap.String("rule_id", rule.ID.String()))
		return false
	}
	for _, p := range predicates {
		if !p.Evaluate(evalCtx) {
			return false
		}
	}
	return true
}

// scopeRefs builds the scope refs the request's bindings can attach to
func (e *Evaluator) scopeRefs(req EvaluationRequest) []repositories.ScopeRef {
	refs := make([]repositories.ScopeRef, 0, 5)
	if req.AgentID != uuid.Nil {
		refs = append(refs, repositories.ScopeRef{Type: models.ScopeAgent, ID: req.AgentID.String()})
	}
	if req.Tool != "" {
		refs = append(refs, repositories.ScopeRef{Type: models.ScopeTool, ID: req.Tool})
	}
	if req.ResourceNS != "" {
		refs = append(refs, repositories.ScopeRef{Type: models.ScopeResourceNS, ID: req.ResourceNS})
	}
	if req.EnvID != nil {
		refs = append(refs, repositories.ScopeRef{Type: models.ScopeEnv, ID: req.EnvID.String()})
	}
	if req.OrgID != uuid.Nil {
		refs = append(refs, repositories.ScopeRef{Type: models.ScopeOrg, ID: req.OrgID.String()})
	}
	return refs
}

// collectBindings fetches bindings for the scope refs, through the cache
// when one is configured
func (e *Evaluator) collectBindings(ctx context.Context, refs []repositories.ScopeRef) ([]*models.PolicyBinding, error) {
	if e.cache != nil {
		if bindings, ok := e.cache.Get(refs); ok {
			return bindings, nil
		}
	}

	bindings, err := e.bindingRepo.ForScopes(ctx, refs)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(refs, bindings)
	}
	return bindings, nil
}

// groupBySpecificity splits bindings into specificity groups, most
// specific first. Tool and resource namespace scopes are equally specific
// and share a group; repository ordering (priority, then creation time)
// is preserved within each group.
func groupBySpecificity(bindings []*models.PolicyBinding, req EvaluationRequest) [][]*models.PolicyBinding {
	byType := make(map[models.ScopeType][]*models.PolicyBinding)
	for _, b := range bindings {
		byType[b.ScopeType] = append(byType[b.ScopeType], b)
	}

	groups := make([][]*models.PolicyBinding, 0, 4)
	if g := byType[models.ScopeAgent]; len(g) > 0 {
		groups = append(groups, g)
	}
	if g := mergeOrdered(byType[models.ScopeTool], byType[models.ScopeResourceNS]); len(g) > 0 {
		groups = append(groups, g)
	}
	if g := byType[models.ScopeEnv]; len(g) > 0 {
		groups = append(groups, g)
	}
	if g := byType[models.ScopeOrg]; len(g) > 0 {
		groups = append(groups, g)
	}
	return groups
}

// mergeOrdered merges two binding lists already sorted by priority and
// creation time into one list with the same ordering
func mergeOrdered(a, b []*models.PolicyBinding) []*models.PolicyBinding {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}

	merged := make([]*models.PolicyBinding, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if bindingBefore(a[i], b[j]) {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}

// bindingBefore reports whether x sorts before y: lower priority value
// first, then earlier creation time
func bindingBefore(x, y *models.PolicyBinding) bool {
	if x.Priority != y.Priority {
		return x.Priority < y.Priority
	}
	return x.CreatedAt.Before(y.CreatedAt)
}

// defaultDeny is the decision when no rule matched
func (e *Evaluator) defaultDeny(req EvaluationRequest, bindings []*models.PolicyBinding) *Decision {
	d := &Decision{
		Effect: models.EffectDeny,
		Reason: "no matching rule",
	}
	if req.Explain {
		d.Explain = &Explanation{Bindings: bindings}
	}
	return d
}

// errorDeny is the fail-closed decision for evaluation failures
func (e *Evaluator) errorDeny() *Decision {
	return &Decision{
		Effect: models.EffectDeny,
		Reason: "policy evaluation unavailable",
	}
}
