package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/opdbt/opdbt/internal/formula"
	"github.com/opdbt/opdbt/internal/output"
	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/schema"
	"github.com/opdbt/opdbt/internal/table"
	"github.com/opdbt/opdbt/internal/views"
)

// Status is the outcome of one rule.
type Status string

const (
	Executed    Status = "EXECUTED"
	Failed      Status = "FAILED"
	Skipped     Status = "SKIPPED"
	Unsupported Status = "UNSUPPORTED"
)

// Skip reasons for the gating checks.
const (
	ReasonDisabled      = "rule is not enabled"
	ReasonGroup         = "rule belongs to a different execution group"
	ReasonDBVersion     = "database version is outside the rule's range"
	ReasonScriptVersion = "collection script version is outside the rule's range"
)

// ErrUnsupported marks a (type, action) pair no handler exists for.
var ErrUnsupported = errors.New("unsupported rule action")

// Result is the recorded outcome of one rule.
type Result struct {
	Status Status `json:"status"`
	Value  any    `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Params are the run-wide values rules are gated on.
type Params struct {
	DBVersion         string
	CollectionVersion string
}

// RunRequest selects the rules of one scheduler pass.
type RunRequest struct {
	Group string
	Rules RuleSet
	// SingleRule, when set, runs only that rule.
	SingleRule      string
	Params          Params
	AlreadyExecuted map[string]bool
}

// Outcome holds the results of one pass, keyed by rule id.
type Outcome struct {
	Results map[string]Result
	// Order lists rule ids in the order they were considered.
	Order []string
}

// Executed returns the ids of the rules that executed.
func (o *Outcome) Executed() []string {
	var ids []string
	for _, id := range o.Order {
		if r, ok := o.Results[id]; ok && r.Status == Executed {
			ids = append(ids, id)
		}
	}
	return ids
}

// RunContext is the mutable state of a run shared by all passes: the table
// registry, bound variables, the schema map and the output files written.
type RunContext struct {
	Registry *registry.Registry
	Vars     map[string]any
	Schemas  schema.Schemas
	Files    []string
}

// NewRunContext creates an empty run context.
func NewRunContext(reg *registry.Registry, schemas schema.Schemas) *RunContext {
	if reg == nil {
		reg = registry.New()
	}
	if schemas == nil {
		schemas = schema.Schemas{}
	}
	return &RunContext{Registry: reg, Vars: make(map[string]any), Schemas: schemas}
}

// Env returns a formula environment over the run's tables and variables.
func (rc *RunContext) Env() *formula.Env {
	return formula.NewEnv(rc.Registry, rc.Vars)
}

// Scheduler runs rule passes. Its fields are fixed for a run.
type Scheduler struct {
	OutputDir     string
	Sep           string
	CollectionKey string
	ProjectID     string
	DatasetID     string
	Views         views.Creator
	Logger        *slog.Logger
}

// Run executes one pass. Faults inside a rule are recorded in its result
// and never stop the pass.
func (s *Scheduler) Run(ctx context.Context, req RunRequest, rc *RunContext) *Outcome {
	out := &Outcome{Results: make(map[string]Result)}

	for _, id := range s.order(req) {
		out.Order = append(out.Order, id)

		r, ok := req.Rules[id]
		if !ok {
			out.Results[id] = Result{Status: Skipped, Reason: "rule is not defined"}
			s.logger().Warn("rule skipped", "rule", id, "reason", "rule is not defined")
			continue
		}

		if reason, pass := s.gate(r, req); !pass {
			out.Results[id] = Result{Status: Skipped, Reason: reason}
			if reason != ReasonGroup {
				s.logger().Info("rule skipped", "rule", id, "reason", reason)
			}
			continue
		}
		if req.AlreadyExecuted[id] {
			continue
		}

		s.logger().Info("processing rule", "rule", id, "priority", int(r.Priority))
		res, record := s.execute(ctx, r, rc)
		if !record {
			continue
		}
		switch res.Status {
		case Failed, Skipped, Unsupported:
			s.logger().Warn("rule not executed", "rule", id, "status", string(res.Status), "reason", res.Reason)
		}
		out.Results[id] = res
	}
	return out
}

// order returns the ids to consider: the single rule, or all rules by
// ascending priority with ties broken by id.
func (s *Scheduler) order(req RunRequest) []string {
	if req.SingleRule != "" {
		return []string{req.SingleRule}
	}
	ids := make([]string, 0, len(req.Rules))
	for id := range req.Rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := req.Rules[ids[i]].Priority, req.Rules[ids[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (s *Scheduler) gate(r *Rule, req RunRequest) (string, bool) {
	if !r.Enabled() {
		return ReasonDisabled, false
	}
	if !strings.EqualFold(strings.TrimSpace(r.ExecutionGroup.String()), strings.TrimSpace(req.Group)) {
		return ReasonGroup, false
	}
	ok, err := InVersionRange(req.Params.DBVersion, r.MinDBVersion.String(), r.MaxDBVersion.String())
	if err != nil {
		return fmt.Sprintf("%s: %v", ReasonDBVersion, err), false
	}
	if !ok {
		return ReasonDBVersion, false
	}
	ok, err = InVersionRange(req.Params.CollectionVersion, r.MinSQLScriptVersion.String(), r.MaxSQLScriptVersion.String())
	if err != nil {
		return fmt.Sprintf("%s: %v", ReasonScriptVersion, err), false
	}
	if !ok {
		return ReasonScriptVersion, false
	}
	return "", true
}

// execute dispatches to the handler for the rule's action. A panic inside a
// handler is recorded as a failure.
func (s *Scheduler) execute(ctx context.Context, r *Rule, rc *RunContext) (res Result, record bool) {
	defer func() {
		if p := recover(); p != nil {
			res, record = Result{Status: Failed, Reason: fmt.Sprintf("panic: %v", p)}, true
		}
	}()

	switch a := r.Action.(type) {
	case CreateVariable:
		return s.createVariable(a, rc), true
	case AddOrUpdateColumn:
		return s.addOrUpdateColumn(r.ID, a, rc), true
	case CreateOrReplaceDataframe:
		return s.createOrReplaceDataframe(a, rc), true
	case FreestyleExec:
		return s.freestyle(a, rc), true
	case CreateView:
		return s.createView(ctx, a), true
	case UnsupportedAction:
		typ, act := a.Kind()
		return Result{Status: Unsupported, Reason: fmt.Sprintf("%v: type %q action %q", ErrUnsupported, typ, act)}, true
	}
	return Result{Status: Unsupported, Reason: fmt.Sprintf("%v: %T", ErrUnsupported, r.Action)}, true
}

func (s *Scheduler) createVariable(a CreateVariable, rc *RunContext) Result {
	v, err := variableValue(a)
	if err != nil {
		rc.Vars[a.Varname] = nil
		return Result{Status: Failed, Reason: err.Error()}
	}
	rc.Vars[a.Varname] = v
	return Result{Status: Executed, Value: v}
}

// variableValue converts the raw value by datatype. A DICTIONARY value may be
// a JSON object or a string holding one.
func variableValue(a CreateVariable) (any, error) {
	raw := valueText(a.Value)

	switch strings.ToUpper(strings.TrimSpace(a.Datatype)) {
	case "DICTIONARY":
		var m map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &m); err != nil {
			return nil, fmt.Errorf("variable %s: invalid dictionary: %w", a.Varname, err)
		}
		return m, nil
	case "LIST":
		parts := strings.Split(raw, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case "STRING":
		return raw, nil
	case "NUMBER":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("variable %s: invalid number %q", a.Varname, raw)
		}
		return f, nil
	}
	return nil, fmt.Errorf("variable %s: unknown datatype %q", a.Varname, a.Datatype)
}

// valueText returns a JSON string's content, or the raw JSON text of any
// other value.
func valueText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (s *Scheduler) addOrUpdateColumn(id string, a AddOrUpdateColumn, rc *RunContext) Result {
	env := rc.Env()

	if strings.TrimSpace(a.IfCondition) != "" {
		ok, err := env.Guard(a.IfCondition)
		if err != nil {
			return Result{Status: Skipped, Reason: fmt.Sprintf("condition %q could not be evaluated: %v", a.IfCondition, err)}
		}
		if !ok {
			return Result{Status: Skipped, Reason: fmt.Sprintf("condition %q is false", a.IfCondition)}
		}
	}

	t, ok := rc.Registry.Get(a.DataframeName)
	if !ok {
		return Result{Status: Skipped, Reason: fmt.Sprintf("table %s not found", strings.ToUpper(a.DataframeName))}
	}

	v, err := formula.EvaluateErr(a.Expr, a.IfError, env)
	if err != nil {
		s.logger().Warn("expression evaluated to null", "rule", id, "error", err)
	}
	values, err := formula.AsColumn(v, t.Len())
	if err != nil {
		return Result{Status: Skipped, Reason: fmt.Sprintf("column %s: %v", strings.ToUpper(a.ColumnName), err)}
	}
	if err := t.SetColumn(strings.ToUpper(a.ColumnName), values); err != nil {
		return Result{Status: Skipped, Reason: err.Error()}
	}

	target := a.TargetDataframeName
	if strings.TrimSpace(target) == "" {
		target = a.DataframeName
	}
	return s.publish(t, target, a.Store, rc)
}

func (s *Scheduler) createOrReplaceDataframe(a CreateOrReplaceDataframe, rc *RunContext) Result {
	v, err := formula.EvaluateErr(a.Expr, a.IfError, rc.Env())
	if err != nil || v == nil {
		reason := fmt.Sprintf("expression %q could not be evaluated", strings.TrimSpace(a.Expr))
		if err != nil {
			reason += ": " + err.Error()
		}
		return Result{Status: Skipped, Reason: reason}
	}
	t, ok := v.(*table.Table)
	if !ok {
		return Result{Status: Skipped, Reason: fmt.Sprintf("expression produced a %s, not a table", formula.TypeName(v))}
	}
	return s.publish(t, a.DataframeName, a.Store, rc)
}

func (s *Scheduler) freestyle(a FreestyleExec, rc *RunContext) Result {
	if _, err := formula.ExecuteErr(a.Expr, a.IfError, rc.Env()); err != nil {
		return Result{Status: Skipped, Reason: fmt.Sprintf("statement %q could not be executed: %v", strings.TrimSpace(a.Expr), err)}
	}
	if strings.TrimSpace(a.TargetDataframeName) == "" {
		return Result{Status: Executed}
	}
	t, ok := rc.Registry.Get(a.TargetDataframeName)
	if !ok {
		return Result{Status: Executed, Reason: fmt.Sprintf("table %s not found, nothing written", strings.ToUpper(a.TargetDataframeName))}
	}
	return s.publish(t, a.TargetDataframeName, a.Store, rc)
}

// publish registers t under name and writes it when the store mode asks for
// a file.
func (s *Scheduler) publish(t *table.Table, name, store string, rc *RunContext) Result {
	lower := strings.ToLower(name)
	rc.Registry.Set(name, t)

	path := output.FileName(s.OutputDir, lower, s.CollectionKey)
	written, err := output.Write(t, output.WriteRequest{
		Store:     store,
		Path:      path,
		Sep:       s.Sep,
		TableName: lower,
	}, rc.Schemas)
	if err != nil {
		return Result{Status: Failed, Reason: fmt.Sprintf("writing %s: %v", path, err)}
	}
	if written {
		rc.Files = append(rc.Files, path)
		s.logger().Info("output written", "table", lower, "file", path, "rows", t.Len())
		return Result{Status: Executed, Value: path}
	}
	return Result{Status: Executed}
}

func (s *Scheduler) createView(ctx context.Context, a CreateView) Result {
	if s.Views == nil {
		return Result{Status: Failed, Reason: "no view backend configured"}
	}
	if err := s.Views.CreateView(ctx, s.ProjectID, s.DatasetID, a.TargetObjectName, a.SQL); err != nil {
		return Result{Status: Failed, Reason: err.Error()}
	}
	return Result{Status: Executed, Value: a.TargetObjectName}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
