package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Rule status values.
const (
	StatusEnabled  = "ENABLED"
	StatusDisabled = "DISABLED"
)

// Rule is one entry of the rule-definition file. The ID is the JSON key.
type Rule struct {
	ID                  string     `json:"-"`
	Priority            flexInt    `json:"priority"`
	Status              string     `json:"status"`
	ExecutionGroup      flexString `json:"execution_group"`
	MinDBVersion        flexString `json:"mindbversion"`
	MaxDBVersion        flexString `json:"maxdbversion"`
	MinSQLScriptVersion flexString `json:"minsqlscriptversion"`
	MaxSQLScriptVersion flexString `json:"maxsqlscriptversion"`
	RawAction           rawAction  `json:"action_details"`

	// Action is resolved from RawAction when the rule set is decoded.
	Action Action `json:"-"`
}

// Enabled reports whether the rule's status is ENABLED, ignoring case.
func (r *Rule) Enabled() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), StatusEnabled)
}

// RuleSet maps rule ids to rules.
type RuleSet map[string]*Rule

// UnmarshalJSON decodes the id-keyed rule object and resolves each rule's
// action variant.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	raw := map[string]*Rule{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(RuleSet, len(raw))
	for id, r := range raw {
		if r == nil {
			return fmt.Errorf("rule %q: empty definition", id)
		}
		r.ID = id
		r.Action = r.RawAction.resolve()
		out[id] = r
	}
	*rs = out
	return nil
}

// Action is the closed set of rule actions, selected by (type, action).
type Action interface {
	// Kind returns the upper-cased (type, action) pair.
	Kind() (string, string)
}

// CreateVariable binds a typed value to a variable name.
type CreateVariable struct {
	Datatype string
	Value    json.RawMessage
	Varname  string
}

// AddOrUpdateColumn computes a column on an existing table.
type AddOrUpdateColumn struct {
	Type                string
	DataframeName       string
	ColumnName          string
	TargetDataframeName string
	IfCondition         string
	Expr                string
	IfError             string
	Store               string
}

// CreateOrReplaceDataframe registers the table a formula evaluates to.
type CreateOrReplaceDataframe struct {
	DataframeName string
	Expr          string
	IfError       string
	Store         string
}

// FreestyleExec runs a formula statement for its side effects.
type FreestyleExec struct {
	Expr                string
	IfError             string
	TargetDataframeName string
	Store               string
}

// CreateView forwards SQL to the view backend.
type CreateView struct {
	TargetObjectName string
	SQL              string
}

// UnsupportedAction carries an unrecognized (type, action) pair.
type UnsupportedAction struct {
	Type   string
	Action string
}

func (CreateVariable) Kind() (string, string) { return "VARIABLE", "CREATE" }
func (a AddOrUpdateColumn) Kind() (string, string) {
	return strings.ToUpper(a.Type), "ADD_OR_UPDATE_COLUMN"
}
func (CreateOrReplaceDataframe) Kind() (string, string) {
	return "FREESTYLE", "CREATE_OR_REPLACE_DATAFRAME"
}
func (FreestyleExec) Kind() (string, string) { return "FREESTYLE", "FREESTYLE" }
func (CreateView) Kind() (string, string)    { return "CREATE VIEW", "EXECUTE_SQL" }
func (u UnsupportedAction) Kind() (string, string) {
	return strings.ToUpper(u.Type), strings.ToUpper(u.Action)
}

// rawAction is the flat JSON shape of action_details.
type rawAction struct {
	Type                string          `json:"type"`
	Action              string          `json:"action"`
	Datatype            string          `json:"datatype"`
	Value               json.RawMessage `json:"value"`
	Varname             string          `json:"varname"`
	DataframeName       string          `json:"dataframe_name"`
	ColumnName          string          `json:"column_name"`
	TargetDataframeName string          `json:"target_dataframe_name"`
	TargetObjectName    string          `json:"target_object_name"`
	IfCondition         text            `json:"ifcondition1"`
	Expr                text            `json:"expr1"`
	IfError             text            `json:"iferror"`
	Store               string          `json:"store"`
}

func (a rawAction) resolve() Action {
	typ := strings.ToUpper(strings.TrimSpace(a.Type))
	act := strings.ToUpper(strings.TrimSpace(a.Action))

	switch {
	case typ == "VARIABLE" && act == "CREATE":
		return CreateVariable{Datatype: a.Datatype, Value: a.Value, Varname: a.Varname}
	case (typ == "NUMBER" || typ == "FREESTYLE") && act == "ADD_OR_UPDATE_COLUMN":
		return AddOrUpdateColumn{
			Type:                typ,
			DataframeName:       a.DataframeName,
			ColumnName:          a.ColumnName,
			TargetDataframeName: a.TargetDataframeName,
			IfCondition:         string(a.IfCondition),
			Expr:                string(a.Expr),
			IfError:             string(a.IfError),
			Store:               a.Store,
		}
	case typ == "FREESTYLE" && act == "CREATE_OR_REPLACE_DATAFRAME":
		return CreateOrReplaceDataframe{
			DataframeName: a.DataframeName,
			Expr:          string(a.Expr),
			IfError:       string(a.IfError),
			Store:         a.Store,
		}
	case typ == "FREESTYLE" && act == "FREESTYLE":
		return FreestyleExec{
			Expr:                string(a.Expr),
			IfError:             string(a.IfError),
			TargetDataframeName: a.TargetDataframeName,
			Store:               a.Store,
		}
	case typ == "CREATE VIEW" && act == "EXECUTE_SQL":
		return CreateView{TargetObjectName: a.TargetObjectName, SQL: string(a.Expr)}
	}
	return UnsupportedAction{Type: a.Type, Action: a.Action}
}

// text accepts a string, a list of strings (concatenated) or null.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*t = text(strings.Join(parts, ""))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = text(s)
	return nil
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexInt accepts a JSON integer or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if strings.TrimSpace(string(s)) == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil {
		return fmt.Errorf("priority must be an integer: %w", err)
	}
	*f = flexInt(n)
	return nil
}
