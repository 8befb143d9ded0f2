package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opdbt/opdbt/internal/rules"
)

// RunReport is the persisted record of one transformation run.
type RunReport struct {
	Version       string         `json:"version" bson:"version"`
	RunID         string         `json:"run_id" bson:"run_id"`
	StartedAt     time.Time      `json:"started_at" bson:"started_at"`
	FinishedAt    time.Time      `json:"finished_at" bson:"finished_at"`
	InputDir      string         `json:"input_dir" bson:"input_dir"`
	OutputDir     string         `json:"output_dir" bson:"output_dir"`
	CollectionKey string         `json:"collection_key" bson:"collection_key"`
	Ingest        IngestSummary  `json:"ingest" bson:"ingest"`
	Groups        []GroupResult  `json:"groups" bson:"groups"`
	OutputFiles   []string       `json:"output_files" bson:"output_files"`
	Staged        []string       `json:"staged,omitempty" bson:"staged,omitempty"`
	Summary       map[string]int `json:"summary" bson:"summary"`
}

// IngestSummary describes the files considered for loading.
type IngestSummary struct {
	Loaded  []string      `json:"loaded" bson:"loaded"`
	Skipped []string      `json:"skipped,omitempty" bson:"skipped,omitempty"`
	Invalid []InvalidFile `json:"invalid,omitempty" bson:"invalid,omitempty"`
}

// InvalidFile is a file rejected by validation or loading.
type InvalidFile struct {
	File   string `json:"file" bson:"file"`
	Reason string `json:"reason" bson:"reason"`
}

// GroupResult holds the rule results of one scheduler pass.
type GroupResult struct {
	Group   string       `json:"group" bson:"group"`
	Results []RuleResult `json:"results" bson:"results"`
}

// RuleResult is one rule outcome in report form.
type RuleResult struct {
	RuleID string `json:"rule_id" bson:"rule_id"`
	Status string `json:"status" bson:"status"`
	Reason string `json:"reason,omitempty" bson:"reason,omitempty"`
	Value  string `json:"value,omitempty" bson:"value,omitempty"`
}

// New starts a report for a run with a fresh run id.
func New(inputDir, outputDir, collectionKey string) *RunReport {
	return &RunReport{
		Version:       "1",
		RunID:         uuid.NewString(),
		StartedAt:     time.Now(),
		InputDir:      inputDir,
		OutputDir:     outputDir,
		CollectionKey: collectionKey,
		Summary:       make(map[string]int),
	}
}

// SetInvalid records rejected files, sorted by name.
func (r *RunReport) SetInvalid(invalid map[string]string) {
	r.Ingest.Invalid = r.Ingest.Invalid[:0]
	for f, reason := range invalid {
		r.Ingest.Invalid = append(r.Ingest.Invalid, InvalidFile{File: f, Reason: reason})
	}
	sort.Slice(r.Ingest.Invalid, func(i, j int) bool {
		return r.Ingest.Invalid[i].File < r.Ingest.Invalid[j].File
	})
}

// AddGroup appends the outcome of one pass in the order rules were considered.
func (r *RunReport) AddGroup(group string, out *rules.Outcome) {
	g := GroupResult{Group: group}
	for _, id := range out.Order {
		res, ok := out.Results[id]
		if !ok {
			continue
		}
		g.Results = append(g.Results, RuleResult{
			RuleID: id,
			Status: string(res.Status),
			Reason: res.Reason,
			Value:  valueString(res.Value),
		})
		if r.Summary == nil {
			r.Summary = make(map[string]int)
		}
		r.Summary[string(res.Status)]++
	}
	r.Groups = append(r.Groups, g)
}

// Finish stamps the end time and output file list.
func (r *RunReport) Finish(files []string) {
	r.FinishedAt = time.Now()
	r.OutputFiles = append([]string(nil), files...)
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Results returns every rule result across all groups.
func (r *RunReport) Results() []RuleResult {
	var out []RuleResult
	for _, g := range r.Groups {
		out = append(out, g.Results...)
	}
	return out
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// FileName is the report path for r inside dir.
func FileName(dir string, r *RunReport) string {
	return filepath.Join(dir, fmt.Sprintf("opdbt-run-%s-%s.json", r.StartedAt.UTC().Format("20060102T150405"), r.RunID))
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *RunReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &RunReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// Latest returns the path of the newest report in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "opdbt-run-*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no run reports in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// FormatText renders the report as human-readable text.
func FormatText(report *RunReport) string {
	var b strings.Builder

	b.WriteString("=== opdbt Run Report ===\n")
	b.WriteString(fmt.Sprintf("Run:       %s\n", report.RunID))
	b.WriteString(fmt.Sprintf("Started:   %s\n", report.StartedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Duration:  %s\n", report.Duration().Round(time.Millisecond)))
	b.WriteString(fmt.Sprintf("Input:     %s\n", report.InputDir))
	b.WriteString(fmt.Sprintf("Output:    %s\n\n", report.OutputDir))

	b.WriteString(fmt.Sprintf("Files loaded: %d, skipped: %d, invalid: %d\n",
		len(report.Ingest.Loaded), len(report.Ingest.Skipped), len(report.Ingest.Invalid)))
	for _, f := range report.Ingest.Invalid {
		b.WriteString(fmt.Sprintf("  [INVALID] %s: %s\n", filepath.Base(f.File), f.Reason))
	}
	b.WriteString("\n")

	for _, g := range report.Groups {
		b.WriteString(fmt.Sprintf("Group %s:\n", g.Group))
		for _, r := range g.Results {
			line := fmt.Sprintf("  [%s] %s", r.Status, r.RuleID)
			if r.Reason != "" {
				line += " - " + r.Reason
			}
			b.WriteString(line + "\n")
		}
	}
	b.WriteString("\n")

	statuses := make([]string, 0, len(report.Summary))
	for s := range report.Summary {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	b.WriteString("Summary:\n")
	for _, s := range statuses {
		b.WriteString(fmt.Sprintf("  %-12s %d\n", s, report.Summary[s]))
	}

	b.WriteString(fmt.Sprintf("\nOutput files: %d\n", len(report.OutputFiles)))
	for _, f := range report.OutputFiles {
		b.WriteString(fmt.Sprintf("  %s\n", f))
	}
	if len(report.Staged) > 0 {
		b.WriteString(fmt.Sprintf("Staged: %d object(s) under %s\n", len(report.Staged), path.Dir(report.Staged[0])))
	}
	return b.String()
}
