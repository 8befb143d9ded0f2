// Package engine runs a complete transformation: ingestion, the reshape
// phase, every configured execution group, and the run report.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/ingest"
	"github.com/opdbt/opdbt/internal/lock"
	"github.com/opdbt/opdbt/internal/output"
	"github.com/opdbt/opdbt/internal/registry"
	"github.com/opdbt/opdbt/internal/report"
	"github.com/opdbt/opdbt/internal/reshape"
	"github.com/opdbt/opdbt/internal/rules"
	"github.com/opdbt/opdbt/internal/schema"
	"github.com/opdbt/opdbt/internal/stage"
	"github.com/opdbt/opdbt/internal/views"
)

// ReshapeGroup is the execution group reshape_for rules must belong to.
const ReshapeGroup = "0"

// ReshapeSuffix is appended to the lower-cased table name of a reshaped table.
const ReshapeSuffix = "_rs"

// Engine is the run orchestrator shared by all commands.
type Engine struct {
	Config *config.Config
	Logger *slog.Logger

	// Views, Store and Stage replace the configured backends when set.
	Views views.Creator
	Store report.Store
	Stage stage.Client
}

// New creates a new Engine with the given config and logger.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Config: cfg, Logger: logger}
}

// RunOptions narrow a run.
type RunOptions struct {
	// Groups replaces the configured execution groups.
	Groups []string
	// Rule runs only this rule in each group.
	Rule string
}

// RunResult is everything a run produced.
type RunResult struct {
	Report     *report.RunReport
	ReportPath string
	Context    *rules.RunContext
}

// Run executes the full pipeline. Only configuration and rule-file problems
// are returned as errors; per-file and per-rule faults land in the report.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	cfg := e.Config
	if cfg.InputDir == "" {
		return nil, fmt.Errorf("input directory is not configured")
	}
	if cfg.RulesFile == "" {
		return nil, fmt.Errorf("rules file is not configured")
	}
	targets, err := cfg.ReshapeTargets()
	if err != nil {
		return nil, err
	}

	lockPath := lock.PathFor(cfg.OutputDir)
	if err := lock.Acquire(lockPath); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(lockPath); err != nil {
			e.Logger.Warn("releasing lock", "path", lockPath, "error", err)
		}
	}()

	rs, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("rules loaded", "file", cfg.RulesFile, "rules", len(rs))

	schemas := schema.Schemas{}
	if cfg.SchemaFile != "" {
		if schemas, err = schema.Load(cfg.SchemaFile); err != nil {
			return nil, err
		}
	}

	files, err := CollectFiles(cfg.InputDir)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	loader := &ingest.Loader{
		Sep:            cfg.Separator,
		SkipLines:      cfg.SkipRows,
		SchemaMode:     schema.ParseMode(cfg.SchemaDetection),
		DoNotImport:    lowerSet(cfg.DoNotImport),
		Consolidate:    cfg.ConsolidateDataframes,
		SkipValidation: cfg.SkipValidation,
		Logger:         e.Logger,
	}
	loaded := loader.LoadAll(files, reg, schemas)
	e.Logger.Info("ingestion complete", "loaded", len(loaded.Loaded), "skipped", len(loaded.Skipped), "invalid", len(loaded.Invalid))

	key := cfg.CollectionKey
	if key == "" && len(loaded.Loaded) > 0 {
		key = ingest.CollectionKey(loaded.Loaded[0])
	}

	rep := report.New(cfg.InputDir, cfg.OutputDir, key)
	rep.Ingest.Loaded = loaded.Loaded
	rep.Ingest.Skipped = loaded.Skipped
	rep.SetInvalid(loaded.Invalid)

	creator, closeViews := e.viewCreator(ctx)
	defer closeViews()

	sched := &rules.Scheduler{
		OutputDir:     cfg.OutputDir,
		Sep:           cfg.Separator,
		CollectionKey: key,
		ProjectID:     cfg.Views.ProjectID,
		DatasetID:     cfg.Views.DatasetID,
		Views:         creator,
		Logger:        e.Logger,
	}
	rc := rules.NewRunContext(reg, schemas)
	params := rules.Params{
		DBVersion:         cfg.Parameters.DBVersion,
		CollectionVersion: cfg.Parameters.CollectionVersion,
	}
	executed := make(map[string]bool)

	for _, target := range targets {
		out := sched.Run(ctx, rules.RunRequest{
			Group:           ReshapeGroup,
			Rules:           rs,
			SingleRule:      target.RuleID,
			Params:          params,
			AlreadyExecuted: executed,
		}, rc)
		rep.AddGroup("reshape:"+target.Table, out)
		markExecuted(executed, out)

		if out.Results[target.RuleID].Status != rules.Executed {
			continue
		}
		if err := e.reshapeTable(target.Table, sched, rc); err != nil {
			e.Logger.Warn("reshape failed", "table", target.Table, "rule", target.RuleID, "error", err)
		}
	}

	groups := cfg.ExecutionGroups
	if len(opts.Groups) > 0 {
		groups = opts.Groups
	}
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.Logger.Info("running execution group", "group", group)
		out := sched.Run(ctx, rules.RunRequest{
			Group:           group,
			Rules:           rs,
			SingleRule:      opts.Rule,
			Params:          params,
			AlreadyExecuted: executed,
		}, rc)
		rep.AddGroup(group, out)
		markExecuted(executed, out)
	}

	if cfg.SchemaFile != "" {
		if err := schemas.Save(cfg.SchemaFile); err != nil {
			e.Logger.Warn("saving schema file", "path", cfg.SchemaFile, "error", err)
		}
	}

	rep.Finish(rc.Files)
	uploader := e.uploader(ctx)
	if uploader != nil && len(rep.OutputFiles) > 0 {
		staged, err := uploader.Stage(ctx, key, rep.OutputFiles)
		if err != nil {
			e.Logger.Warn("staging outputs", "bucket", cfg.Stage.Bucket, "error", err)
		}
		if staged != nil {
			rep.Staged = staged.URIs
			e.Logger.Info("staged outputs", "prefix", uploader.KeyPrefix(key), "files", len(staged.URIs), "replaced", staged.Replaced)
		}
	}

	res := &RunResult{Report: rep, Context: rc, ReportPath: report.FileName(cfg.ReportDir(), rep)}
	if err := report.WriteJSON(rep, res.ReportPath); err != nil {
		e.Logger.Warn("writing run report", "path", res.ReportPath, "error", err)
		res.ReportPath = ""
	}
	if uploader != nil && res.ReportPath != "" && key != "" {
		if _, err := uploader.StageReport(ctx, key, res.ReportPath); err != nil {
			e.Logger.Warn("staging run report", "bucket", cfg.Stage.Bucket, "error", err)
		}
	}
	e.storeReport(ctx, rep)

	e.Logger.Info("run complete", "run", rep.RunID, "outputs", len(rep.OutputFiles), "duration", rep.Duration())
	return res, nil
}

// reshapeTable pivots the named table with the configuration held in the
// variable of the same (raw) name, registers it as <table>_rs and writes it.
func (e *Engine) reshapeTable(name string, sched *rules.Scheduler, rc *rules.RunContext) error {
	t, ok := rc.Registry.GetRaw(name)
	if !ok {
		if t, ok = rc.Registry.Get(name); !ok {
			return fmt.Errorf("table %s is not loaded", name)
		}
	}

	raw, ok := rc.Vars[name]
	if !ok {
		return fmt.Errorf("no reshape configuration variable named %s", name)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("reshape configuration %s is a %T, not a dictionary", name, raw)
	}
	rcfg, err := reshape.ParseConfig(m)
	if err != nil {
		return err
	}

	wide, err := reshape.Reshape(t, rcfg)
	if err != nil {
		return err
	}

	outName := strings.ToLower(name) + ReshapeSuffix
	rc.Registry.Set(outName, wide)

	path := output.FileName(sched.OutputDir, outName, sched.CollectionKey)
	written, err := output.Write(wide, output.WriteRequest{
		Store:     rcfg.Store,
		Path:      path,
		Sep:       sched.Sep,
		TableName: outName,
		Flatten:   true,
		RenameMap: rcfg.Rename,
	}, rc.Schemas)
	if err != nil {
		return err
	}
	if written {
		rc.Files = append(rc.Files, path)
	}
	e.Logger.Info("table reshaped", "table", name, "into", outName, "rows", wide.Len(), "written", written)
	return nil
}

func (e *Engine) viewCreator(ctx context.Context) (views.Creator, func()) {
	if e.Views != nil {
		return e.Views, func() {}
	}
	creator, err := views.New(e.Config.Views.Backend, e.Config.Views.ConnectionString)
	if err != nil {
		e.Logger.Warn("view backend unavailable", "backend", e.Config.Views.Backend, "error", err)
		return nil, func() {}
	}
	if creator == nil {
		return nil, func() {}
	}
	if err := creator.Connect(ctx); err != nil {
		e.Logger.Warn("connecting to view backend", "backend", e.Config.Views.Backend, "error", err)
		return nil, func() {}
	}
	return creator, func() {
		if err := creator.Close(); err != nil {
			e.Logger.Warn("closing view backend", "error", err)
		}
	}
}

// uploader returns the S3 stager, or nil when staging is not configured.
func (e *Engine) uploader(ctx context.Context) *stage.Uploader {
	cfg := e.Config.Stage
	if cfg.Bucket == "" {
		return nil
	}
	client := e.Stage
	if client == nil {
		c, err := stage.NewS3Client(ctx, cfg.Profile, cfg.Region)
		if err != nil {
			e.Logger.Warn("stage unavailable", "bucket", cfg.Bucket, "error", err)
			return nil
		}
		client = c
	}
	return stage.NewUploader(client, cfg.Bucket, cfg.Prefix)
}

func (e *Engine) storeReport(ctx context.Context, rep *report.RunReport) {
	store := e.Store
	if store == nil {
		if e.Config.Report.MongoURI == "" {
			return
		}
		s, err := report.NewMongoStore(ctx, e.Config.Report.MongoURI, e.Config.Report.MongoDatabase)
		if err != nil {
			e.Logger.Warn("report store unavailable", "error", err)
			return
		}
		defer s.Close(ctx)
		store = s
	}
	if err := store.Save(ctx, rep); err != nil {
		e.Logger.Warn("storing run report", "run", rep.RunID, "error", err)
	}
}

// CollectFiles lists the regular files of dir, leaving out run artifacts.
func CollectFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || name == lock.FileName || strings.HasPrefix(name, "opdbt-run-") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func markExecuted(executed map[string]bool, out *rules.Outcome) {
	for _, id := range out.Executed() {
		executed[id] = true
	}
}

func lowerSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return m
}
