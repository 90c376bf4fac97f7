package main

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/A-new/ironbee/pkg/config"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/script"
)

// instrumentation is what serve attaches to the rule manager.
type instrumentation struct {
	observers      []engine.Observer
	scriptObserver script.Observer
	tracer         trace.Tracer
}

// newManager creates a rule manager for cfg. files replaces rules.files
// when non-empty. The manager is not loaded.
func newManager(cfg *config.Config, files []string, logger *slog.Logger, inst instrumentation) (*manager.Manager, error) {
	opts := manager.Options{
		Files:           cfg.Rules.Files,
		Engine:          cfg.Engine.EngineOptions(),
		SealOnLoad:      cfg.Engine.SealOnLoad,
		ContinueOnError: cfg.Rules.ContinueOnError,
		Observers:       inst.observers,
		ScriptObserver:  inst.scriptObserver,
		Tracer:          inst.tracer,
	}
	if len(files) > 0 {
		opts.Files = files
	}
	if cfg.Scripting.Enabled {
		rc := cfg.Scripting.RuntimeOptions()
		opts.Script = &rc
	}
	return manager.NewManager(opts, logger)
}
