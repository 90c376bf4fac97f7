// Package metrics exposes Prometheus metrics for the rule engine, the script
// runtime and the audit recorder.
//
// A Collector is attached as an observer:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng.AddObserver(collector)
//	rt, _ := script.NewRuntime(cfg.Scripting.RuntimeOptions(), logger, collector)
//	http.Handle("/metrics", collector.Handler())
//
// Rule ids are used as label values up to MaxRuleLabels distinct ids; later
// ids are reported under the "other" label.
package metrics
