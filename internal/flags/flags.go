package flags

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FlagsT holds every tunable of the runtime core. Boolean trace flags are
// cheap to read on hot paths; the settings file may flip them while the
// process runs.
type FlagsT struct {
	InlineCache                     bool   `json:"inline_cache"`
	TraceIC                         bool   `json:"trace_ic"`
	TraceICMissInOptimized          bool   `json:"trace_ic_miss_in_optimized"`
	TraceOptimizedICCalls           bool   `json:"trace_optimized_ic_calls"`
	TracePatching                   bool   `json:"trace_patching"`
	TraceRuntimeCalls               bool   `json:"trace_runtime_calls"`
	TraceTypeChecks                 bool   `json:"trace_type_checks"`
	TraceDeoptimization             bool   `json:"trace_deoptimization"`
	TraceDeoptimizationVerbose      bool   `json:"trace_deoptimization_verbose"`
	TraceFailedOptimizationAttempts bool   `json:"trace_failed_optimization_attempts"`
	DeoptimizeAlot                  bool   `json:"deoptimize_alot"`
	EnableTypeChecks                bool   `json:"enable_type_checks"`
	ReportUsageCount                bool   `json:"report_usage_count"`
	OptimizationCounterThreshold    int    `json:"optimization_counter_threshold"`
	ReoptimizationCounterThreshold  int    `json:"reoptimization_counter_threshold"`
	DeoptimizationCounterThreshold  int    `json:"deoptimization_counter_threshold"`
	MaxSubtypeCacheEntries          int    `json:"max_subtype_cache_entries"`
	OptimizationFilter              string `json:"optimization_filter"`
}

// Defaults returns the flag values the VM boots with.
func Defaults() FlagsT {
	return FlagsT{
		InlineCache:                    true,
		EnableTypeChecks:               true,
		OptimizationCounterThreshold:   2000,
		ReoptimizationCounterThreshold: 2000,
		DeoptimizationCounterThreshold: 5,
		MaxSubtypeCacheEntries:         100,
	}
}

var Current = Defaults()

// Register binds every flag to a FlagSet so the CLI can override the
// defaults before any isolate starts.
func Register(fs *flag.FlagSet) {
	fs.BoolVar(&Current.InlineCache, "inline_cache", Current.InlineCache, "Enable inline caches")
	fs.BoolVar(&Current.TraceIC, "trace_ic", Current.TraceIC, "Trace IC handling")
	fs.BoolVar(&Current.TraceICMissInOptimized, "trace_ic_miss_in_optimized", Current.TraceICMissInOptimized, "Trace IC miss in optimized code")
	fs.BoolVar(&Current.TraceOptimizedICCalls, "trace_optimized_ic_calls", Current.TraceOptimizedICCalls, "Trace IC calls in optimized code")
	fs.BoolVar(&Current.TracePatching, "trace_patching", Current.TracePatching, "Trace patching of code")
	fs.BoolVar(&Current.TraceRuntimeCalls, "trace_runtime_calls", Current.TraceRuntimeCalls, "Trace runtime calls")
	fs.BoolVar(&Current.TraceTypeChecks, "trace_type_checks", Current.TraceTypeChecks, "Trace type check entries")
	fs.BoolVar(&Current.TraceDeoptimization, "trace_deoptimization", Current.TraceDeoptimization, "Trace deoptimization")
	fs.BoolVar(&Current.TraceDeoptimizationVerbose, "trace_deoptimization_verbose", Current.TraceDeoptimizationVerbose, "Trace deoptimization verbose")
	fs.BoolVar(&Current.TraceFailedOptimizationAttempts, "trace_failed_optimization_attempts", Current.TraceFailedOptimizationAttempts, "Trace all failed optimization attempts")
	fs.BoolVar(&Current.DeoptimizeAlot, "deoptimize_alot", Current.DeoptimizeAlot, "Deoptimize all live frames when returning to managed code from native entries")
	fs.BoolVar(&Current.EnableTypeChecks, "enable_type_checks", Current.EnableTypeChecks, "Enable checked-mode type checks")
	fs.BoolVar(&Current.ReportUsageCount, "report_usage_count", Current.ReportUsageCount, "Report function usage counters")
	fs.IntVar(&Current.OptimizationCounterThreshold, "optimization_counter_threshold", Current.OptimizationCounterThreshold, "Usage-counter value before a function is optimized, -1 means never")
	fs.IntVar(&Current.ReoptimizationCounterThreshold, "reoptimization_counter_threshold", Current.ReoptimizationCounterThreshold, "Counter threshold before a function gets reoptimized")
	fs.IntVar(&Current.DeoptimizationCounterThreshold, "deoptimization_counter_threshold", Current.DeoptimizationCounterThreshold, "Deoptimizations before a function is no longer optimized")
	fs.IntVar(&Current.MaxSubtypeCacheEntries, "max_subtype_cache_entries", Current.MaxSubtypeCacheEntries, "Maximum number of subtype cache entries per test site")
	fs.StringVar(&Current.OptimizationFilter, "optimization_filter", Current.OptimizationFilter, "Optimize only functions whose qualified name contains this substring")
}

// LoadFile overlays settings from a JSON file onto Current. Missing keys
// keep their present values.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &Current)
}

// Watch re-reads the settings file whenever it changes on disk, so trace
// flags can be flipped on a live process. The returned stop function closes
// the watcher.
func Watch(path string, onReload func(error)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				// Editors fire several events per save; settle first.
				time.Sleep(10 * time.Millisecond)
			drain:
				for {
					select {
					case <-w.Events:
					default:
						break drain
					}
				}
				err := LoadFile(path)
				if onReload != nil {
					onReload(err)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() { w.Close() }, nil
}
