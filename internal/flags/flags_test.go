package flags

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if !d.InlineCache {
		t.Error("inline_cache defaults to true")
	}
	if !d.EnableTypeChecks {
		t.Error("enable_type_checks defaults to true")
	}
	if d.OptimizationCounterThreshold != 2000 || d.ReoptimizationCounterThreshold != 2000 {
		t.Error("optimization thresholds default to 2000")
	}
	if d.MaxSubtypeCacheEntries != 100 {
		t.Error("max_subtype_cache_entries defaults to 100")
	}
	if d.DeoptimizationCounterThreshold != 5 {
		t.Error("deoptimization_counter_threshold defaults to 5")
	}
	if d.TraceIC || d.TraceDeoptimization || d.DeoptimizeAlot {
		t.Error("trace flags default to false")
	}
	if d.OptimizationFilter != "" {
		t.Error("optimization_filter defaults to empty")
	}
}

func TestRegisterAndParse(t *testing.T) {
	saved := Current
	defer func() { Current = saved }()
	Current = Defaults()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	Register(fs)
	err := fs.Parse([]string{
		"-trace_ic",
		"-optimization_counter_threshold=-1",
		"-optimization_filter=hot",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !Current.TraceIC {
		t.Error("trace_ic not parsed")
	}
	if Current.OptimizationCounterThreshold != -1 {
		t.Error("threshold not parsed")
	}
	if Current.OptimizationFilter != "hot" {
		t.Error("filter not parsed")
	}
}

func TestLoadFileOverlays(t *testing.T) {
	saved := Current
	defer func() { Current = saved }()
	Current = Defaults()

	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{"trace_deoptimization": true, "max_subtype_cache_entries": 7}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(path); err != nil {
		t.Fatal(err)
	}
	if !Current.TraceDeoptimization {
		t.Error("overlay did not apply")
	}
	if Current.MaxSubtypeCacheEntries != 7 {
		t.Error("overlay did not apply int field")
	}
	if !Current.InlineCache {
		t.Error("missing keys must keep their values")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
