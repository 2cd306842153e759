package metrics

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	flags    int
	loadedAt time.Time
	ok       bool
}

func (f *fakeSource) SnapshotStats() (int, time.Time, bool) {
	return f.flags, f.loadedAt, f.ok
}

func TestRegisterSnapshotMetrics(t *testing.T) {
	source := &fakeSource{flags: 4, loadedAt: time.Unix(1700000000, 0), ok: true}

	reg := prometheus.NewPedanticRegistry()
	if err := RegisterSnapshotMetrics(reg, source); err != nil {
		t.Fatalf("RegisterSnapshotMetrics() error = %v", err)
	}
	if err := RegisterSnapshotMetrics(reg, source); err == nil {
		t.Fatal("second RegisterSnapshotMetrics() error = nil, want duplicate registration error")
	}

	expected := `
# HELP flagfile_config_flags Number of flags in the active configuration.
# TYPE flagfile_config_flags gauge
flagfile_config_flags 4
# HELP flagfile_config_last_load_timestamp_seconds Unix time the active configuration was loaded.
# TYPE flagfile_config_last_load_timestamp_seconds gauge
flagfile_config_last_load_timestamp_seconds 1.7e+09
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"flagfile_config_flags",
		"flagfile_config_last_load_timestamp_seconds",
	); err != nil {
		t.Fatalf("unexpected metrics output: %v", err)
	}

	source.flags = 7
	expected = `
# HELP flagfile_config_flags Number of flags in the active configuration.
# TYPE flagfile_config_flags gauge
flagfile_config_flags 7
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "flagfile_config_flags"); err != nil {
		t.Fatalf("flags gauge did not follow the source: %v", err)
	}
}

func TestRegisterSnapshotMetricsBeforeLoad(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	if err := RegisterSnapshotMetrics(reg, &fakeSource{}); err != nil {
		t.Fatalf("RegisterSnapshotMetrics() error = %v", err)
	}

	got, err := testutil.GatherAndCount(reg, "flagfile_config_last_load_timestamp_seconds")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected no load timestamp before first load, got %d samples", got)
	}

	expected := `
# HELP flagfile_config_flags Number of flags in the active configuration.
# TYPE flagfile_config_flags gauge
flagfile_config_flags 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "flagfile_config_flags"); err != nil {
		t.Fatalf("unexpected metrics output: %v", err)
	}
}

func TestAttachSnapshotSourceHandsOver(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	older := &fakeSource{flags: 2, ok: true}
	newer := &fakeSource{flags: 5, ok: true}

	detachOlder, err := AttachSnapshotSource(reg, older)
	if err != nil {
		t.Fatalf("AttachSnapshotSource(older) error = %v", err)
	}
	detachNewer, err := AttachSnapshotSource(reg, newer)
	if err != nil {
		t.Fatalf("AttachSnapshotSource(newer) error = %v", err)
	}

	flagsGauge := func(want int) string {
		return "\n# HELP flagfile_config_flags Number of flags in the active configuration.\n" +
			"# TYPE flagfile_config_flags gauge\n" +
			"flagfile_config_flags " + strconv.Itoa(want) + "\n"
	}

	detachOlder()
	if err := testutil.GatherAndCompare(reg, strings.NewReader(flagsGauge(5)), "flagfile_config_flags"); err != nil {
		t.Fatalf("detaching a replaced source changed the gauge: %v", err)
	}

	detachNewer()
	if err := testutil.GatherAndCompare(reg, strings.NewReader(flagsGauge(0)), "flagfile_config_flags"); err != nil {
		t.Fatalf("gauge after detach: %v", err)
	}
}

func TestAttachSnapshotSourceConflict(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagfile_config_flags",
		Help: "Something else entirely.",
	}))

	if _, err := AttachSnapshotSource(reg, &fakeSource{}); err == nil {
		t.Fatal("AttachSnapshotSource() error = nil, want registration conflict")
	}
}
