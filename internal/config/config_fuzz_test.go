package config

import (
	"strings"
	"testing"
	"time"
)

func FuzzLoadReloadDebounce(f *testing.F) {
	f.Add("")
	f.Add("1s")
	f.Add("0s")
	f.Add("-1s")
	f.Add("not-a-duration")

	f.Fuzz(func(t *testing.T, debounce string) {
		if strings.ContainsRune(debounce, '\x00') {
			t.Skip()
		}

		clearEnv(t)
		t.Setenv("FLAGFILE_RELOAD_DEBOUNCE", debounce)

		cfg, err := Load()
		if debounce == "" {
			if err != nil {
				t.Fatalf("Load() error = %v, want nil for empty FLAGFILE_RELOAD_DEBOUNCE", err)
			}
			if cfg.ReloadDebounce != defaultReloadDebounce {
				t.Fatalf("ReloadDebounce = %s, want %s", cfg.ReloadDebounce, defaultReloadDebounce)
			}
			return
		}

		parsed, parseErr := time.ParseDuration(debounce)
		if parseErr != nil || parsed <= 0 {
			if err == nil {
				t.Fatalf("Load() error = nil, want non-nil for FLAGFILE_RELOAD_DEBOUNCE=%q", debounce)
			}
			return
		}

		if err != nil {
			t.Fatalf("Load() error = %v, want nil for FLAGFILE_RELOAD_DEBOUNCE=%q", err, debounce)
		}
		if cfg.ReloadDebounce != parsed {
			t.Fatalf("ReloadDebounce = %s, want %s", cfg.ReloadDebounce, parsed)
		}
	})
}
