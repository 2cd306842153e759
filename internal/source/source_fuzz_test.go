package source

import (
	"errors"
	"testing"

	"github.com/matt-riley/flagfile/internal/core"
)

func FuzzDecode(f *testing.F) {
	f.Add([]byte(sampleConfig))
	f.Add([]byte("a:\n  enabled: true\n"))
	f.Add([]byte("a: &x\n  enabled: true\nb: *x\n"))
	f.Add([]byte("a:\n  <<: {enabled: true}\n"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		cfg, err := Decode(data)
		if err != nil {
			if cfg != nil {
				t.Fatal("Decode() returned both config and error")
			}
			if !errors.Is(err, core.ErrConfigParse) && !errors.Is(err, core.ErrInvalidConfig) {
				t.Fatalf("Decode() error %v is neither a parse nor a validation error", err)
			}
			return
		}

		encoded, err := Encode(cfg)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		again, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(Encode()) error = %v\n%s", err, encoded)
		}
		if again.Len() != cfg.Len() {
			t.Fatalf("round trip changed flag count: %d then %d", cfg.Len(), again.Len())
		}
	})
}
