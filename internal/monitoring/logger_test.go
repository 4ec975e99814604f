package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("[pipeline] %s: %d points", "run_80_P1.txt", 42)

	if got != "[pipeline] run_80_P1.txt: 42 points" {
		t.Errorf("custom logger received %q", got)
	}

	// A nil logger must be a safe no-op.
	SetLogger(nil)
	Logf("dropped %d", 1)
}

func TestMute(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	restore := Mute()
	Logf("muted")
	if calls != 0 {
		t.Errorf("muted logger was called %d times", calls)
	}

	restore()
	Logf("restored")
	if calls != 1 {
		t.Errorf("restored logger calls = %d, want 1", calls)
	}
}
