package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("serial: dropped %d lines", 3)
	if len(got) != 1 || got[0] != "serial: dropped 3 lines" {
		t.Fatalf("custom logger saw %q", got)
	}

	SetLogger(nil)
	Logf("muted")
	if len(got) != 1 {
		t.Errorf("nil logger should mute, saw %q", got)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should default to log.Printf")
	}
}
