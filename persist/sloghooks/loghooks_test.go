package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestHooksWriteEvents(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := New(l, Options{DropEvery: 2})

	h.SelfHeal("snap:tcms", "corrupt")
	h.RecordDropped("TestPlan:1", "gen_mismatch") // sampled out
	h.RecordDropped("TestPlan:2", "gen_mismatch")
	h.GenBumpError("TestPlan:3", errors.New("down"))

	out := buf.String()
	for _, want := range []string{"tcms.persist.self_heal", "TestPlan:2", "tcms.persist.gen_bump_error"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}
	if strings.Contains(out, "TestPlan:1") {
		t.Fatalf("sampling did not skip first drop: %s", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.SelfHeal("k", "corrupt")
	h.RecordDropped("k", "value_decode")
	h.ProviderSetRejected("k")
	h.GenSnapshotError(1, errors.New("x"))
}
