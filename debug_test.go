package strata

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

// captureLog routes the package logger into a buffer for the test.
func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { SetLogger(prev) })
	return &buf
}

// ---- Debug mode tests ------------------------------------------------------

func TestDebugMode_DestroyedNodePanics(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	s.SetDebugMode(true)

	parent := NewNode("parent")
	s.Root().AddChild(parent)

	child := NewRect("child", 10, 10, ColorWhite)
	child.Destroy()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on AddChild with destroyed node, got none")
		}
		msg := fmt.Sprint(r)
		if !strings.Contains(msg, "destroyed") {
			t.Errorf("panic message should mention 'destroyed', got: %s", msg)
		}
	}()

	parent.AddChild(child)
}

func TestDebugMode_DestroyedParentPanics(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	s.SetDebugMode(true)

	parent := NewNode("parent")
	s.Root().AddChild(parent)
	child := NewNode("child")
	parent.AddChild(child)
	// Destroy drops the stage link; restore it so the debug checks run.
	parent.Destroy()
	parent.stage = s

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on AddChild to destroyed parent, got none")
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, "destroyed") {
			t.Errorf("panic message should mention 'destroyed', got: %s", msg)
		}
	}()

	parent.AddChild(NewNode("late"))
}

func TestReleaseMode_DestroyedNodeNoPanic(t *testing.T) {
	s, _ := newTestStage(t, testOptions())
	s.SetDebugMode(false)

	child := NewRect("child", 10, 10, ColorWhite)
	child.Destroy()

	defer func() {
		if r := recover(); r != nil {
			if msg := fmt.Sprint(r); strings.Contains(msg, "destroyed") {
				t.Errorf("release mode should not panic on destroyed node, got: %s", msg)
			}
		}
	}()

	s.Root().AddChild(child)
}

func TestDebugMode_TreeDepthWarning(t *testing.T) {
	buf := captureLog(t, slog.LevelWarn)
	s, _ := newTestStage(t, testOptions())
	s.SetDebugMode(true)

	current := s.Root()
	for i := 0; i < debugMaxTreeDepth+5; i++ {
		child := NewNode(fmt.Sprintf("depth_%d", i))
		current.AddChild(child)
		current = child
	}

	if out := buf.String(); !strings.Contains(out, "tree depth over threshold") {
		t.Errorf("expected tree depth warning, got: %q", out)
	}
}

func TestDebugMode_ChildCountWarning(t *testing.T) {
	buf := captureLog(t, slog.LevelWarn)
	s, _ := newTestStage(t, testOptions())
	s.SetDebugMode(true)

	parent := NewNode("many_children")
	s.Root().AddChild(parent)
	for i := 0; i < debugMaxChildCount+1; i++ {
		parent.AddChild(NewNode(fmt.Sprintf("c_%d", i)))
	}

	out := buf.String()
	if !strings.Contains(out, "child count over threshold") || !strings.Contains(out, "many_children") {
		t.Errorf("expected child count warning, got: %q", out)
	}
}

func TestReleaseMode_NoWarnings(t *testing.T) {
	buf := captureLog(t, slog.LevelWarn)
	s, _ := newTestStage(t, testOptions())

	current := s.Root()
	for i := 0; i < debugMaxTreeDepth+5; i++ {
		child := NewNode("n")
		current.AddChild(child)
		current = child
	}
	if buf.Len() != 0 {
		t.Errorf("release mode should not warn, got: %q", buf.String())
	}
}

// ---- Stats -----------------------------------------------------------------

func TestDebugStats_Populated(t *testing.T) {
	s, dev := newTestStage(t, testOptions())
	s.SetDebugMode(true)
	target := newTarget(t, dev, 100, 100)
	s.Root().AddChild(NewRect("a", 10, 10, ColorWhite))
	s.Root().AddChild(NewRect("b", 10, 10, ColorWhite))

	runFrame(s, target)
	st := s.Stats()
	if st.Frame != 1 || !st.Updated || !st.Built {
		t.Errorf("stats = %+v, want frame 1, updated and built", st)
	}
	if st.Quads != 2 {
		t.Errorf("Quads = %d, want 2", st.Quads)
	}
	if st.Operations != 1 || st.DrawCalls != 1 {
		t.Errorf("Operations = %d, DrawCalls = %d, want 1 and 1", st.Operations, st.DrawCalls)
	}

	runFrame(s, target)
	st = s.Stats()
	if st.Updated || st.Built {
		t.Errorf("idle frame should neither update nor build: %+v", st)
	}
	if st.Quads != 2 {
		t.Errorf("reused list Quads = %d, want 2", st.Quads)
	}
}

func TestDebugStats_LoggedAtDebugLevel(t *testing.T) {
	buf := captureLog(t, slog.LevelDebug)
	s, dev := newTestStage(t, testOptions())
	s.SetDebugMode(true)
	runFrame(s, newTarget(t, dev, 10, 10))

	out := buf.String()
	for _, key := range []string{"msg=frame", "draw_calls=", "quads=", "total="} {
		if !strings.Contains(out, key) {
			t.Errorf("frame log missing %q: %q", key, out)
		}
	}
}

func TestCountQuads(t *testing.T) {
	ops := []Operation{
		&QuadOperation{Length: 3},
		&FilterOperation{},
		&QuadOperation{Length: 4},
	}
	if got := countQuads(ops); got != 7 {
		t.Errorf("countQuads = %d, want 7", got)
	}
}

func TestCountQuads_Empty(t *testing.T) {
	if got := countQuads(nil); got != 0 {
		t.Errorf("countQuads(nil) = %d, want 0", got)
	}
}
