package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/injectctl/internal/instrument"
	"github.com/danmuck/injectctl/internal/testutil/testlog"
)

func TestRunDemoOutput(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := runDemo(ctx, &out); err != nil {
		t.Fatalf("run demo: %v", err)
	}

	want := []string{
		"TEST: 123",
		"TEST2: 654",
		"callback - msg: message bytes: [16 32 48 64]",
	}
	got := out.String()
	for _, line := range want {
		if !strings.Contains(got, line) {
			t.Fatalf("missing %q in output:\n%s", line, got)
		}
	}
	if strings.Index(got, "TEST: 123") > strings.Index(got, "TEST2: 654") {
		t.Fatalf("native call must run during load:\n%s", got)
	}
}

func TestHelloScriptLeavesHookOnUnload(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	exports, err := newExports(&out)
	if err != nil {
		t.Fatalf("exports: %v", err)
	}
	rt := instrument.NewRuntime("hello.go", exports, nil)
	if err := rt.Load(helloScript); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := exports.Interceptor().Attached("test2"); n != 1 {
		t.Fatalf("expected one listener on test2, got %d", n)
	}

	var test2 func(uint32) uint32
	if err := exports.Bind("test2", &test2); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if got := test2(1); got != 654 {
		t.Fatalf("expected hooked argument, got %d", got)
	}

	rt.Unload()
	if got := test2(1); got != 1 {
		t.Fatalf("expected original behaviour after unload, got %d", got)
	}
}
