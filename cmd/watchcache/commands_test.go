package main

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"
)

func stubCommandDeps() commandDeps {
	return commandDeps{
		Stdout:          io.Discard,
		Stderr:          io.Discard,
		RunServe:        func(args []string, out, errOut io.Writer) int { return 0 },
		RunGet:          func(args []string, out, errOut io.Writer) int { return 0 },
		RunConfigSchema: func(args []string, out, errOut io.Writer) int { return 0 },
	}
}

func TestResolveCommandServe(t *testing.T) {
	cases := map[string][]string{
		"explicit": {"serve", "-addr", ":9000"},
		"flags":    {"-addr", ":9000"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			deps := stubCommandDeps()
			var gotArgs []string
			deps.RunServe = func(args []string, out, errOut io.Writer) int {
				gotArgs = append([]string(nil), args...)
				return 4
			}
			cmd, cmdArgs := resolveCommand(input, deps)
			if code := cmd.Run(cmdArgs); code != 4 {
				t.Fatalf("expected code 4, got %d", code)
			}
			if !reflect.DeepEqual(gotArgs, []string{"-addr", ":9000"}) {
				t.Fatalf("expected args to be forwarded, got %v", gotArgs)
			}
		})
	}
}

func TestResolveCommandNoArgsServes(t *testing.T) {
	deps := stubCommandDeps()
	called := false
	deps.RunServe = func(args []string, out, errOut io.Writer) int {
		called = true
		return 0
	}
	cmd, cmdArgs := resolveCommand(nil, deps)
	cmd.Run(cmdArgs)
	if !called {
		t.Fatalf("expected serve to run")
	}
}

func TestResolveCommandGet(t *testing.T) {
	deps := stubCommandDeps()
	var gotArgs []string
	deps.RunGet = func(args []string, out, errOut io.Writer) int {
		gotArgs = append([]string(nil), args...)
		return 7
	}

	cmd, cmdArgs := resolveCommand([]string{"get", "-config", "c.toml", "flags.json"}, deps)
	if code := cmd.Run(cmdArgs); code != 7 {
		t.Fatalf("expected code 7, got %d", code)
	}
	if !reflect.DeepEqual(gotArgs, []string{"-config", "c.toml", "flags.json"}) {
		t.Fatalf("expected args to be forwarded, got %v", gotArgs)
	}
}

func TestResolveCommandConfigSchema(t *testing.T) {
	deps := stubCommandDeps()
	var gotOut io.Writer
	deps.Stdout = &bytes.Buffer{}
	deps.RunConfigSchema = func(args []string, out, errOut io.Writer) int {
		gotOut = out
		return 5
	}

	cmd, cmdArgs := resolveCommand([]string{"config", "schema"}, deps)
	if code := cmd.Run(cmdArgs); code != 5 {
		t.Fatalf("expected code 5, got %d", code)
	}
	if gotOut != deps.Stdout {
		t.Fatalf("expected schema command to use provided stdout")
	}
}

func TestResolveCommandUnknownPrintsUsage(t *testing.T) {
	deps := stubCommandDeps()
	errOut := &bytes.Buffer{}
	deps.Stderr = errOut

	for _, input := range [][]string{{"frobnicate"}, {"config"}} {
		cmd, cmdArgs := resolveCommand(input, deps)
		if code := cmd.Run(cmdArgs); code != 2 {
			t.Fatalf("%v: expected code 2, got %d", input, code)
		}
	}
	if !strings.Contains(errOut.String(), "Usage: watchcache") {
		t.Fatalf("expected usage on stderr, got %q", errOut.String())
	}
}

func TestResolveCommandHelp(t *testing.T) {
	deps := stubCommandDeps()
	out := &bytes.Buffer{}
	deps.Stdout = out

	cmd, cmdArgs := resolveCommand([]string{"help"}, deps)
	if code := cmd.Run(cmdArgs); code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "config schema") {
		t.Fatalf("expected command list, got %q", out.String())
	}
}

func TestResolveCommandVersion(t *testing.T) {
	deps := stubCommandDeps()
	out := &bytes.Buffer{}
	deps.Stdout = out

	cmd, cmdArgs := resolveCommand([]string{"version"}, deps)
	if code := cmd.Run(cmdArgs); code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.HasPrefix(out.String(), "watchcache ") {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}
