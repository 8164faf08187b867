package main

import (
	"fmt"
	"io"
	"os"

	"watchcache/internal/version"
)

type command interface {
	Run(args []string) int
}

type commandDeps struct {
	Stdout          io.Writer
	Stderr          io.Writer
	RunServe        func(args []string, out, errOut io.Writer) int
	RunGet          func(args []string, out, errOut io.Writer) int
	RunConfigSchema func(args []string, out, errOut io.Writer) int
}

func defaultCommandDeps() commandDeps {
	return commandDeps{
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		RunServe:        runServe,
		RunGet:          runGet,
		RunConfigSchema: runConfigSchema,
	}
}

type serveCommand struct {
	deps commandDeps
}

func (c serveCommand) Run(args []string) int {
	return c.deps.RunServe(args, c.deps.Stdout, c.deps.Stderr)
}

type getCommand struct {
	deps commandDeps
}

func (c getCommand) Run(args []string) int {
	return c.deps.RunGet(args, c.deps.Stdout, c.deps.Stderr)
}

type configSchemaCommand struct {
	deps commandDeps
}

func (c configSchemaCommand) Run(args []string) int {
	return c.deps.RunConfigSchema(args, c.deps.Stdout, c.deps.Stderr)
}

type versionCommand struct {
	deps commandDeps
}

func (c versionCommand) Run(args []string) int {
	fmt.Fprintln(c.deps.Stdout, version.Current().String())
	return 0
}

type usageCommand struct {
	deps commandDeps
	code int
}

func (c usageCommand) Run(args []string) int {
	printUsage(c.deps.Stderr)
	return c.code
}

type helpCommand struct {
	deps commandDeps
}

func (c helpCommand) Run(args []string) int {
	printUsage(c.deps.Stdout)
	return 0
}

// resolveCommand picks the subcommand; a bare flag list means serve.
func resolveCommand(args []string, deps commandDeps) (command, []string) {
	if len(args) == 0 {
		return serveCommand{deps: deps}, args
	}
	switch args[0] {
	case "serve":
		return serveCommand{deps: deps}, args[1:]
	case "get":
		return getCommand{deps: deps}, args[1:]
	case "version", "-version", "--version":
		return versionCommand{deps: deps}, nil
	case "help", "-h", "--help":
		return helpCommand{deps: deps}, nil
	case "config":
		if len(args) > 1 && args[1] == "schema" {
			return configSchemaCommand{deps: deps}, args[2:]
		}
		return usageCommand{deps: deps, code: 2}, nil
	}
	if len(args[0]) > 0 && args[0][0] == '-' {
		return serveCommand{deps: deps}, args
	}
	return usageCommand{deps: deps, code: 2}, nil
}

func printUsage(out io.Writer) {
	_, _ = io.WriteString(out, `Usage: watchcache <command> [flags]

Commands:
  serve          Watch the configured files and serve them over HTTP (default)
  get NAME       Parse one configured file and print it as JSON
  config schema  Print the JSON schema of the config file (or of one entry with "entry")
  version        Print the build version

Run "watchcache <command> -h" for command flags.
`)
}
