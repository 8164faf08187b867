package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"watchcache/internal/config"
	"watchcache/internal/schema"
)

func runConfigSchema(args []string, out, errOut io.Writer) int {
	flags := flag.NewFlagSet("watchcache config schema", flag.ContinueOnError)
	flags.SetOutput(errOut)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	name := config.SchemaConfig
	if flags.NArg() > 0 {
		name = flags.Arg(0)
	}

	if err := config.RegisterSchemas(); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	resolved, err := schema.Resolve(name)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resolved); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}
