package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// format selects how structured command output is rendered.
type format string

const (
	formatYAML format = "yaml"
	formatJSON format = "json"
)

// currentFormat is set by the root command's --output flag.
var currentFormat = formatYAML

// setOutputFormat sets the global output format.
func setOutputFormat(f string) {
	switch f {
	case "json":
		currentFormat = formatJSON
	default:
		currentFormat = formatYAML
	}
}

// output writes data to stdout in the configured format.
func output(data any) error {
	return outputTo(os.Stdout, currentFormat, data)
}

// outputTo writes data to the given writer in the specified format.
func outputTo(w io.Writer, f format, data any) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", f)
	}
}
