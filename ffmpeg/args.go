package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitArgs splits a configured argument string without invoking a shell.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// reservedFlags are owned by the pipeline and may not be injected through
// configuration.
var reservedFlags = map[string]bool{
	"-i": true,
	"-y": true,
	"-f": true,
	"-t": true,
	"-ss": true,
}

// SanitizeArgs checks configured extra arguments for injection risks.
func SanitizeArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		if reservedFlags[arg] {
			return fmt.Errorf("argument %s is reserved", arg)
		}
	}
	return nil
}

// ParseHWAccelArgs turns the configured acceleration string into arguments.
// Disabled acceleration yields no arguments.
func ParseHWAccelArgs(enabled bool, s string) ([]string, error) {
	if !enabled || strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := SplitArgs(s)
	if err != nil {
		return nil, err
	}
	if err := SanitizeArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
