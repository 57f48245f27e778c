// command-guard is a pre-execution hook. It reads {"tool_input":{"command":"..."}} on
// stdin and exits 0 to allow the command or 2 to block it, explaining why on stderr.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"gatehouse/internal/guard"
	"gatehouse/pkg/logger"
)

const (
	exitAllow = 0
	exitError = 1
	exitBlock = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

func run(args []string, stdin io.Reader, stderr io.Writer) int {
	var rulesPath string
	var failClosed, verbose bool

	flagSet := pflag.NewFlagSet("command-guard", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&rulesPath, "rules", "", "YAML rule file (default: built-in rules)")
	flagSet.BoolVar(&failClosed, "fail-closed", false, "block when the command cannot be read from stdin")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log decisions to stderr (stdout stays untouched)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitAllow
		}
		fmt.Fprintf(stderr, "command-guard: %v\n", err)
		return exitError
	}

	log := logger.Nop()
	if verbose {
		log = logger.New("dev")
	}

	var opts []guard.Option
	if failClosed {
		opts = append(opts, guard.WithFailClosed())
	}
	g, err := build(rulesPath, opts)
	if err != nil {
		fmt.Fprintf(stderr, "command-guard: %v\n", err)
		if failClosed {
			return exitBlock
		}
		return exitError
	}

	v := g.EvaluateEnvelope(stdin)
	log.Infow("guard decision", "decision", v.Decision.String(), "rule", v.Rule)
	if !v.Blocked() {
		return exitAllow
	}
	fmt.Fprintf(stderr, "Blocked by command-guard (%s): %s\n", v.Rule, v.Reason)
	if v.Suggestion != "" {
		fmt.Fprintf(stderr, "Instead: %s\n", v.Suggestion)
	}
	return exitBlock
}

func build(rulesPath string, opts []guard.Option) (*guard.Guard, error) {
	if rulesPath == "" {
		return guard.Default(opts...)
	}
	rules, err := guard.LoadRulesFile(rulesPath)
	if err != nil {
		return nil, err
	}
	return guard.New(rules, opts...)
}
