package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enamentis/modulo/internal/logging"
)

// Exit codes, fixed by the process-level contract: 0 success, 1 user
// error, 2 connectivity failure, 3 protocol failure, 130 user interrupt.
const (
	exitSuccess         = 0
	exitUserError       = 1
	exitConnectivity    = 2
	exitProtocolFailure = 3
	exitInterrupted     = 130
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		if code != exitInterrupted {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modulo",
	Short: "modulo - hybrid storage database and inter-process messaging framework",
	Long: `modulo bundles a hybrid storage database (HSDB) with a unit messaging
framework: cooperating worker processes discover each other, exchange
typed control messages over a pub/sub bus, and stream binary payloads
over length-framed TCP sessions.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-root", "./modulo-data", "Root directory for the hsdb tree and unit registry")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(operationsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{
		Level:      logging.Level(level),
		JSONOutput: jsonOutput,
	})
}

// exitCodeFor maps a returned error to the process-level exit code
// contract. Commands that need a specific non-1 code (connectivity,
// protocol, interrupt) set it explicitly via *exitCodeError before
// returning; anything else is a generic user error.
func exitCodeFor(err error) int {
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitUserError
}

// exitCodeError carries an explicit process exit code alongside the
// wrapped error, so RunE can return a normal error value while still
// steering main's os.Exit call.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}
