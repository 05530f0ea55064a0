package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Exit codes: 0 success, 1 usage error, 3 runtime error.
const (
	exitOK      = 0
	exitUsage   = 1
	exitRuntime = 3
)

// runtimeError marks failures that happened after flag parsing succeeded.
type runtimeError struct{ err error }

func (e runtimeError) Error() string { return e.err.Error() }
func (e runtimeError) Unwrap() error { return e.err }

func main() {
	// A .env next to the caller is the easiest way to carry API keys in
	// development; absence is not an error.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "feather:", err)
		var rt runtimeError
		if errors.As(err, &rt) {
			os.Exit(exitRuntime)
		}
		os.Exit(exitUsage)
	}
	os.Exit(exitOK)
}
