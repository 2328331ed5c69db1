package main

import (
	"flag"
	"os"
	"testing"
)

// runTestWithFlags is a helper to safely run tests that use the global flag package.
// It backs up and restores os.Args and resets the flag package for each run.
func runTestWithFlags(t *testing.T, args []string, testFunc func()) {
	t.Helper()

	// 1. Backup original os.Args and defer restoration.
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	// 2. Set os.Args for this specific test case.
	// The first element must be the program name.
	os.Args = append([]string{t.Name()}, args...)

	// 3. Reset the flag package to a clean state.
	// This is crucial because the flag package is global.
	flag.CommandLine = flag.NewFlagSet(t.Name(), flag.ContinueOnError)

	// 4. Run the actual test function.
	testFunc()
}

func TestParseFlags(t *testing.T) {
	t.Run("No Flags - Default Action And Config Path", func(t *testing.T) {
		runTestWithFlags(t, []string{}, func() {
			act, flags := parseFlags()
			if act != actionRunSync {
				t.Errorf("expected action to be actionRunSync, but got %v", act)
			}
			if flags.configPath != "strmsync.config.json" {
				t.Errorf("unexpected default config path: %q", flags.configPath)
			}
			if flags.logLevelSet {
				t.Error("log-level should not be marked as set")
			}
			if flags.dryRun || flags.yes {
				t.Error("boolean flags should default to false")
			}
		})
	})

	t.Run("Override Config Path And Log Level", func(t *testing.T) {
		args := []string{"-config=/etc/strmsync.json", "-log-level=debug"}
		runTestWithFlags(t, args, func() {
			_, flags := parseFlags()
			if flags.configPath != "/etc/strmsync.json" {
				t.Errorf("expected config path '/etc/strmsync.json', but got %q", flags.configPath)
			}
			if !flags.logLevelSet || flags.logLevel != "debug" {
				t.Errorf("expected log-level 'debug' to be set, got %q (set=%v)", flags.logLevel, flags.logLevelSet)
			}
		})
	})

	t.Run("Set Action Flags", func(t *testing.T) {
		testCases := []struct {
			name           string
			arg            string
			expectedAction action
		}{
			{"Version Flag", "-version", actionShowVersion},
			{"Init Flag", "-init", actionInitConfig},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				runTestWithFlags(t, []string{tc.arg}, func() {
					act, _ := parseFlags()
					if act != tc.expectedAction {
						t.Errorf("expected action %v, but got %v", tc.expectedAction, act)
					}
				})
			})
		}
	})

	t.Run("Dry Run And Yes", func(t *testing.T) {
		runTestWithFlags(t, []string{"-dry-run", "-yes"}, func() {
			act, flags := parseFlags()
			if act != actionRunSync {
				t.Errorf("expected action to be actionRunSync, but got %v", act)
			}
			if !flags.dryRun {
				t.Error("expected dryRun to be true")
			}
			if !flags.yes {
				t.Error("expected yes to be true")
			}
		})
	})
}
