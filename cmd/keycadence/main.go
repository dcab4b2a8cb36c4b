// keycadence scores keystroke timing traces and calibrates the scorer.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"keycadence/internal/config"
	"keycadence/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to config file")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "score":
		err = cmdScore(args)
	case "gen":
		err = cmdGen(args)
	case "validate":
		err = cmdValidate(args)
	case "profiles":
		err = cmdProfiles()
	case "calibrate":
		err = cmdCalibrate(args)
	case "runs":
		err = cmdRuns(args)
	case "serve":
		err = cmdServe(args)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keycadence - keystroke timing humanity scorer

Usage: keycadence [options] <command> [args]

Commands:
  score <trace>      Score a recorded JSON or YAML trace
  gen                Generate a synthetic trace (-profile, -count, -seed, -o)
  validate <trace>   Check a trace against the trace schema
  profiles           List synthetic typist profiles
  calibrate          Score profiles across KS coefficients and store the run
  runs               List stored calibration runs
  serve              Export metrics while scoring simulated sessions
  help               Show this help message

Options:
  -config <path>     Path to config file (default: search the platform config dir)
  -v                 Debug logging`)
}

// loadConfig reads the config file and installs the configured logger as
// the default.
func loadConfig() (*config.Config, string, error) {
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	log, err := cfg.Logger("keycadence")
	if err != nil {
		return nil, "", err
	}
	logging.SetDefault(log)
	return cfg, path, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
