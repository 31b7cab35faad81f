package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/NodePath81/latprobe/internal/version"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"wake", "Measure absolute-sleep overshoot and thread handoff", runWake},
	{"jitter", "Run one audio callback jitter session", runJitter},
	{"calibrate", "Time the spin-load unit on this CPU", runCalibrate},
	{"sweep", "Run the full load sweep and optionally upload the report", runSweep},
	{"best", "Search for the sample rate and buffer size with least jitter", runBest},
	{"serve", "Start the results server", runServe},
	{"check", "Validate a config file", runCheck},
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "help", "-h", "--help":
		printHelp()
		return
	case "version", "-v", "--version":
		fmt.Println(version.Version)
		return
	}
	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		if err := c.run(os.Args[2:]); err != nil {
			if err == flag.ErrHelp {
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "latprobe: unknown command %q\n\n", os.Args[1])
	printHelp()
	os.Exit(1)
}

func printHelp() {
	fmt.Print(`latprobe - scheduling latency and audio callback jitter probes

Usage:
  latprobe <command> [flags]

Commands:
`)
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.usage)
	}
	fmt.Print(`  version    Print version
  help       Show this help

Every command accepts --config <path> (YAML); flags override the file.
Run 'latprobe <command> --help' for its flags.
`)
}
