// blinkscan - blink-triggered switch-scanning keyboard
//
// A face tracker streams eye landmarks; every deliberate blink commits the
// highlighted row, key or word suggestion.
//
//	blinkscan run              Run the daemon (WebSocket feed, HTTP API, D-Bus)
//	blinkscan replay <file>    Feed recorded frames through a fresh pipeline
//	blinkscan config <action>  Show, validate or create the configuration
//	blinkscan history          List recent typing sessions
//	blinkscan vocab <action>   Check, export or extend vocabularies
package main

import (
	"fmt"
	"os"
	"time"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = ""
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = cmdRun(args)
	case "replay":
		err = cmdReplay(args)
	case "config":
		err = cmdConfig(args)
	case "history":
		err = cmdHistory(args)
	case "vocab":
		err = cmdVocab(args)
	case "version":
		cmdVersion()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`blinkscan - Blink-triggered switch-scanning keyboard

USAGE:
    blinkscan <command> [options]

COMMANDS:
    run                     Run the scanning daemon
    replay <file>           Replay recorded landmark frames (JSON lines)
    config show             Print the effective configuration
    config validate         Validate the configuration file
    config init             Write a default configuration file
    history                 List recent typing sessions
    vocab check <file>      Validate a custom vocabulary file
    vocab export <file>     Write the built-in plus learned vocabulary
    vocab phrase <file> <phrase>
                            Add a phrase to a custom vocabulary file
    version                 Show version information
    help                    Show this help message

COMMON OPTIONS:
    -config <path>          Configuration file (default: platform config dir)

SCANNING:
    Rows are highlighted in turn. Blink once to pick the row, again to pick
    the key. After each commit scanning pauses for 3 seconds. When the word
    being typed has suggestions they are scanned before the keyboard.

ENVIRONMENT:
    BLINKSCAN_DATA_DIR      Data directory override
    BLINKSCAN_*             Per-setting overrides, also read from .env files`)
}

func cmdVersion() {
	fmt.Printf("blinkscan %s\n", version)
	if buildTime != "" {
		if t, err := time.Parse(time.RFC3339, buildTime); err == nil {
			fmt.Printf("built %s\n", t.Format("2006-01-02 15:04"))
		}
	}
}
