package main

import (
	"fmt"
	"os"
)

const Version = "0.3.1"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("panewatch v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "serve":
		handleServe(args[1:])
	case "completion":
		handleCompletion(args[1:])
	case "send":
		handleSend(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("panewatch - spoken notifications for tmux pane fleets")
	fmt.Println()
	fmt.Println("Usage: panewatch <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Run the monitoring and notification daemon")
	fmt.Println("  completion   Report a finished unit of work to a running daemon")
	fmt.Println("  send         Deliver input to a pane through a running daemon")
	fmt.Println("  version      Print version")
	fmt.Println("  help         Show this help")
	fmt.Println()
	fmt.Println("Run 'panewatch <command> --help' for command options.")
}
