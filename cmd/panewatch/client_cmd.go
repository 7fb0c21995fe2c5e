package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/asheshgoplani/panewatch/internal/notify"
)

// handleCompletion reports a finished unit of work to a running daemon.
// Intended to be called from agent hooks:
//
//	some-agent ... && panewatch completion work 0 --instruction "run tests"
//
// Pane output may be piped on stdin; when absent the daemon captures the
// pane itself.
func handleCompletion(args []string) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8620", "Daemon address")
	token := fs.String("token", "", "Bearer token")
	instruction := fs.String("instruction", "", "Task instruction for summary context")
	role := fs.String("role", "", "Role hint, bypasses pane role resolution")
	requestID := fs.String("request-id", "", "Correlation id echoed in the response")
	stdin := fs.Bool("stdin", false, "Read pane output from stdin")

	fs.Usage = func() {
		fmt.Println("Usage: panewatch completion <session> <pane> [options]")
		fmt.Println()
		fmt.Println("Report a finished unit of work to a running daemon.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	sig := notify.CompletionSignal{
		Session:     fs.Arg(0),
		Pane:        fs.Arg(1),
		Instruction: *instruction,
		RoleHint:    *role,
		RequestID:   *requestID,
	}
	if *stdin {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read stdin: %v\n", err)
			os.Exit(1)
		}
		sig.RawOutput = string(raw)
	}

	var res notify.EnqueueResult
	if err := postJSON(*addr, *token, "/api/completion", sig, &res); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", res.Status)
}

// handleSend delivers input to a pane through a running daemon.
func handleSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8620", "Daemon address")
	token := fs.String("token", "", "Bearer token")

	fs.Usage = func() {
		fmt.Println("Usage: panewatch send <session> <pane> <text> [options]")
		fmt.Println()
		fmt.Println("Deliver input to a pane through a running daemon.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 3 {
		fs.Usage()
		os.Exit(1)
	}

	req := map[string]string{
		"session": fs.Arg(0),
		"pane":    fs.Arg(1),
		"text":    fs.Arg(2),
	}
	var res notify.SendResult
	if err := postJSON(*addr, *token, "/api/send", req, &res); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !res.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", res.Message)
		os.Exit(1)
	}
	fmt.Println("sent")
}

func postJSON(addr, token, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running on %s? %w", addr, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}
