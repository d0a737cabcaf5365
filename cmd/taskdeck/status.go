package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// runStatusCommand implements `taskdeck status`: it queries the running
// daemon's /healthz and prints a short report.
func runStatusCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	addr := fs.String("addr", "", "daemon address (default: TASKDECK_BIND_ADDR or 127.0.0.1:18790)")
	asJSON := fs.Bool("json", false, "print the raw /healthz JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target := *addr
	if target == "" {
		target = os.Getenv("TASKDECK_BIND_ADDR")
	}
	if target == "" {
		target = "127.0.0.1:18790"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+target+"/healthz", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon not reachable at %s: %v\n", target, err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: read response: %v\n", err)
		return 1
	}
	if *asJSON {
		fmt.Println(string(body))
		if resp.StatusCode != http.StatusOK {
			return 1
		}
		return 0
	}

	var health struct {
		Status   string `json:"status"`
		Services []struct {
			Service string `json:"service"`
			Health  struct {
				State  string `json:"state"`
				Detail string `json:"detail"`
			} `json:"health"`
		} `json:"services"`
		UptimeSeconds int64  `json:"uptimeSeconds"`
		Config        string `json:"config"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		fmt.Fprintf(os.Stderr, "status: parse response: %v\n", err)
		return 1
	}

	fmt.Printf("daemon:  %s\n", target)
	fmt.Printf("status:  %s\n", colorize(health.Status))
	fmt.Printf("uptime:  %s\n", (time.Duration(health.UptimeSeconds) * time.Second).String())
	if health.Config != "" {
		fmt.Printf("config:  %s\n", health.Config)
	}
	for _, svc := range health.Services {
		line := fmt.Sprintf("service: %-10s %s", svc.Service, svc.Health.State)
		if svc.Health.Detail != "" {
			line += " (" + svc.Health.Detail + ")"
		}
		fmt.Println(line)
	}
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

// colorize marks the health state when stdout is a terminal.
func colorize(state string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return state
	}
	switch state {
	case "healthy":
		return "\033[32m" + state + "\033[0m"
	case "degraded":
		return "\033[33m" + state + "\033[0m"
	default:
		return "\033[31m" + state + "\033[0m"
	}
}
