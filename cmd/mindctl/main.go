package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Vault Mind server URL")
	agent := flag.String("agent", "", "Agent ID")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "status":
		get(*server, "/api/status")
	case "queue":
		get(*server, "/api/queue")
	case "sweep":
		post(*server, "/api/sweep", nil)
	case "event":
		if *agent == "" || len(args) < 2 {
			printError("usage: mindctl -agent <id> event <importance>")
			os.Exit(2)
		}
		importance, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			printError("invalid importance %q: %v", args[1], err)
			os.Exit(2)
		}
		post(*server, "/api/agents/"+*agent+"/events",
			map[string]interface{}{"importance": importance})
	case "metacog":
		if *agent == "" {
			printError("usage: mindctl -agent <id> metacog [reason]")
			os.Exit(2)
		}
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		post(*server, "/api/agents/"+*agent+"/metacognition",
			map[string]string{"reason": reason})
	case "outcome":
		if *agent == "" || len(args) < 2 {
			printError("usage: mindctl -agent <id> outcome <status> [detail]")
			os.Exit(2)
		}
		detail := ""
		if len(args) > 2 {
			detail = args[2]
		}
		post(*server, "/api/agents/"+*agent+"/outcomes",
			map[string]string{"status": args[1], "detail": detail})
	case "insights":
		if *agent == "" {
			printError("usage: mindctl -agent <id> insights")
			os.Exit(2)
		}
		get(*server, "/api/agents/"+*agent+"/insights")
	case "state":
		if *agent == "" {
			printError("usage: mindctl -agent <id> state")
			os.Exit(2)
		}
		get(*server, "/api/agents/"+*agent+"/state")
	case "plan":
		if *agent == "" {
			printError("usage: mindctl -agent <id> plan [date]")
			os.Exit(2)
		}
		path := "/api/agents/" + *agent + "/plan"
		if len(args) > 1 {
			path += "?date=" + args[1]
		}
		get(*server, path)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Vault Mind control CLI")
	fmt.Fprintln(os.Stderr, "usage: mindctl [-server URL] [-agent ID] <command>")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      pipeline overview")
	fmt.Fprintln(os.Stderr, "  queue                       escalation queue state")
	fmt.Fprintln(os.Stderr, "  sweep                       force a trigger sweep")
	fmt.Fprintln(os.Stderr, "  event <importance>          record a memory event")
	fmt.Fprintln(os.Stderr, "  metacog [reason]            request a self-evaluation")
	fmt.Fprintln(os.Stderr, "  outcome <status> [detail]   record a plan outcome")
	fmt.Fprintln(os.Stderr, "  insights                    insight history")
	fmt.Fprintln(os.Stderr, "  state                       accumulator state")
	fmt.Fprintln(os.Stderr, "  plan [date]                 daily plan with audit trail")
}

func get(server, path string) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(server + path)
	if err != nil {
		printError("Request failed: %v", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	render(resp)
}

func post(server, path string, payload interface{}) {
	body := []byte("{}")
	if payload != nil {
		body, _ = json.Marshal(payload)
	}

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+path, "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	render(resp)
}

func render(resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		printError("Failed to read response: %v", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
