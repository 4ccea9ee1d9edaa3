// Command netpipectl is a small CLI that talks to a running netpipefsd's
// health/control HTTP endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	var addr string
	var cmd string
	flag.StringVar(&addr, "addr", "http://localhost:8091", "Base URL of the netpipefsd health endpoint")
	flag.StringVar(&cmd, "cmd", "pipes", "Command to run: pipes, health, ready")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	var path string
	switch cmd {
	case "pipes":
		path = "/pipes"
	case "health":
		path = "/healthz"
	case "ready":
		path = "/readyz"
	default:
		log.Fatalf("unknown command %q (want pipes, health, or ready)", cmd)
	}

	resp, err := client.Get(addr + path)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("reading response: %v", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		os.Exit(0)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(pretty)

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
