// replay_requests.go replays recorded learning requests, one JSON object per
// line, against a running steward over HTTP or NATS.
//
// Usage:
//
//	go run scripts/replay_requests.go -file requests.jsonl -api http://localhost:8700
//	go run scripts/replay_requests.go -file requests.jsonl -nats nats://localhost:4222
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/Steward/internal/hermes"
)

type request struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
}

func main() {
	path := flag.String("file", "requests.jsonl", "JSONL file of learning requests")
	apiURL := flag.String("api", "http://localhost:8700", "steward API base URL")
	natsURL := flag.String("nats", "", "publish to NATS instead of calling the API")
	caller := flag.String("caller", "replay", "X-Caller-ID header value")
	dryRun := flag.Bool("dry-run", false, "print requests without sending")
	flag.Parse()

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open %s: %v", *path, err)
	}
	defer f.Close()

	var nc *nats.Conn
	if *natsURL != "" && !*dryRun {
		nc, err = nats.Connect(*natsURL, nats.Name("steward-replay"))
		if err != nil {
			log.Fatalf("connect nats: %v", err)
		}
		defer nc.Drain()
	}

	client := &http.Client{}
	sent, skipped := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0

	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || bytes.HasPrefix(raw, []byte("#")) {
			continue
		}

		var req request
		if err := json.Unmarshal(raw, &req); err != nil || req.Action == "" {
			log.Printf("skip line %d: not a learning request", line)
			skipped++
			continue
		}

		if *dryRun {
			fmt.Printf("[%d] %s user=%s\n", line, req.Action, req.UserID)
			continue
		}

		if nc != nil {
			if err := nc.Publish(hermes.SubjectRequest(req.Action), raw); err != nil {
				log.Printf("skip line %d: %v", line, err)
				skipped++
				continue
			}
			sent++
			continue
		}

		status, body, err := post(client, *apiURL, *caller, raw)
		if err != nil {
			log.Printf("skip line %d: %v", line, err)
			skipped++
			continue
		}
		if status != http.StatusOK {
			log.Printf("line %d: %s status %d: %s", line, req.Action, status, strings.TrimSpace(body))
			skipped++
			continue
		}
		fmt.Printf("[%d] %s -> %s\n", line, req.Action, strings.TrimSpace(body))
		sent++
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("scan %s: %v", *path, err)
	}
	log.Printf("done: %d sent, %d skipped", sent, skipped)
}

func post(client *http.Client, apiURL, caller string, body []byte) (int, string, error) {
	req, err := http.NewRequest("POST", strings.TrimRight(apiURL, "/")+"/api/v1/learning", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-ID", caller)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(out), nil
}
