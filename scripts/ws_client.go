//go:build ignore

// ws_client subscribes to report events over /v1/ws, posts one diagnostics
// request and prints what arrives.
//
//	go run scripts/ws_client.go
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

const demo = `{
  "problem": {
    "jobs": [
      {"id": "j1", "location": {"lat": 52.52, "lng": 13.40}, "requiredSkills": ["fridge"]},
      {"id": "j2", "location": {"lat": 52.50, "lng": 13.42}, "demand": [50]}
    ],
    "vehicles": [{"id": "v1", "start": {"lat": 52.51, "lng": 13.39}, "capacity": [10]}]
  },
  "solution": {"routes": [], "unassigned": ["j1", "j2"]},
  "options": {"includeDetails": true}
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tenant := "t_demo"

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1"}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m map[string]any
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %v: %v", m["type"], m["payload"])
		}
	}()

	time.Sleep(300 * time.Millisecond)
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://localhost:%s/v1/diagnostics", port), bytes.NewReader([]byte(demo)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	log.Printf("POST /v1/diagnostics -> %d %s", resp.StatusCode, body)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
