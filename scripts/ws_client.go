// Package main runs a demo client for the live tracking feed: it posts a
// few position samples and prints the events arriving on the WebSocket.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("localhost:%s", port), Path: "/v1/tracking/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		for i := 0; i < 5; i++ {
			sample := map[string]any{
				"vehicleId": "veh-demo",
				"lat":       52.37 + float64(i)*0.001,
				"lng":       4.89,
				"speedKmh":  38.0,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			body, _ := json.Marshal(sample)
			resp, err := http.Post(base+"/v1/positions", "application/json", bytes.NewReader(body))
			if err != nil {
				log.Printf("post position: %v", err)
				return
			}
			_ = resp.Body.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("read: %v", err)
			return
		}
		out, _ := json.Marshal(msg)
		fmt.Println(string(out))
	}
}
