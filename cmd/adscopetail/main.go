// adscopetail prints the notifications or preview frames of an adscope
// server, reconnecting when the server goes away
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

func usage() {
	str := `adscopetail follows a running adscope server.

Usage:
	adscopetail <host:port> [events|preview]

events (the default) prints one line per notification; preview prints the
size and last value of every preview frame.`
	fmt.Println(str)
}

// line formats one message for the terminal
func line(stream string, msg []byte) string {
	if stream == "preview" {
		var fr struct {
			Values  []float64 `json:"values"`
			Dropped uint64    `json:"dropped"`
		}
		if err := json.Unmarshal(msg, &fr); err != nil {
			return string(msg)
		}
		last := 0.
		if len(fr.Values) > 0 {
			last = fr.Values[len(fr.Values)-1]
		}
		return fmt.Sprintf("%d values, last %.4g V, %d dropped", len(fr.Values), last, fr.Dropped)
	}
	var n struct {
		Kind      string `json:"kind"`
		Capturing string `json:"capturing"`
		Connected bool   `json:"connected"`
		State     struct {
			Kind string `json:"kind"`
		} `json:"state"`
		Err string `json:"err"`
	}
	if err := json.Unmarshal(msg, &n); err != nil {
		return string(msg)
	}
	s := fmt.Sprintf("%-18s connected=%-5v device=%-12s capture=%s", n.Kind, n.Connected, n.State.Kind, n.Capturing)
	if n.Err != "" {
		s += " err=" + n.Err
	}
	return s
}

// follow reads from one connection until it fails
func follow(u string, stream string, done <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Println("connected to", u)
	go func() {
		<-done
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		fmt.Println(time.Now().Format("15:04:05.000"), line(stream, msg))
	}
}

func main() {
	args := os.Args
	if len(args) < 2 || args[1] == "help" {
		usage()
		return
	}
	stream := "events"
	if len(args) > 2 {
		stream = strings.ToLower(args[2])
	}
	path := "/events"
	switch stream {
	case "events":
	case "preview":
		path = "/preview/stream"
	default:
		log.Fatal("unknown stream ", stream)
	}
	u := url.URL{Scheme: "ws", Host: args[1], Path: path}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})
	go func() {
		<-interrupt
		close(done)
	}()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     250 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2.,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0, // never give up
		Clock:               backoff.SystemClock}
	op := func() error {
		select {
		case <-done:
			return nil
		default:
		}
		err := follow(u.String(), stream, done)
		select {
		case <-done:
			return nil
		default:
		}
		return err
	}
	backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		log.Printf("%v, reconnecting in %v", err, d.Round(time.Millisecond))
	})
}
