package scope

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// writeWait is the time allowed to write one message to a peer
	writeWait = 10 * time.Second

	// DefaultFPS is the preview stream rate used when none is configured
	DefaultFPS = 20.
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
}

// Frame is one snapshot of the preview window
type Frame struct {
	Values  []float64 `json:"values"`
	Dropped uint64    `json:"dropped"`
	Time    time.Time `json:"time"`
}

func frameOf(p Previewer) Frame {
	return Frame{Values: p.Preview(), Dropped: p.PreviewDropped(), Time: time.Now()}
}

// readPump discards client messages and cancels ctx when the peer goes away
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Events upgrades the connection to a websocket and sends every session
// notification to it as JSON until either side closes
func Events(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// subscribed before the handshake completes so the client sees
		// everything that happens after its dial returns
		ch, unsubscribe := n.Subscribe()
		defer unsubscribe()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("events upgrade:", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go readPump(conn, cancel)
		for {
			select {
			case <-ctx.Done():
				return
			case note, ok := <-ch:
				if !ok {
					closeNormal(conn)
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(note); err != nil {
					return
				}
			}
		}
	}
}

// PreviewStream upgrades the connection to a websocket and sends preview
// frames at no more than fps frames per second
func PreviewStream(p Previewer, fps float64) http.HandlerFunc {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("preview upgrade:", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go readPump(conn, cancel)
		limiter := rate.NewLimiter(rate.Limit(fps), 1)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frameOf(p)); err != nil {
				return
			}
		}
	}
}
