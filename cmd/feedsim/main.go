// Command feedsim serves a synthetic tick stream over websocket so
// the engine can be exercised end to end without a live gateway. Each
// connected client gets the same random-walk stream the in-process
// simulator produces.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/feed"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

// broadcast sends the payload to every client, dropping clients whose
// writes fail.
func (h *hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[feedsim] client write failed, dropping: %v", err)
			delete(h.clients, c)
			c.Close()
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	addr := flag.String("addr", ":8089", "listen address")
	contract := flag.String("contract", "ES", "contract id to emit")
	startPrice := flag.Float64("price", 5000, "starting price")
	tickSize := flag.Float64("tick", 0.25, "minimum price increment")
	interval := flag.Duration("interval", 100*time.Millisecond, "tick interval")
	drift := flag.Float64("drift", 0, "per-tick drift")
	vol := flag.Float64("vol", 1.0, "per-tick volatility")
	seed := flag.Int64("seed", 0, "rng seed (0 = time-based)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &hub{clients: make(map[*websocket.Conn]struct{})}

	source := feed.NewSimSource(feed.SimConfig{
		ContractID: *contract,
		StartPrice: *startPrice,
		TickSize:   *tickSize,
		Interval:   *interval,
		Drift:      *drift,
		Volatility: *vol,
		Seed:       *seed,
	})
	ticks := make(chan model.Tick, 1024)
	go source.Run(ctx, ticks)

	go func() {
		for tick := range ticks {
			payload, err := json.Marshal(map[string]interface{}{
				"contractId": tick.ContractID,
				"price":      tick.LastPrice,
				"volume":     tick.CumVolume,
				"timestamp":  tick.TS.Format(time.RFC3339Nano),
			})
			if err != nil {
				continue
			}
			h.broadcast(payload)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ticks", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade failed: %v", err)
			return
		}
		log.Printf("[feedsim] client connected from %s", r.RemoteAddr)
		h.add(conn)
		// Drain (and discard) client messages to notice disconnects.
		go func() {
			defer h.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Printf("[feedsim] serving %s ticks on ws://%s/ticks", *contract, *addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[feedsim] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	log.Println("[feedsim] bye")
}
