package handlers

import (
	"delivery-dashboard/internal/api/dto"
	"delivery-dashboard/internal/dashboard"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

type ViewHandler struct {
	Dashboard *dashboard.Dashboard
}

// Snapshot returns the latest view model. The version doubles as an ETag so
// pollers can skip unchanged snapshots.
func (h *ViewHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	snap := h.Dashboard.Snapshot()
	etag := fmt.Sprintf(`"v%d"`, snap.Version)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// Stream upgrades to a websocket and sends the latest snapshot followed by
// every newer one. Incoming messages are ignored.
func (h *ViewHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Printf("op=ws.upgrade err=%v", err)
		return
	}
	defer conn.Close()

	id, snaps, unsubscribe := h.Dashboard.Subscribe()
	defer unsubscribe()
	log.Printf("op=ws.subscribe sub=%s", id)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("op=ws.write sub=%s version=%d err=%v", id, snap.Version, err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Printf("op=ws.unsubscribe sub=%s", id)
			return
		}
	}
}

func (h *ViewHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req dto.DismissRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Source == "" {
		writeError(w, r, http.StatusBadRequest, "source is required")
		return
	}

	h.Dashboard.DismissNotice(req.Source)
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot())
}
