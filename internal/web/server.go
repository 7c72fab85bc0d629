// Package web serves the local status and control API.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gnssctl/internal/gps"
)

// Controls is the part of the receiver controller exposed over HTTP.
// Implementations must be safe to call concurrently.
type Controls interface {
	State() gps.State
	Model() gps.Model
	AverageLockTime() time.Duration
	ForceWake(on bool)
	Enable()
	Disable()
	RequestHostSleep()
}

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func Handler(status *Status, ctl Controls, log *zap.SugaredLogger) http.Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC(), ctl)
		b, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	mux.HandleFunc("/api/status/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugw("status websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()
		streamStatus(r.Context(), conn, status, ctl, log)
	})

	// Control actions. Each is a POST with no body.
	actions := map[string]func(){
		"/api/gps/wake":    func() { ctl.ForceWake(true) },
		"/api/gps/inhibit": func() { ctl.ForceWake(false) },
		"/api/gps/enable":  func() { ctl.Enable() },
		"/api/gps/disable": func() { ctl.Disable() },
		"/api/gps/sleep":   func() { ctl.RequestHostSleep() },
	}
	for route, act := range actions {
		route, act := route, act
		mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if ctl == nil {
				http.Error(w, "gps unavailable", http.StatusNotFound)
				return
			}
			act()
			log.Infow("gps control", "action", route, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{\"ok\":true}\n"))
		})
	}

	return mux
}

// streamStatus writes the current snapshot, then every update until the
// client goes away.
func streamStatus(ctx context.Context, conn *websocket.Conn, status *Status, ctl Controls, log *zap.SugaredLogger) {
	updates := status.subscribe()
	defer status.unsubscribe(updates)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debugw("status websocket closed", "err", err)
				}
				return
			}
		}
	}()

	write := func(v interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v) == nil
	}

	if !write(status.Snapshot(time.Now().UTC(), ctl)) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case u := <-updates:
			if !write(u) {
				return
			}
		}
	}
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
