package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/pkg/errors"
)

// Handler returns the monitor's routes. Requests are written to accessLog
// in combined log format; a nil accessLog disables it.
func (m *Monitor) Handler(accessLog io.Writer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", m.engine)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Only GET allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, m.Status())
	})
	mux.HandleFunc("/transfers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Only GET allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, m.Transfers())
	})
	if accessLog == nil {
		return mux
	}
	return handlers.CustomLoggingHandler(accessLog, mux, logFormatter)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// logFormatter writes combined log format with the X-Forwarded-For header
// in the identity column.
func logFormatter(writer io.Writer, params handlers.LogFormatterParams) {
	ip, _, err := net.SplitHostPort(params.Request.RemoteAddr)
	if err != nil {
		ip = params.Request.RemoteAddr
	}

	xfwd := params.Request.Header.Get("X-Forwarded-For")
	if xfwd == "" {
		xfwd = "-"
	}

	username := "-"
	if auth := params.Request.Header.Get("Authorization"); strings.HasPrefix(auth, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
		if err == nil {
			if user, _, _ := strings.Cut(string(decoded), ":"); user != "" {
				username = user
			}
		}
	}

	fmt.Fprintf(writer, "%s %s %s [%s] \"%s %s %s\" %d %d \"%s\" \"%s\"\n",
		ip,
		xfwd,
		username,
		params.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
		params.Request.Method,
		params.Request.RequestURI,
		params.Request.Proto,
		params.StatusCode,
		params.Size,
		params.Request.Referer(),
		params.Request.UserAgent(),
	)
}

// Server is a running monitor HTTP server.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts the HTTP server on addr in the background.
func (m *Monitor) Serve(addr string, accessLog io.Writer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	s := &Server{
		srv: &http.Server{Handler: m.Handler(accessLog), ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("HTTP server error")
		}
	}()
	m.log.WithField("addr", ln.Addr().String()).Info("monitor listening")
	return s, nil
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Shutdown stops the server, waiting up to timeout for requests in flight.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
