package serve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"futurebuild/internal/fileutil"
	"futurebuild/internal/logging"
	"futurebuild/internal/services"
)

// ReloadPath is the Server-Sent Events endpoint pages subscribe to.
const ReloadPath = "/__futurebuild/reload"

const reloadScript = `<script>(function(){var s=new EventSource("` + ReloadPath + `");` +
	`s.addEventListener("reload",function(){location.reload();});})();</script>`

// StaticServer serves a build output directory.
type StaticServer struct {
	root       string
	liveReload bool
	logger     *slog.Logger
	hub        *reloadHub

	listener net.Listener
	server   *http.Server
	watcher  *watcher
}

// NewStaticServer validates root and prepares a server for it. A missing or
// empty build output is a start failure.
func NewStaticServer(root string, liveReload bool, logger *slog.Logger) (*StaticServer, error) {
	nonEmpty, err := fileutil.DirNonEmpty(root)
	if err != nil || !nonEmpty {
		return nil, services.Wrap(services.ErrRuntimeStart, stageName, "locate build output",
			"build output "+root+" is missing or empty; run futurebuild build first", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StaticServer{
		root:       root,
		liveReload: liveReload,
		logger:     logger,
		hub:        newReloadHub(),
	}, nil
}

// Start binds addr and serves in the background until ctx is cancelled or
// Stop is called.
func (s *StaticServer) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return services.Wrap(services.ErrRuntimeStart, stageName, "listen", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.liveReload {
		w, err := watchTree(s.root, s.logger, s.hub.broadcast)
		if err != nil {
			logging.WarnWithContext(s.logger, "live reload unavailable", "serve_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "pages will not refresh after rebuilds"),
			)
		} else {
			s.watcher = w
		}
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("static server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *StaticServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *StaticServer) Stop() {
	if s.watcher != nil {
		s.watcher.close()
	}
	s.hub.close()
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
}

// Handler returns the HTTP handler: the reload stream, files from the build
// output, and index.html for extensionless paths that match no file.
func (s *StaticServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.liveReload {
		mux.HandleFunc(ReloadPath, s.handleReload)
	}
	mux.HandleFunc("/", s.handleFile)
	return mux
}

func (s *StaticServer) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	urlPath := path.Clean("/" + r.URL.Path)
	file, ok := s.resolve(urlPath)
	if !ok {
		http.NotFound(w, r)
		return
	}

	// the service worker must never be served stale or the app cannot update
	if path.Base(file) == "service-worker.js" || strings.HasSuffix(file, ".html") {
		w.Header().Set("Cache-Control", "no-cache")
	}

	if s.liveReload && strings.HasSuffix(file, ".html") {
		s.serveHTML(w, r, file)
		return
	}
	f, err := os.Open(file)
	if err != nil {
		http.Error(w, "unable to open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "unable to stat file", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// resolve maps a cleaned URL path to a file under root.
func (s *StaticServer) resolve(urlPath string) (string, bool) {
	candidate := filepath.Join(s.root, filepath.FromSlash(urlPath))
	info, err := os.Stat(candidate)
	switch {
	case err == nil && info.IsDir():
		index := filepath.Join(candidate, "index.html")
		if _, err := os.Stat(index); err == nil {
			return index, true
		}
	case err == nil:
		return candidate, true
	case !errors.Is(err, fs.ErrNotExist):
		return "", false
	}
	if path.Ext(urlPath) != "" {
		return "", false
	}
	index := filepath.Join(s.root, "index.html")
	if _, err := os.Stat(index); err != nil {
		return "", false
	}
	return index, true
}

func (s *StaticServer) serveHTML(w http.ResponseWriter, r *http.Request, file string) {
	data, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, "unable to read file", http.StatusInternalServerError)
		return
	}
	body := injectReloadScript(data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func injectReloadScript(page []byte) []byte {
	marker := []byte("</body>")
	idx := bytes.LastIndex(bytes.ToLower(page), marker)
	if idx < 0 {
		return append(append([]byte{}, page...), reloadScript...)
	}
	out := make([]byte, 0, len(page)+len(reloadScript))
	out = append(out, page[:idx]...)
	out = append(out, reloadScript...)
	return append(out, page[idx:]...)
}

func (s *StaticServer) handleReload(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case seq, open := <-events:
			if !open {
				return
			}
			_, _ = fmt.Fprintf(w, "event: reload\ndata: %d\n\n", seq)
			flusher.Flush()
		}
	}
}
