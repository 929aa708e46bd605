package serve

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"futurebuild/internal/config"
	"futurebuild/internal/services"
	"futurebuild/internal/testsupport"
)

func seedBuild(t *testing.T, root string) {
	t.Helper()
	testsupport.WriteText(t, filepath.Join(root, "index.html"), "<html><body><div id=\"root\"></div></body></html>\n")
	testsupport.WriteText(t, filepath.Join(root, "static", "main.js"), "console.log('bundle');\n")
	testsupport.WriteText(t, filepath.Join(root, "service-worker.js"), testsupport.ServiceWorker)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStaticHandler(t *testing.T) {
	root := t.TempDir()
	seedBuild(t, root)
	srv, err := NewStaticServer(root, false, nil)
	if err != nil {
		t.Fatalf("NewStaticServer: %v", err)
	}
	h := srv.Handler()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
	}{
		{name: "asset", target: "/static/main.js", wantStatus: http.StatusOK, wantBody: "console.log('bundle');\n"},
		{name: "root", target: "/", wantStatus: http.StatusOK, wantBody: "<div id=\"root\">"},
		{name: "client route falls back", target: "/course/loops/3", wantStatus: http.StatusOK, wantBody: "<div id=\"root\">"},
		{name: "missing asset", target: "/static/missing.js", wantStatus: http.StatusNotFound},
		{name: "service worker", target: "/service-worker.js", wantStatus: http.StatusOK, wantBody: testsupport.ServiceWorker},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, h, tc.target)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tc.wantBody)
			}
			if strings.Contains(rec.Body.String(), ReloadPath) {
				t.Fatal("reload script injected with live reload disabled")
			}
		})
	}

	if got := get(t, h, "/service-worker.js").Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("service worker Cache-Control = %q", got)
	}
}

func TestStaticHandlerInjectsReloadScript(t *testing.T) {
	root := t.TempDir()
	seedBuild(t, root)
	srv, err := NewStaticServer(root, true, nil)
	if err != nil {
		t.Fatalf("NewStaticServer: %v", err)
	}
	body := get(t, srv.Handler(), "/").Body.String()
	script := strings.Index(body, ReloadPath)
	closing := strings.Index(body, "</body>")
	if script < 0 || closing < 0 || script > closing {
		t.Fatalf("reload script not injected before </body>: %q", body)
	}
	if got := get(t, srv.Handler(), "/static/main.js").Body.String(); strings.Contains(got, ReloadPath) {
		t.Fatal("script injected into a non-HTML asset")
	}
}

func TestInjectReloadScriptWithoutBody(t *testing.T) {
	got := string(injectReloadScript([]byte("<p>fragment</p>")))
	if !strings.HasPrefix(got, "<p>fragment</p>") || !strings.HasSuffix(got, "</script>") {
		t.Fatalf("unexpected injection %q", got)
	}
}

func TestNewStaticServerMissingOutput(t *testing.T) {
	_, err := NewStaticServer(filepath.Join(t.TempDir(), "build"), true, nil)
	if !errors.Is(err, services.ErrRuntimeStart) {
		t.Fatalf("expected runtime start failure, got %v", err)
	}
}

func TestStartBindFailure(t *testing.T) {
	root := t.TempDir()
	seedBuild(t, root)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv, err := NewStaticServer(root, false, nil)
	if err != nil {
		t.Fatalf("NewStaticServer: %v", err)
	}
	err = srv.Start(context.Background(), ln.Addr().String())
	if !errors.Is(err, services.ErrRuntimeStart) {
		t.Fatalf("expected runtime start failure, got %v", err)
	}
}

func TestLiveReloadStream(t *testing.T) {
	root := t.TempDir()
	seedBuild(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := NewStaticServer(root, true, nil)
	if err != nil {
		t.Fatalf("NewStaticServer: %v", err)
	}
	if err := srv.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+srv.Addr()+ReloadPath, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("expected connected comment, got %q (%v)", line, err)
	}

	testsupport.WriteText(t, filepath.Join(root, "static", "main.js"), "console.log('rebuilt');\n")

	events := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(events)
				return
			}
			if strings.HasPrefix(line, "event: ") {
				events <- strings.TrimSpace(strings.TrimPrefix(line, "event: "))
				return
			}
		}
	}()
	select {
	case name, ok := <-events:
		if !ok || name != "reload" {
			t.Fatalf("expected reload event, got %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event after the build output changed")
	}
}

func TestReloadHub(t *testing.T) {
	hub := newReloadHub()
	events, unsubscribe := hub.subscribe()
	hub.broadcast()
	hub.broadcast()
	if seq := <-events; seq != 1 {
		t.Fatalf("first pending event = %d, want 1", seq)
	}
	unsubscribe()
	unsubscribe()
	hub.broadcast()

	late, _ := hub.subscribe()
	hub.close()
	if _, open := <-late; open {
		t.Fatal("close must end subscriptions")
	}
	if closed, _ := hub.subscribe(); closed != nil {
		if _, open := <-closed; open {
			t.Fatal("subscribing after close must yield a closed channel")
		}
	}
}

func TestExecModePassesPortAndExitCode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	portFile := filepath.Join(testsupport.BaseDir(cfg), "port.txt")
	testsupport.WriteStub(t, cfg, "npm", "echo \"$PORT\" > \""+portFile+"\"\nexit 4\n")
	if err := os.MkdirAll(cfg.FrontendDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.Serve.Mode = config.ServeExec
	cfg.Serve.Port = 4123

	err := (&Launcher{Config: cfg}).Run(context.Background())
	if services.ExitCode(err) != 4 {
		t.Fatalf("exit code = %d (%v), want 4", services.ExitCode(err), err)
	}
	if errors.Is(err, services.ErrRuntimeStart) {
		t.Fatal("a process that ran must not be reported as a start failure")
	}
	if got := strings.TrimSpace(testsupport.ReadText(t, portFile)); got != "4123" {
		t.Fatalf("PORT = %q", got)
	}
	calls := testsupport.Calls(t, cfg)
	if len(calls) != 1 || !strings.HasSuffix(calls[0], "@"+cfg.FrontendDir()) {
		t.Fatalf("start command not run in the frontend dir: %v", calls)
	}
}

func TestExecModeStartFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Serve.Mode = config.ServeExec

	err := (&Launcher{Config: cfg}).Run(context.Background())
	if !errors.Is(err, services.ErrRuntimeStart) {
		t.Fatalf("missing frontend dir: expected runtime start failure, got %v", err)
	}

	if err := os.MkdirAll(cfg.FrontendDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.Serve.Command = []string{"futurebuild-no-such-server"}
	err = (&Launcher{Config: cfg}).Run(context.Background())
	if !errors.Is(err, services.ErrRuntimeStart) || services.ExitCode(err) != 127 {
		t.Fatalf("missing command: expected runtime start failure with 127, got %v", err)
	}
}

func TestStaticModeLauncher(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	seedBuild(t, cfg.BuildOutputDir())
	cfg.Serve.Mode = config.ServeStatic
	cfg.Serve.LiveReload = false

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- (&Launcher{Config: cfg, Ready: func(addr string) { ready <- addr }}).Run(ctx)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("launcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get("http://" + addr + "/service-worker.js")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != testsupport.ServiceWorker {
		t.Fatalf("unexpected service worker body %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("launcher did not stop after cancellation")
	}
}
