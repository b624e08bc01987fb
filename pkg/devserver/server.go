// Package devserver serves the built site with live reload and rebuilds it when sources change
package devserver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/unrolled/secure"

	"github.com/ngld/sitebuild/pkg/sitelog"
)

const (
	// ReloadPath is the websocket endpoint browsers connect to
	ReloadPath = "/__livereload"
	clientPath = "/__livereload.js"
)

const clientScript = `(function () {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  function connect() {
    var ws = new WebSocket(proto + location.host + '` + ReloadPath + `');
    ws.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      if (msg.command === 'css') {
        var links = document.querySelectorAll('link[rel="stylesheet"]');
        var found = false;
        for (var i = 0; i < links.length; i++) {
          var href = links[i].getAttribute('href').split('?')[0];
          if (href.slice(-msg.path.length) === msg.path) {
            links[i].setAttribute('href', href + '?' + Date.now());
            found = true;
          }
        }
        if (!found) location.reload();
      } else {
        location.reload();
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();
`

var clientTag = []byte(`<script src="` + clientPath + `"></script>`)

// Server is a running dev server
type Server struct {
	Hub  *Hub
	Root string

	listener net.Listener
	http     *http.Server
	done     chan struct{}
}

// Serve starts serving root on the given port (0 picks a free one). The server stops when ctx is
// canceled or Close is called.
func Serve(ctx context.Context, root string, port int) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to listen on port %d", port)
	}

	s := &Server{
		Hub:      NewHub(),
		Root:     root,
		listener: listener,
		done:     make(chan struct{}),
	}

	r := mux.NewRouter()
	r.Handle(ReloadPath, s.Hub)
	r.HandleFunc(clientPath, serveClient)
	r.PathPrefix("/").Handler(s.staticHandler())

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})

	s.http = &http.Server{
		Handler:      sm.Handler(sitelog.MakeLogMiddleware(ctx)(r)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		defer close(s.done)
		err := s.http.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			sitelog.Log(ctx).Error().Err(err).Msg("dev server failed")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	sitelog.Log(ctx).Info().Str("root", root).Msgf("serving on http://localhost:%d", s.Port())
	return s, nil
}

// Port returns the port the server listens on
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close disconnects all live reload clients and stops the server
func (s *Server) Close() error {
	s.Hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if err != nil {
		return eris.Wrap(err, "failed to stop dev server")
	}
	return nil
}

// Done is closed once the server stopped
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func serveClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(clientScript))
}

// injectClient adds the live reload script before </body> or at the end of the document
func injectClient(page []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx == -1 {
		return append(append([]byte{}, page...), clientTag...)
	}

	out := make([]byte, 0, len(page)+len(clientTag))
	out = append(out, page[:idx]...)
	out = append(out, clientTag...)
	return append(out, page[idx:]...)
}

func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.Root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		full := filepath.Join(s.Root, filepath.FromSlash(name))

		info, err := os.Stat(full)
		if err == nil && info.IsDir() {
			if !strings.HasSuffix(r.URL.Path, "/") {
				files.ServeHTTP(w, r)
				return
			}
			full = filepath.Join(full, "index.html")
			info, err = os.Stat(full)
		}

		if err != nil || !strings.EqualFold(filepath.Ext(full), ".html") {
			files.ServeHTTP(w, r)
			return
		}

		page, err := os.ReadFile(full)
		if err != nil {
			http.Error(w, "failed to read page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(injectClient(page)))
	})
}
