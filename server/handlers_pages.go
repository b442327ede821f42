package server

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
)

//go:embed static
var staticFiles embed.FS

func (h *Handlers) servePage(w http.ResponseWriter, name string) {
	b, err := staticFiles.ReadFile("static/" + name)
	if err != nil {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

// HandleRoot redirects the bare host to the admin page.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusFound)
}

// HandleAdminPage serves the queue administration page.
func (h *Handlers) HandleAdminPage(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, "admin.html")
}

// HandleOverlayPage serves the OBS browser-source overlay.
func (h *Handlers) HandleOverlayPage(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, "overlay.html")
}

// HandleTestPage serves the manual danmu injection page.
func (h *Handlers) HandleTestPage(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, "test.html")
}

// HandleCustomCSS serves the operator's stylesheet override when configured,
// and an empty sheet otherwise so pages can link it unconditionally.
func (h *Handlers) HandleCustomCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	path := h.cfg.Style.CustomCSSPath
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		// Missing override is not an error for the page.
		return
	}
	_, _ = w.Write(b)
}

// StaticHandler serves the embedded default stylesheet and other assets.
func (h *Handlers) StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
