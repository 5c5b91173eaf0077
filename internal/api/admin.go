package api

import (
	"net/http"

	"github.com/stars4all/tessd/internal/writer"
)

// Controller is the writer's control surface. The endpoints mirror the
// POSIX signals: pause = SIGUSR1, resume = SIGUSR2, reload = SIGHUP.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
	Stats() writer.Snapshot
}

// ReloadFunc re-reads the configuration and fans it out; it is the same
// path SIGHUP takes.
type ReloadFunc func() error

type AdminHandler struct {
	ctl    Controller
	reload ReloadFunc
}

func NewAdminHandler(ctl Controller, reload ReloadFunc) *AdminHandler {
	return &AdminHandler{ctl: ctl, reload: reload}
}

func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.ctl.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.ctl.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Stats())
}
