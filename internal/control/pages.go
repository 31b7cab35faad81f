package control

import (
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strings"

	"github.com/NodePath81/latprobe/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// handleSign stores an uploaded report. The body is the form field
// "content"; the reply is the plain text "ok".
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r)
	if !s.uploads.Allow(ip) {
		s.metrics.RecordUpload(false)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxReportBytes))
	if err := r.ParseForm(); err != nil {
		s.metrics.RecordUpload(false)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "report too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	content := r.PostForm.Get("content")
	if strings.TrimSpace(content) == "" {
		s.metrics.RecordUpload(false)
		http.Error(w, "content must not be empty", http.StatusBadRequest)
		return
	}
	country, err := s.geo.Country(net.ParseIP(ip))
	if err != nil {
		s.logger.Debug("geoip lookup failed", "client", ip, "error", err)
	}
	rep, err := s.store.Put(r.Context(), content, country)
	if err != nil {
		s.metrics.RecordUpload(false)
		s.logger.Error("report not stored", "client", ip, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.metrics.RecordUpload(true)
	s.logger.Info("report stored", "id", rep.ID, "device", rep.Device, "result", rep.Result, "country", country)
	s.hub.Broadcast(statusMessage{Type: "report", Report: &reportEvent{
		ID:     rep.ID,
		Device: rep.Device,
		Result: rep.Result,
	}})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderList(w, r, "list.html", s.cfg.ListLimit)
}

func (s *Server) handleGuestbook(w http.ResponseWriter, r *http.Request) {
	s.renderList(w, r, "guestbook.html", s.cfg.GuestbookLimit)
}

func (s *Server) renderList(w http.ResponseWriter, r *http.Request, name string, limit int) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reports, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list reports failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, reports); err != nil {
		s.logger.Warn("render page failed", "page", name, "error", err)
	}
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("get report failed", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, "item.html", rep); err != nil {
		s.logger.Warn("render page failed", "page", "item.html", "error", err)
	}
}
