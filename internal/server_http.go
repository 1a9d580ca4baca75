package internal

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Messages int    `json:"messages"`
	Online   int    `json:"online"`
	Uploads  int    `json:"uploads"`
	Error    string `json:"error,omitempty"`
}

// HandleHealth answers 200 while history saves succeed and 503 while the
// engine is degraded.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	health := s.engine.Health()
	resp := healthResponse{
		Status:   "ok",
		Version:  Version,
		Messages: health.Messages,
		Online:   health.Online,
		Uploads:  health.Uploads,
	}
	status := http.StatusOK
	if health.Degraded {
		resp.Status = "degraded"
		resp.Error = health.Error
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
