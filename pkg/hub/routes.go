package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/goccy/go-graphviz"
	"github.com/gorilla/mux"

	"github.com/astromechza/textsync/pkg/document"
	"github.com/astromechza/textsync/pkg/engine"
	"github.com/astromechza/textsync/pkg/presence"
	"github.com/astromechza/textsync/pkg/viz"
)

// LoggingMiddleware logs every handled request with its status and duration.
func LoggingMiddleware(log *slog.Logger) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			log.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	}
}

// Routes registers the websocket endpoint and the read only document endpoints.
func (h *Hub) Routes(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(h.ServeWS)
	r.Methods(http.MethodGet).Path("/docs").HandlerFunc(h.listDocuments)
	r.Methods(http.MethodGet).Path("/docs/{doc}").HandlerFunc(h.getDocument)
	r.Methods(http.MethodGet).Path("/docs/{doc}/history").HandlerFunc(h.getHistory)
	r.Methods(http.MethodGet).Path("/docs/{doc}/history.svg").HandlerFunc(h.getHistorySvg)
}

type documentView struct {
	ID           string           `json:"id"`
	Text         string           `json:"text"`
	Revision     int              `json:"revision"`
	Participants []presence.Entry `json:"participants"`
}

type historyView struct {
	ID        string              `json:"id"`
	Snapshots []document.Snapshot `json:"snapshots"`
}

func writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func writeError(writer http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrUnknownDocument) {
		http.Error(writer, err.Error(), http.StatusNotFound)
		return
	}
	slog.Error("request failed", "err", err)
	http.Error(writer, err.Error(), http.StatusInternalServerError)
}

func (h *Hub) listDocuments(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, h.engine.Documents())
}

func (h *Hub) getDocument(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["doc"]
	text, rev, err := h.engine.State(request.Context(), id)
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, documentView{ID: id, Text: text, Revision: rev, Participants: h.Presence(id)})
}

func (h *Hub) getHistory(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["doc"]
	if _, _, err := h.engine.State(request.Context(), id); err != nil {
		writeError(writer, err)
		return
	}
	snaps, err := h.engine.Snapshots(request.Context(), id)
	if err != nil {
		writeError(writer, err)
		return
	}
	if snaps == nil {
		snaps = []document.Snapshot{}
	}
	writeJSON(writer, historyView{ID: id, Snapshots: snaps})
}

func (h *Hub) getHistorySvg(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["doc"]
	rec, err := h.engine.Export(request.Context(), id)
	if err != nil {
		writeError(writer, err)
		return
	}
	writer.Header().Set("Content-Type", "image/svg+xml")
	if err := viz.RenderHistory(request.Context(), rec, graphviz.SVG, writer); err != nil {
		slog.Error("failed to render", "document", id, "err", err)
	}
}
