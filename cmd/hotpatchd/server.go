package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GoCodeAlone/hotpatch/engine"
	"github.com/GoCodeAlone/hotpatch/logging"
)

// newRouter builds the admin HTTP surface: /status, /apply/{assembly},
// /history/{assembly}.
func newRouter(eng *engine.Engine, logger logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/status", statusHandler(eng))
	r.Post("/apply/{assembly}", applyHandler(eng, logger))
	r.Get("/history/{assembly}", historyHandler(eng))

	return r
}

func statusHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"dispatcher_registered": eng.Dispatcher.Len(),
			"field_store_instances": eng.Fields.InstanceCount(),
		})
	}
}

// applyHandler accepts the raw source text as the request body; the
// source path and module name come from query parameters, and the
// revision defaults to the current Unix nanosecond timestamp if omitted.
func applyHandler(eng *engine.Engine, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assembly := chi.URLParam(req, "assembly")
		sourcePath := req.URL.Query().Get("path")
		moduleName := req.URL.Query().Get("module")
		if moduleName == "" {
			moduleName = assembly
		}
		revision := time.Now().UnixNano()
		if raw := req.URL.Query().Get("revision"); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				revision = parsed
			}
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := eng.Apply(engine.ApplyRequest{
			Ctx:        req.Context(),
			Assembly:   assembly,
			SourcePath: sourcePath,
			SourceText: string(body),
			ModuleName: moduleName,
			Revision:   revision,
		})
		if err != nil {
			logger.Warn("apply failed", "assembly", assembly, "error", err)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func historyHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		assembly := chi.URLParam(req, "assembly")
		if eng.History == nil {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, eng.History.RecordsForAssembly(assembly))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
