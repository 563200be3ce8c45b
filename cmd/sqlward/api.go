package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mhollas/sqlward"
)

// registerRoutes wires the engine's operations under /v1.
func registerRoutes(r chi.Router, engine *sqlward.Engine) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query/sql", handleSQL(engine))
		r.Post("/query/natural", handleAsk(engine))
		r.Post("/query/write/preview", handleWritePreview(engine))
		r.Post("/query/write/execute", handleWriteExecute(engine))
		r.Get("/schema/tables", handleListTables(engine))
		r.Get("/schema/tables/{table}", handleDescribeTable(engine))
	})
}

func handleSQL(engine *sqlward.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sqlward.SQLRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := engine.ExecuteSQL(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAsk(engine *sqlward.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sqlward.AskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := engine.Ask(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleWritePreview(engine *sqlward.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sqlward.WritePreviewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		preview, err := engine.PreviewWrite(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
	}
}

func handleWriteExecute(engine *sqlward.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sqlward.WriteExecuteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := engine.ExecuteWrite(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleListTables(engine *sqlward.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := engine.ListTables(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDescribeTable(engine *sqlward.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input := sqlward.DescribeTableInput{
			Table:  chi.URLParam(r, "table"),
			Schema: r.URL.Query().Get("schema"),
		}
		out, err := engine.DescribeTable(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    sqlward.ErrorCode      `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps pipeline error codes onto HTTP status codes. Rejections
// the caller can fix are 4xx; timeouts and backend failures are 5xx.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: sqlward.ErrExecution, Message: err.Error()}

	var coded *sqlward.Error
	if errors.As(err, &coded) {
		body.Code = coded.Code
		body.Message = coded.Message
		body.Details = coded.Details
		switch coded.Code {
		case sqlward.ErrValidation, sqlward.ErrSyntax, sqlward.ErrIntent:
			status = http.StatusBadRequest
		case sqlward.ErrInjection, sqlward.ErrReadOnly:
			status = http.StatusForbidden
		case sqlward.ErrNotFound:
			status = http.StatusNotFound
		case sqlward.ErrTimeout:
			status = http.StatusGatewayTimeout
		case sqlward.ErrGeneration:
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}
