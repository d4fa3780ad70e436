package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core"
	"github.com/mohit-ai/mohit/pkg/gateway/apierror"
	"github.com/mohit-ai/mohit/pkg/gateway/auth"
	"github.com/mohit-ai/mohit/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierror.Write(w, err, requestID(r))
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	apierror.WriteCore(w, status, coreErr)
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.NewInvalidRequestError("request body is required")
		}
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return core.NewInvalidRequestErrorWithParam("unknown field "+field, strings.Trim(field, `"`))
		}
		return err
	}
	if dec.More() {
		return core.NewInvalidRequestError("request body must be a single JSON object")
	}
	return nil
}

// userID is only called behind mw.Auth.
func userID(r *http.Request) uuid.UUID {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return uuid.Nil
	}
	return p.UserID
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, core.NewInvalidRequestErrorWithParam("invalid id", "id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.NewInvalidRequestErrorWithParam(key+" must be a non-negative integer", key)
	}
	return n, nil
}

func queryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, core.NewInvalidRequestErrorWithParam("invalid "+key, key)
	}
	return &id, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, core.NewInvalidRequestErrorWithParam(key+" must be RFC 3339", key)
	}
	return t, nil
}

type listResponse[T any] struct {
	Data   []T `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
