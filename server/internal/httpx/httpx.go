// Package httpx provides the coordinator's JSON response envelope. Every
// handler response is either {"success": true, ...fields} or
// {"success": false, "error": "..."}, per spec §6.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/stormmon/storm/server/internal/apperr"
)

// JSON writes status with a JSON-encoded body.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// successEnvelope merges "success": true with the caller's fields. fields
// may be nil for endpoints with no payload (e.g. /api/uptime/reset).
func successEnvelope(fields map[string]any) map[string]any {
	env := map[string]any{"success": true}
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// Ok writes 200 with fields merged into the success envelope.
func Ok(w http.ResponseWriter, fields map[string]any) {
	JSON(w, http.StatusOK, successEnvelope(fields))
}

// OkValue writes 200 with the envelope's fields spread from a single
// struct marshaled as its own top-level object (via a round trip through
// map[string]any), for handlers whose payload is already a named struct.
func OkValue(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ErrInternal(w, err)
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		ErrInternal(w, err)
		return
	}
	Ok(w, fields)
}

// Created writes 201 with fields merged into the success envelope.
func Created(w http.ResponseWriter, fields map[string]any) {
	JSON(w, http.StatusCreated, successEnvelope(fields))
}

// Err writes {"success": false, "error": message} with a status derived
// from the error's apperr.Kind.
func Err(w http.ResponseWriter, err error) {
	JSON(w, apperr.StatusCode(err), map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// ErrInternal writes a 500 without leaking the underlying error detail.
func ErrInternal(w http.ResponseWriter, err error) {
	JSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "an internal error occurred",
	})
}

// ErrStatus writes {"success": false, "error": message} at an explicit status.
func ErrStatus(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// DecodeJSON decodes the request body into dst, writing a 400 envelope
// error and returning false on failure so handlers can early-return.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		ErrStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
