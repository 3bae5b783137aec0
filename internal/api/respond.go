package api

import (
	"encoding/json"
	"log"
	"net/http"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Errors  []fieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

func writeValidationError(w http.ResponseWriter, errs []fieldError) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Success: false,
		Message: "Validation failed.",
		Errors:  errs,
	})
}

// decodeJSON rejects unknown fields so typos in request payloads surface as
// 400s instead of silently defaulted values.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
