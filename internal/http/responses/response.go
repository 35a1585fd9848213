package responses

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
)

// APIResponse representa a estrutura padronizada de resposta da API
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError representa detalhes de erro na resposta
type APIError struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// WriteJSON escreve uma resposta JSON padronizada
func WriteJSON(w http.ResponseWriter, statusCode int, success bool, message string, data interface{}, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: success,
		Message: message,
		Data:    data,
		Error:   err,
	}

	json.NewEncoder(w).Encode(response)
}

// Success escreve uma resposta de sucesso
func Success(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusOK, true, message, data, nil)
}

// Accepted escreve uma resposta de processamento em andamento
func Accepted(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusAccepted, true, message, data, nil)
}

// Created escreve uma resposta de recurso criado
func Created(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusCreated, true, message, data, nil)
}

// BadRequest escreve uma resposta de requisição inválida
func BadRequest(w http.ResponseWriter, message string, details string) {
	WriteJSON(w, http.StatusBadRequest, false, message, nil, &APIError{
		Code:    "BAD_REQUEST",
		Details: details,
	})
}

// NotFound escreve uma resposta de recurso não encontrado
func NotFound(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusNotFound, false, message, nil, &APIError{
		Code: "NOT_FOUND",
	})
}

// Conflict escreve uma resposta de conflito
func Conflict(w http.ResponseWriter, message string, details string) {
	WriteJSON(w, http.StatusConflict, false, message, nil, &APIError{
		Code:    "CONFLICT",
		Details: details,
	})
}

// InternalError escreve uma resposta de erro interno
func InternalError(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusInternalServerError, false, message, nil, &APIError{
		Code: "INTERNAL_ERROR",
	})
}

// TooManyRequests escreve uma resposta de rate limit excedido
func TooManyRequests(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusTooManyRequests, false, message, nil, &APIError{
		Code: "RATE_LIMIT_EXCEEDED",
	})
}

// ServiceUnavailable escreve uma resposta de dependência indisponível
func ServiceUnavailable(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusServiceUnavailable, false, message, data, &APIError{
		Code: "SERVICE_UNAVAILABLE",
	})
}

// FromDomainError mapeia a taxonomia de erros do domínio para HTTP
func FromDomainError(w http.ResponseWriter, err error) {
	var validationErr *session.ValidationError
	switch {
	case errors.As(err, &validationErr):
		BadRequest(w, "Invalid request", validationErr.Error())
	case errors.Is(err, session.ErrValidation):
		BadRequest(w, "Invalid request", err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		NotFound(w, "Session not found")
	case errors.Is(err, session.ErrSessionAlreadyExists):
		Conflict(w, "Session already exists", err.Error())
	case errors.Is(err, session.ErrSessionLimitReached):
		Conflict(w, "Session limit reached", err.Error())
	case errors.Is(err, session.ErrSessionNotConnected):
		Conflict(w, "Session is not connected", err.Error())
	case errors.Is(err, session.ErrSessionNotAuthenticated):
		Conflict(w, "Session is not authenticated", err.Error())
	default:
		InternalError(w, "Internal server error")
	}
}
