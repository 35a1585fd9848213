package session

import (
	"errors"
	"fmt"
)

// Erros sentinela do domínio de sessões
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionAlreadyExists    = errors.New("session already exists")
	ErrSessionNotConnected     = errors.New("session not connected")
	ErrSessionNotAuthenticated = errors.New("session not authenticated")
	ErrSessionLimitReached     = errors.New("session limit reached")
	ErrValidation              = errors.New("validation error")
	ErrTransient               = errors.New("transient error")
	ErrPermanent               = errors.New("permanent error")
)

// SessionError envolve um erro com o contexto da sessão e da operação
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError cria um erro contextualizado para a sessão
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Op: op, Err: err}
}

// ValidationError descreve entrada inválida fornecida pelo chamador
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError cria um erro de validação para um campo
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
