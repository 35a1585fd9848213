package engine

import (
	"strings"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
)

// closeAction enumera as políticas possíveis após um fechamento de conexão
type closeAction int

const (
	// reconectar após o atraso indicado
	actionReconnect closeAction = iota
	// desvinculado remotamente: limpar auth e encerrar
	actionLoggedOut
	// outro dispositivo assumiu o slot: não reconectar
	actionReplaced
	// sessão corrompida: limpar auth, exigir novo pareamento
	actionBadSession
	// o servidor pediu reinício imediato do socket
	actionRestart
	// desconexão manual já tratada: não fazer nada
	actionIgnore
)

// closeDecision é o resultado da classificação de um fechamento
type closeDecision struct {
	action closeAction
	delay  time.Duration
	reason string
}

// classifyClose aplica a política de causa de desconexão. Os códigos
// enumerados decidem primeiro; o casamento de substring em "conflict" e
// "logged out" permanece como último recurso para versões da biblioteca
// que não preenchem o código.
func classifyClose(info *protocol.DisconnectInfo, manual, recovered bool, cfg Config) closeDecision {
	if manual {
		return closeDecision{action: actionIgnore, reason: "manual"}
	}

	var code int
	var message string
	if info != nil {
		code = info.StatusCode
		message = info.Message
	}

	if code == protocol.CodeLoggedOut || containsLogoutHint(message) {
		return closeDecision{action: actionLoggedOut, reason: "logged_out"}
	}

	switch code {
	case protocol.CodeConnectionReplaced:
		if recovered {
			return closeDecision{action: actionReconnect, delay: cfg.RecoveredReconnectInterval, reason: "connection_replaced"}
		}
		return closeDecision{action: actionReplaced, reason: "connection_replaced"}
	case protocol.CodeBadSession:
		return closeDecision{action: actionBadSession, reason: "bad_session"}
	case protocol.CodeRestartRequired:
		return closeDecision{action: actionRestart, reason: "restart_required"}
	case protocol.CodeTimedOut:
		if recovered {
			return closeDecision{action: actionReconnect, delay: cfg.RecoveredReconnectInterval, reason: "timed_out"}
		}
		return closeDecision{action: actionReconnect, delay: cfg.TimedOutReconnectInterval, reason: "timed_out"}
	}

	delay := cfg.ReconnectInterval
	if recovered {
		delay = cfg.RecoveredReconnectInterval
	}
	return closeDecision{action: actionReconnect, delay: delay, reason: "connection_lost"}
}

func containsLogoutHint(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "stream errored (conflict)") ||
		strings.Contains(lower, "conflict") ||
		strings.Contains(lower, "logged out")
}
