package protocol

import (
	"context"
	"time"
)

// Client é o contrato da biblioteca de protocolo para uma sessão.
// A engine trata a implementação como caixa-preta: eventos chegam pelo
// canal de Events e comandos saem pelos métodos abaixo.
type Client interface {
	// Connect abre o socket; eventos de conexão chegam pelo canal
	Connect(ctx context.Context) error

	// Logout invalida o dispositivo nos servidores do WhatsApp
	Logout(ctx context.Context) error

	// End fecha o socket sem invalidar credenciais
	End()

	// SendMessage envia um payload já montado para o destinatário
	SendMessage(ctx context.Context, to string, payload *MessagePayload) (*SendResult, error)

	// SendPresence publica o estado de presença (available, composing, paused)
	SendPresence(ctx context.Context, state PresenceState, to string) error

	// MarkRead marca mensagens como lidas
	MarkRead(ctx context.Context, to string, messageIDs []string) error

	IsConnected() bool
	IsAuthenticated() bool

	// UserJID retorna o JID autenticado (vazio antes do pareamento)
	UserJID() string

	// PushName retorna o nome de exibição do usuário autenticado
	PushName() string

	// Events entrega os eventos da sessão em ordem de chegada
	Events() <-chan Event
}

// Factory cria instâncias de Client a partir do material de autenticação
type Factory interface {
	// NewClient monta um cliente sobre o diretório de auth da sessão
	NewClient(ctx context.Context, sessionID, authDir string) (Client, error)
}

// PresenceState enumera os estados de presença suportados
type PresenceState string

const (
	PresenceAvailable   PresenceState = "available"
	PresenceUnavailable PresenceState = "unavailable"
	PresenceComposing   PresenceState = "composing"
	PresencePaused      PresenceState = "paused"
)

// SendResult é o resultado de um envio bem-sucedido
type SendResult struct {
	MessageID string
	Timestamp time.Time
}
