package protocol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// client adapta um *whatsmeow.Client ao contrato de protocolo do worker.
// Eventos do whatsmeow e itens do canal de QR são convertidos para o
// modelo de eventos do domínio e entregues por um único canal.
type client struct {
	sessionID string
	wa        *whatsmeow.Client
	cfg       Config
	logger    logger.Logger

	events    chan protocol.Event
	closeOnce sync.Once
	handlerID uint32
}

func newClient(sessionID string, wa *whatsmeow.Client, cfg Config, log logger.Logger) *client {
	c := &client{
		sessionID: sessionID,
		wa:        wa,
		cfg:       cfg,
		logger:    log,
		events:    make(chan protocol.Event, 64),
	}
	c.handlerID = wa.AddEventHandler(c.handleEvent)
	return c
}

// Connect abre o socket. Sessões sem device pareado recebem os desafios
// de QR pelo canal de eventos.
func (c *client) Connect(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		qrChan, err := c.wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go c.consumeQRChannel(qrChan)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// consumeQRChannel converte os itens do canal de QR em eventos de
// conexão. O canal fecha quando o pareamento conclui ou expira.
func (c *client) consumeQRChannel(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			if c.cfg.DisplayQRInTerminal {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			}
			c.emit(protocol.ConnectionUpdate{QR: item.Code})
		case "success":
			// O evento Connected cobre a transição
		case "timeout":
			c.emit(protocol.ConnectionUpdate{
				State: protocol.ConnectionClose,
				Disconnect: &protocol.DisconnectInfo{
					StatusCode: protocol.CodeTimedOut,
					Message:    "qr pairing timed out",
				},
			})
		default:
			if item.Error != nil {
				c.emit(protocol.ConnectionUpdate{
					State: protocol.ConnectionClose,
					Disconnect: &protocol.DisconnectInfo{
						Message: item.Error.Error(),
					},
				})
			}
		}
	}
}

// handleEvent mapeia os eventos do whatsmeow para o modelo do domínio
func (c *client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.emit(protocol.ConnectionUpdate{State: protocol.ConnectionOpen})

	case *events.PushNameSetting:
		// Atualização de nome após o connect; nada a propagar

	case *events.LoggedOut:
		c.emit(protocol.ConnectionUpdate{
			State: protocol.ConnectionClose,
			Disconnect: &protocol.DisconnectInfo{
				StatusCode: int(e.Reason),
				Message:    "logged out: " + e.Reason.String(),
			},
		})

	case *events.StreamReplaced:
		c.emit(protocol.ConnectionUpdate{
			State: protocol.ConnectionClose,
			Disconnect: &protocol.DisconnectInfo{
				StatusCode: protocol.CodeConnectionReplaced,
				Message:    "stream replaced by another connection",
			},
		})

	case *events.ConnectFailure:
		c.emit(protocol.ConnectionUpdate{
			State: protocol.ConnectionClose,
			Disconnect: &protocol.DisconnectInfo{
				StatusCode: int(e.Reason),
				Message:    e.Message,
			},
		})

	case *events.StreamError:
		message := "stream error"
		if e.Code != "" {
			message = "Stream Errored (" + e.Code + ")"
		}
		c.emit(protocol.ConnectionUpdate{
			State: protocol.ConnectionClose,
			Disconnect: &protocol.DisconnectInfo{
				Message: message,
			},
		})

	case *events.Disconnected:
		c.emit(protocol.ConnectionUpdate{
			State: protocol.ConnectionClose,
			Disconnect: &protocol.DisconnectInfo{
				Message: "connection closed",
			},
		})

	case *events.TemporaryBan:
		c.emit(protocol.ConnectionUpdate{
			State: protocol.ConnectionClose,
			Disconnect: &protocol.DisconnectInfo{
				StatusCode: protocol.CodeLoggedOut,
				Message:    "temporary ban: " + e.Code.String(),
			},
		})

	case *events.Receipt:
		c.emitReceipt(e)

	case *events.AppStateSyncComplete:
		c.emit(protocol.CredsUpdate{At: time.Now()})
	}
}

// emitReceipt converte recibos de entrega em atualizações de status
func (c *client) emitReceipt(e *events.Receipt) {
	var status string
	switch e.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead:
		status = "read"
	default:
		return
	}

	for _, id := range e.MessageIDs {
		c.emit(protocol.MessageStatusUpdate{
			MessageID: id,
			To:        e.Chat.String(),
			Status:    status,
			At:        e.Timestamp,
		})
	}
}

// emit entrega o evento sem bloquear o handler do whatsmeow. Um canal
// cheio indica consumidor travado; o evento é descartado com log.
func (c *client) emit(ev protocol.Event) {
	defer func() {
		// Canal fechado por End durante a entrega
		_ = recover()
	}()
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Msg("Event channel full, dropping protocol event")
	}
}

// Logout invalida o dispositivo nos servidores do WhatsApp
func (c *client) Logout(ctx context.Context) error {
	return c.wa.Logout(ctx)
}

// End fecha o socket e o canal de eventos sem tocar as credenciais
func (c *client) End() {
	c.wa.RemoveEventHandler(c.handlerID)
	c.wa.Disconnect()
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

func (c *client) IsConnected() bool {
	return c.wa.IsConnected()
}

func (c *client) IsAuthenticated() bool {
	return c.wa.IsLoggedIn()
}

// UserJID retorna o JID autenticado (vazio antes do pareamento)
func (c *client) UserJID() string {
	if c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.String()
}

// PushName retorna o nome de exibição do usuário autenticado
func (c *client) PushName() string {
	return c.wa.Store.PushName
}

func (c *client) Events() <-chan protocol.Event {
	return c.events
}

// SendPresence publica presença global ou de chat conforme o estado
func (c *client) SendPresence(ctx context.Context, state protocol.PresenceState, to string) error {
	switch state {
	case protocol.PresenceAvailable:
		return c.wa.SendPresence(types.PresenceAvailable)
	case protocol.PresenceUnavailable:
		return c.wa.SendPresence(types.PresenceUnavailable)
	case protocol.PresenceComposing:
		jid, err := parseRecipient(to)
		if err != nil {
			return err
		}
		return c.wa.SendChatPresence(jid, types.ChatPresenceComposing, "")
	case protocol.PresencePaused:
		jid, err := parseRecipient(to)
		if err != nil {
			return err
		}
		return c.wa.SendChatPresence(jid, types.ChatPresencePaused, "")
	}
	return fmt.Errorf("unknown presence state %q", state)
}

// MarkRead marca as mensagens como lidas no chat do destinatário
func (c *client) MarkRead(ctx context.Context, to string, messageIDs []string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}

	ids := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, types.MessageID(id))
	}

	return c.wa.MarkRead(ids, time.Now(), jid, jid)
}

// parseRecipient converte número puro ou JID completo em types.JID
func parseRecipient(to string) (types.JID, error) {
	if strings.ContainsRune(to, '@') {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}

	number := strings.TrimPrefix(to, "+")
	return types.NewJID(number, types.DefaultUserServer), nil
}
