package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/engine"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Message é o registro persistido de uma mensagem enviada
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	SessionID string    `bun:"session_id,notnull"`
	Direction string    `bun:"direction,notnull"`
	To        string    `bun:"recipient,notnull"`
	Type      string    `bun:"type,notnull"`
	Content   string    `bun:"content"`
	MessageID string    `bun:"message_id"`
	Status    string    `bun:"status,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// MessageRepository grava o log de mensagens enviadas no Postgres
type MessageRepository struct {
	db     *bun.DB
	logger logger.Logger
}

// NewMessageRepository cria o repositório do log de mensagens
func NewMessageRepository(db *bun.DB, log logger.Logger) *MessageRepository {
	return &MessageRepository{
		db:     db,
		logger: log.WithComponent("message-log"),
	}
}

// LogOutbound persiste uma mensagem enviada
func (r *MessageRepository) LogOutbound(ctx context.Context, rec engine.OutboundRecord) error {
	msg := &Message{
		ID:        uuid.New(),
		SessionID: rec.SessionID,
		Direction: "outbound",
		To:        rec.To,
		Type:      rec.Type,
		Content:   rec.Content,
		MessageID: rec.MessageID,
		Status:    rec.Status,
		CreatedAt: time.Now(),
	}

	_, err := r.db.NewInsert().Model(msg).Exec(ctx)
	return err
}

// ListBySession retorna as mensagens mais recentes de uma sessão
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]engine.OutboundRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var messages []Message
	err := r.db.NewSelect().
		Model(&messages).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]engine.OutboundRecord, len(messages))
	for i, m := range messages {
		records[i] = engine.OutboundRecord{
			SessionID: m.SessionID,
			To:        m.To,
			Type:      m.Type,
			Content:   m.Content,
			MessageID: m.MessageID,
			Status:    m.Status,
			CreatedAt: m.CreatedAt,
		}
	}
	return records, nil
}
