package protocol

import (
	"context"
	"fmt"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Config ajusta o comportamento dos clientes criados pela factory
type Config struct {
	// Exibir o QR code no terminal ao receber um desafio
	DisplayQRInTerminal bool
}

// WhatsmeowFactory cria clientes de protocolo sobre o whatsmeow. Cada
// sessão recebe seu próprio device store em um arquivo creds.db dentro
// do diretório de autenticação da sessão, o que torna snapshot e
// restore operações puras de arquivo.
type WhatsmeowFactory struct {
	cfg    Config
	logger logger.Logger
}

// NewFactory cria a factory de clientes whatsmeow
func NewFactory(cfg Config, log logger.Logger) *WhatsmeowFactory {
	return &WhatsmeowFactory{
		cfg:    cfg,
		logger: log.WithComponent("whatsmeow-factory"),
	}
}

// NewClient monta um cliente para a sessão sobre o diretório de auth
func (f *WhatsmeowFactory) NewClient(ctx context.Context, sessionID, authDir string) (protocol.Client, error) {
	dbPath := filepath.Join(authDir, "creds.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", dbPath)

	log := f.logger.WithField("session_id", sessionID)
	waLogger := logger.NewProtocolLogger(log)

	container, err := sqlstore.New(ctx, "sqlite", dsn, waLogger.Sub("sqlstore"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLogger)
	client.EnableAutoReconnect = false

	return newClient(sessionID, client, f.cfg, log), nil
}
