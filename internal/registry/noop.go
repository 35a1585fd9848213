package registry

import (
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/session"
)

// NoopNotifier descarta todas as notificações. Usado em modo standalone,
// quando o worker opera sem backend.
type NoopNotifier struct{}

func (NoopNotifier) NotifySessionStatus(session.StatusUpdate) {}

func (NoopNotifier) NotifyMessageStatus(string, protocol.MessageStatusUpdate) {}
