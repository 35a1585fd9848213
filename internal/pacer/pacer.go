package pacer

import (
	"context"
	"math/rand"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/domain/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Delay descreve um intervalo aleatório em milissegundos
type Delay struct {
	MinMs int
	MaxMs int
}

// Pick sorteia uma duração dentro do intervalo
func (d Delay) Pick(rng *rand.Rand) time.Duration {
	if d.MaxMs <= d.MinMs {
		return time.Duration(d.MinMs) * time.Millisecond
	}
	ms := d.MinMs + rng.Intn(d.MaxMs-d.MinMs+1)
	return time.Duration(ms) * time.Millisecond
}

// Config define os intervalos de cada fase da simulação
type Config struct {
	Read    Delay
	Typing  Delay
	PreSend Delay
}

// DefaultConfig retorna os intervalos padrão de comportamento humano
func DefaultConfig() Config {
	return Config{
		Read:    Delay{MinMs: 300, MaxMs: 500},
		Typing:  Delay{MinMs: 1000, MaxMs: 2000},
		PreSend: Delay{MinMs: 400, MaxMs: 1000},
	}
}

// Presencer é o subconjunto do cliente de protocolo usado pela simulação
type Presencer interface {
	SendPresence(ctx context.Context, state protocol.PresenceState, to string) error
}

// Pacer aplica a coreografia de presença e digitação antes de cada envio
type Pacer struct {
	cfg    Config
	rng    *rand.Rand
	logger logger.Logger
}

// New cria um pacer com a configuração informada. A fonte de aleatoriedade
// é injetável para permitir testes determinísticos.
func New(cfg Config, rng *rand.Rand, log logger.Logger) *Pacer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pacer{
		cfg:    cfg,
		rng:    rng,
		logger: log.WithComponent("pacer"),
	}
}

// Apply executa a sequência: ler, ficar disponível, digitar, pausar e
// aguardar antes do envio. Falhas de presença não impedem o envio.
func (p *Pacer) Apply(ctx context.Context, client Presencer, to string) error {
	if err := p.sleep(ctx, p.cfg.Read.Pick(p.rng)); err != nil {
		return err
	}

	p.presence(ctx, client, protocol.PresenceAvailable, to)
	p.presence(ctx, client, protocol.PresenceComposing, to)

	if err := p.sleep(ctx, p.cfg.Typing.Pick(p.rng)); err != nil {
		return err
	}

	p.presence(ctx, client, protocol.PresencePaused, to)

	return p.sleep(ctx, p.cfg.PreSend.Pick(p.rng))
}

// Finish restaura a presença após o envio
func (p *Pacer) Finish(ctx context.Context, client Presencer, to string) {
	p.presence(ctx, client, protocol.PresenceAvailable, to)
}

func (p *Pacer) presence(ctx context.Context, client Presencer, state protocol.PresenceState, to string) {
	if err := client.SendPresence(ctx, state, to); err != nil {
		p.logger.Debug().
			Err(err).
			Str("state", string(state)).
			Str("to", to).
			Msg("Presence update failed, continuing send")
	}
}

func (p *Pacer) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
