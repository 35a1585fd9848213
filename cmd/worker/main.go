package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/app"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/app/config"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/app/server"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/router"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

func main() {
	// Carregar configuração
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Configurar logger usando as configurações do .env
	log := logger.Setup(cfg).WithComponent("main")

	log.WithFields(map[string]interface{}{
		"env":       cfg.App.Env,
		"port":      cfg.App.Port,
		"worker_id": cfg.Worker.ID,
	}).Info().Msg("Starting WhatsApp gateway worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Montar o grafo de dependências
	container, err := app.NewContainer(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal().Msg("Failed to initialize container")
	}

	// Configurar router e servidor
	handler := router.New(cfg, log, container.SessionHandler, container.MessageHandler, container.HealthHandler)
	srv := server.New(cfg, handler, log)

	// Canal para capturar sinais do sistema
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Iniciar servidor em goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal().Msg("Failed to start server")
		}
	}()

	// Registro no backend, heartbeat e recuperação fora do caminho de boot
	if container.Registry != nil {
		go func() {
			resp, err := container.Registry.Register(ctx)
			if err != nil {
				log.WithError(err).Error().Msg("Worker registration failed; continuing unregistered")
				return
			}

			go container.Registry.RunHeartbeat(ctx, container.Engine)

			if resp.RecoveryRequired && container.Recovery != nil {
				if err := container.Recovery.RunStartupRecovery(ctx); err != nil {
					log.WithError(err).Error().Msg("Session recovery failed")
				}
			}
		}()
	}

	container.HealthHandler.SetReady(true)
	log.Info().Msg("Worker started successfully")

	// Aguardar sinal de parada
	<-stop
	log.Info().Msg("Shutdown signal received")

	// Graceful shutdown: parar HTTP, preservar sessões, desregistrar,
	// encerrar o núcleo
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownFailed := false

	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error().Msg("Error during server shutdown")
		shutdownFailed = true
	}

	if container.Recovery != nil {
		preserved := container.Recovery.PreserveSessions(shutdownCtx)
		log.WithField("count", len(preserved)).Info().Msg("Sessions preserved")
	}

	if container.Registry != nil {
		container.Registry.Unregister(shutdownCtx)
	}

	cancel()

	if err := container.Close(); err != nil {
		log.WithError(err).Error().Msg("Error closing container")
		shutdownFailed = true
	}

	if shutdownFailed {
		os.Exit(1)
	}

	log.Info().Msg("Worker stopped")
}
