package authstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// ObjectStorage abstrai o object store S3-compatível usado pelo worker
type ObjectStorage interface {
	// Put grava um objeto no bucket
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error

	// Get abre um objeto para leitura
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// List retorna as chaves sob um prefixo
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Remove apaga um objeto
	Remove(ctx context.Context, bucket, key string) error

	// PresignedGet gera uma URL temporária de download
	PresignedGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)

	// EnsureBucket cria o bucket se ainda não existir
	EnsureBucket(ctx context.Context, bucket string) error
}

// Buckets nomeia os três buckets usados pelo worker
type Buckets struct {
	Sessions string
	Media    string
	Backups  string
}

// Store persiste material de autenticação no filesystem local e o
// espelha no object store remoto nas transições relevantes.
type Store struct {
	root    string
	storage ObjectStorage
	buckets Buckets
	logger  logger.Logger
}

// NewStore cria o store de autenticação sobre o diretório raiz informado
func NewStore(root string, storage ObjectStorage, buckets Buckets, log logger.Logger) *Store {
	return &Store{
		root:    root,
		storage: storage,
		buckets: buckets,
		logger:  log.WithComponent("auth-store"),
	}
}

// EnsureBuckets garante a existência dos três buckets no object store
func (s *Store) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.buckets.Sessions, s.buckets.Media, s.buckets.Backups} {
		if err := s.storage.EnsureBucket(ctx, bucket); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// SessionDir retorna o diretório local da sessão
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// EnsureLocal cria (se necessário) e retorna o diretório local da sessão
func (s *Store) EnsureLocal(sessionID string) (string, error) {
	dir := s.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// HasLocal indica se a sessão possui material de autenticação local
func (s *Store) HasLocal(sessionID string) bool {
	entries, err := os.ReadDir(s.SessionDir(sessionID))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Snapshot copia todos os arquivos da sessão para o object store sob
// sessions/<sessionId>/. Chamado ao conectar e na preservação de shutdown.
func (s *Store) Snapshot(ctx context.Context, sessionID string) error {
	dir := s.SessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read session dir: %w", err)
	}

	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := s.uploadFile(ctx, sessionID, dir, entry.Name()); err != nil {
			return err
		}
		uploaded++
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Int("files", uploaded).
		Msg("Auth snapshot uploaded")
	return nil
}

func (s *Store) uploadFile(ctx context.Context, sessionID, dir, name string) error {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	key := sessionID + "/" + name
	if err := s.storage.Put(ctx, s.buckets.Sessions, key, f, info.Size(), "application/octet-stream"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Restore baixa o material da sessão do object store quando o diretório
// local está vazio ou ausente. Idempotente: arquivos locais vencem.
func (s *Store) Restore(ctx context.Context, sessionID string) error {
	if s.HasLocal(sessionID) {
		s.logger.Debug().
			Str("session_id", sessionID).
			Msg("Local auth present, skipping restore")
		return nil
	}

	dir, err := s.EnsureLocal(sessionID)
	if err != nil {
		return err
	}

	keys, err := s.storage.List(ctx, s.buckets.Sessions, sessionID+"/")
	if err != nil {
		return fmt.Errorf("list remote auth: %w", err)
	}

	for _, key := range keys {
		if err := s.downloadObject(ctx, dir, sessionID, key); err != nil {
			return err
		}
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("files", len(keys)).
		Msg("Auth restored from remote store")
	return nil
}

func (s *Store) downloadObject(ctx context.Context, dir, sessionID, key string) error {
	name := filepath.Base(key)
	obj, err := s.storage.Get(ctx, s.buckets.Sessions, key)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Close()

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, obj); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Purge remove o material local e os objetos remotos da sessão. Ambos os
// passos são best-effort; os erros são agregados no retorno.
func (s *Store) Purge(ctx context.Context, sessionID string) error {
	var errs []error

	if err := os.RemoveAll(s.SessionDir(sessionID)); err != nil {
		errs = append(errs, fmt.Errorf("remove local auth: %w", err))
	}

	keys, err := s.storage.List(ctx, s.buckets.Sessions, sessionID+"/")
	if err != nil {
		errs = append(errs, fmt.Errorf("list remote auth: %w", err))
	} else {
		for _, key := range keys {
			if err := s.storage.Remove(ctx, s.buckets.Sessions, key); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			}
		}
	}

	if len(errs) > 0 {
		s.logger.Warn().
			Str("session_id", sessionID).
			Int("errors", len(errs)).
			Msg("Auth purge completed with errors")
		return errors.Join(errs...)
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Msg("Auth purged locally and remotely")
	return nil
}

// UploadMedia envia um anexo de mensagem para o bucket de mídia e retorna
// uma URL presignada de download válida por uma hora.
func (s *Store) UploadMedia(ctx context.Context, sessionID, fileName, contentType string, data []byte) (string, error) {
	key := fmt.Sprintf("%s/%d-%s", sessionID, time.Now().UnixMilli(), fileName)

	if err := s.storage.Put(ctx, s.buckets.Media, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	url, err := s.storage.PresignedGet(ctx, s.buckets.Media, key, time.Hour)
	if err != nil {
		return "", fmt.Errorf("presign media: %w", err)
	}
	return url, nil
}
