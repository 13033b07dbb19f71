package handlers

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"community-chat/server/internal/rpc"
	"community-chat/server/internal/storage"
	"community-chat/server/pkg/models"
)

var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrBanned           = errors.New("public key is banned")
)

const (
	defaultListLimit = 256
	// Members count as present while they have been active inside this
	// window; overridable through config.
	defaultActivityWindow = 7 * 24 * time.Hour
)

// Service implements the handler operations the dispatcher routes to.
// It owns all storage access; the dispatcher never touches the database.
type Service struct {
	store  *storage.Store
	window time.Duration
}

func New(store *storage.Store, activityWindow time.Duration) *Service {
	if activityWindow <= 0 {
		activityWindow = defaultActivityWindow
	}
	return &Service{store: store, window: activityWindow}
}

func (s *Service) ListMessages(ctx context.Context, opts rpc.QueryOptions) (rpc.Reply, error) {
	limit, from := resolveOptions(opts)
	messages, err := s.store.Messages(ctx, limit, from)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK, Payload: map[string]any{"messages": messages}}, nil
}

func (s *Service) ListDeletedMessages(ctx context.Context, opts rpc.QueryOptions) (rpc.Reply, error) {
	limit, from := resolveOptions(opts)
	markers, err := s.store.DeletionMarkers(ctx, limit, from)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK, Payload: map[string]any{"deleted_messages": markers}}, nil
}

func (s *Service) ListModerators(ctx context.Context) (rpc.Reply, error) {
	moderators, err := s.store.Moderators(ctx)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK, Payload: map[string]any{"moderators": moderators}}, nil
}

func (s *Service) ListBannedKeys(ctx context.Context) (rpc.Reply, error) {
	keys, err := s.store.BannedKeys(ctx)
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK, Payload: map[string]any{"banned_members": keys}}, nil
}

func (s *Service) MemberCount(ctx context.Context) (rpc.Reply, error) {
	count, err := s.store.MemberCount(ctx, time.Now().Add(-s.window))
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK, Payload: map[string]any{"member_count": count}}, nil
}

func (s *Service) InsertMessage(ctx context.Context, msg models.Message) (rpc.Reply, error) {
	if err := validateMessage(msg); err != nil {
		return rpc.Reply{}, err
	}
	banned, err := s.store.IsBanned(ctx, msg.PublicKey)
	if err != nil {
		return rpc.Reply{}, err
	}
	if banned {
		return rpc.Reply{}, ErrBanned
	}
	saved, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		return rpc.Reply{}, err
	}
	if err := s.store.TouchMember(ctx, saved.PublicKey, time.Now()); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK, Payload: map[string]any{"message": saved}}, nil
}

// Ban decodes its own body; the dispatcher hands it over raw.
func (s *Service) Ban(ctx context.Context, rawBody string) (rpc.Reply, error) {
	var payload struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal([]byte(rawBody), &payload); err != nil {
		return rpc.Reply{}, ErrInvalidPublicKey
	}
	if !isHexKey(payload.PublicKey) {
		return rpc.Reply{}, ErrInvalidPublicKey
	}
	if err := s.store.Ban(ctx, payload.PublicKey); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK}, nil
}

func (s *Service) DeleteMessage(ctx context.Context, serverID int64) (rpc.Reply, error) {
	if err := s.store.DeleteMessage(ctx, serverID); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK}, nil
}

// Unban is idempotent: removing a key that is not banned still succeeds.
func (s *Service) Unban(ctx context.Context, publicKey string) (rpc.Reply, error) {
	if err := s.store.Unban(ctx, publicKey); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Status: http.StatusOK}, nil
}

func resolveOptions(opts rpc.QueryOptions) (limit int, from int64) {
	limit = defaultListLimit
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	if opts.FromServerID != nil {
		from = *opts.FromServerID
	}
	return limit, from
}

func validateMessage(msg models.Message) error {
	if msg.Data == "" || msg.Signature == "" {
		return ErrInvalidMessage
	}
	if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
		return ErrInvalidMessage
	}
	if _, err := base64.StdEncoding.DecodeString(msg.Signature); err != nil {
		return ErrInvalidMessage
	}
	if !isHexKey(msg.PublicKey) {
		return ErrInvalidPublicKey
	}
	return nil
}

func isHexKey(key string) bool {
	if key == "" {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}
