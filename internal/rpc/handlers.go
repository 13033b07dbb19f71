package rpc

import (
	"context"

	"community-chat/server/pkg/models"
)

// Handlers is the set of business-logic collaborators the dispatcher can
// route to. Implementations own the storage access and its pooling
// discipline; the dispatcher only selects the operation and hands over the
// decoded input. Whatever a handler returns, result or error, is passed
// through to the transport unchanged.
type Handlers interface {
	ListMessages(ctx context.Context, opts QueryOptions) (Reply, error)
	ListDeletedMessages(ctx context.Context, opts QueryOptions) (Reply, error)
	ListModerators(ctx context.Context) (Reply, error)
	ListBannedKeys(ctx context.Context) (Reply, error)
	MemberCount(ctx context.Context) (Reply, error)
	InsertMessage(ctx context.Context, msg models.Message) (Reply, error)
	Ban(ctx context.Context, rawBody string) (Reply, error)
	DeleteMessage(ctx context.Context, serverID int64) (Reply, error)
	Unban(ctx context.Context, publicKey string) (Reply, error)
}
