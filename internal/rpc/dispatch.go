package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"community-chat/server/pkg/models"
)

// Dispatcher routes one Call to exactly one handler operation. It is
// stateless and call-scoped: concurrent calls share nothing but the
// handler collaborator, which keeps its own synchronization.
type Dispatcher struct {
	handlers Handlers
	log      *slog.Logger
}

func NewDispatcher(handlers Handlers, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{handlers: handlers, log: log}
}

// Dispatch validates the call's endpoint, branches on method and path, and
// invokes the selected handler. Every rejection path logs the offending
// raw value before returning ErrInvalidRequest; handler outcomes are
// propagated unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (Reply, error) {
	callID := fmt.Sprintf("call_%d", time.Now().UnixNano())

	u, err := url.Parse(call.Endpoint)
	if err != nil || u.Path == "" {
		d.log.Warn("rejecting call with unparseable endpoint",
			"call_id", callID, "endpoint", call.Endpoint, "err", err)
		return Reply{}, ErrInvalidRequest
	}

	switch call.Method {
	case http.MethodGet:
		return d.dispatchGet(ctx, callID, call, u)
	case http.MethodPost:
		return d.dispatchPost(ctx, callID, call, u)
	case http.MethodDelete:
		return d.dispatchDelete(ctx, callID, call, u)
	default:
		d.log.Warn("rejecting call with unsupported method",
			"call_id", callID, "method", call.Method)
		return Reply{}, ErrInvalidRequest
	}
}

func (d *Dispatcher) dispatchGet(ctx context.Context, callID string, call Call, u *url.URL) (Reply, error) {
	opts := QueryOptions{}
	if u.RawQuery != "" {
		var err error
		opts, err = decodeQueryOptions(u.RawQuery)
		if err != nil {
			d.log.Warn("rejecting call with undecodable query options",
				"call_id", callID, "query", u.RawQuery, "err", err)
			return Reply{}, ErrInvalidRequest
		}
	}

	switch u.Path {
	case "/messages":
		return d.handlers.ListMessages(ctx, opts)
	case "/deleted_messages":
		return d.handlers.ListDeletedMessages(ctx, opts)
	case "/moderators":
		return d.handlers.ListModerators(ctx)
	case "/block_list":
		return d.handlers.ListBannedKeys(ctx)
	case "/member_count":
		return d.handlers.MemberCount(ctx)
	default:
		d.log.Warn("rejecting call with unroutable endpoint",
			"call_id", callID, "method", call.Method, "endpoint", call.Endpoint)
		return Reply{}, ErrInvalidRequest
	}
}

func (d *Dispatcher) dispatchPost(ctx context.Context, callID string, call Call, u *url.URL) (Reply, error) {
	switch u.Path {
	case "/messages":
		// Syntactic decodability only; the insertion handler owns the
		// message schema and its validation.
		var msg models.Message
		if err := json.Unmarshal([]byte(call.Body), &msg); err != nil {
			d.log.Warn("rejecting call with undecodable message body",
				"call_id", callID, "body", call.Body, "err", err)
			return Reply{}, ErrInvalidRequest
		}
		return d.handlers.InsertMessage(ctx, msg)
	case "/block_list":
		return d.handlers.Ban(ctx, call.Body)
	default:
		d.log.Warn("rejecting call with unroutable endpoint",
			"call_id", callID, "method", call.Method, "endpoint", call.Endpoint)
		return Reply{}, ErrInvalidRequest
	}
}

func (d *Dispatcher) dispatchDelete(ctx context.Context, callID string, call Call, u *url.URL) (Reply, error) {
	// DELETE /messages/:server_id
	if strings.HasPrefix(u.Path, "/messages") {
		components := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
		if len(components) != 2 {
			d.log.Warn("rejecting delete with wrong segment count",
				"call_id", callID, "endpoint", call.Endpoint)
			return Reply{}, ErrInvalidRequest
		}
		serverID, err := strconv.ParseInt(components[1], 10, 64)
		if err != nil {
			d.log.Warn("rejecting delete with non-numeric message id",
				"call_id", callID, "endpoint", call.Endpoint, "err", err)
			return Reply{}, ErrInvalidRequest
		}
		return d.handlers.DeleteMessage(ctx, serverID)
	}
	// DELETE /block_list/:public_key
	if strings.HasPrefix(u.Path, "/block_list") {
		components := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
		if len(components) != 2 {
			d.log.Warn("rejecting unban with wrong segment count",
				"call_id", callID, "endpoint", call.Endpoint)
			return Reply{}, ErrInvalidRequest
		}
		// The key is taken verbatim; format checks belong to the handler.
		return d.handlers.Unban(ctx, components[1])
	}
	d.log.Warn("rejecting call with unroutable endpoint",
		"call_id", callID, "method", call.Method, "endpoint", call.Endpoint)
	return Reply{}, ErrInvalidRequest
}
