package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/wobterm/schema"
)

type contextKey int

const (
	tagKey contextKey = iota
	remoteKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTag annotates the logger with the client tag if present.
func WithTag(ctx context.Context, tag schema.Tag) pslog.Logger {
	log := pslog.Ctx(ctx)
	if tag != "" {
		if current, ok := ctx.Value(tagKey).(schema.Tag); ok && current == tag {
			return log
		}
		log = log.With("tag", tag)
	}
	return log
}

// WithWob annotates the logger with a wob id.
func WithWob(log pslog.Logger, id schema.WobID) pslog.Logger {
	return log.With("wob", int64(id))
}

// WithRemote annotates the logger with SSH peer details when available.
func WithRemote(log pslog.Logger, user, addr string) pslog.Logger {
	if user != "" {
		log = log.With("ssh_user", user)
	}
	if addr != "" {
		log = log.With("remote", addr)
	}
	return log
}

// ContextWithTag stores the tag marker on the context for log de-duplication.
func ContextWithTag(ctx context.Context, tag schema.Tag) context.Context {
	if ctx == nil || tag == "" {
		return ctx
	}
	return context.WithValue(ctx, tagKey, tag)
}

// ContextWithTagLogger attaches the logger and tag marker to the context.
func ContextWithTagLogger(ctx context.Context, log pslog.Logger, tag schema.Tag) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTag(ctx, tag)
}

// CopyContextFields copies the tag marker from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if tag, ok := src.Value(tagKey).(schema.Tag); ok && tag != "" {
		dst = ContextWithTag(dst, tag)
	}
	return dst
}
