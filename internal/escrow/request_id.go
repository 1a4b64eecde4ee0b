package escrow

import "context"

type requestIDKey struct{}

// WithRequestID 在上下文中携带请求ID，写入命令流水
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID 取出请求ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
