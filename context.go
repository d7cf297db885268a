package authcore

import "context"

type requestMetaKey struct{}

// requestMeta is what the transport layer knows about the caller.
type requestMeta struct {
	ip        string
	userAgent string
}

func metaFrom(ctx context.Context) requestMeta {
	if ctx == nil {
		return requestMeta{}
	}
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

// WithClientIP records the caller's address on ctx. Issued refresh records
// and audit events pick it up.
func WithClientIP(ctx context.Context, ip string) context.Context {
	m := metaFrom(ctx)
	m.ip = ip
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// WithUserAgent records the raw User-Agent header on ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	m := metaFrom(ctx)
	m.userAgent = userAgent
	return context.WithValue(ctx, requestMetaKey{}, m)
}

func clientIPFromContext(ctx context.Context) string {
	return metaFrom(ctx).ip
}

// deviceFromContext fills blanks in device from the request metadata.
// Explicit values win.
func deviceFromContext(ctx context.Context, device DeviceInfo) DeviceInfo {
	m := metaFrom(ctx)
	if device.IPAddress == "" {
		device.IPAddress = m.ip
	}
	if device.UserAgent == "" {
		device.UserAgent = m.userAgent
	}
	return device
}
