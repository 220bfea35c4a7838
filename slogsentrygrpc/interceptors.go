// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slogsentrygrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pjscruggs/slogsentry"
)

// UnaryServerInterceptor attaches a RequestInfo to the context of unary RPCs.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	cfg := newServerConfig(opts)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		ctx, requestInfo := startServerRPC(ctx, cfg, info.FullMethod, "unary")
		if cfg.includeSizes {
			requestInfo.recordRequest(req)
		}

		defer func() {
			panicked := false
			if cfg.recoverPanics {
				if r := recover(); r != nil {
					err = reportPanic(ctx, cfg, r)
					panicked = true
				}
			}
			requestInfo.finalize(status.Code(err), time.Since(start))
			if !panicked {
				reportFailure(ctx, cfg, err)
			}
		}()

		resp, err = handler(ctx, req)
		if cfg.includeSizes && err == nil {
			requestInfo.recordResponse(resp)
		}
		return resp, err
	}
}

// StreamServerInterceptor attaches a RequestInfo to the context of streaming
// RPCs.
func StreamServerInterceptor(opts ...Option) grpc.StreamServerInterceptor {
	cfg := newServerConfig(opts)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		ctx, requestInfo := startServerRPC(ss.Context(), cfg, info.FullMethod, streamKind(info))

		defer func() {
			panicked := false
			if cfg.recoverPanics {
				if r := recover(); r != nil {
					err = reportPanic(ctx, cfg, r)
					panicked = true
				}
			}
			requestInfo.finalize(status.Code(err), time.Since(start))
			if !panicked {
				reportFailure(ctx, cfg, err)
			}
		}()

		return handler(srv, &serverStream{
			ServerStream: ss,
			ctx:          ctx,
			info:         requestInfo,
			cfg:          cfg,
		})
	}
}

// UnaryClientInterceptor attaches a RequestInfo to outgoing unary RPCs and
// injects trace metadata.
func UnaryClientInterceptor(opts ...Option) grpc.UnaryClientInterceptor {
	cfg := applyOptions(opts)

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		start := time.Now()
		requestInfo := newRequestInfo(method, "unary", true, start)
		if cfg.includeSizes {
			requestInfo.recordRequest(req)
		}
		ctx = outgoingContext(contextWithInfo(ctx, requestInfo), cfg)

		err := invoker(ctx, method, req, reply, cc, callOpts...)
		if cfg.includeSizes && err == nil {
			requestInfo.recordResponse(reply)
		}
		requestInfo.finalize(status.Code(err), time.Since(start))
		return err
	}
}

// StreamClientInterceptor attaches a RequestInfo to outgoing streaming RPCs
// and injects trace metadata.
func StreamClientInterceptor(opts ...Option) grpc.StreamClientInterceptor {
	cfg := applyOptions(opts)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		start := time.Now()
		requestInfo := newRequestInfo(method, clientStreamKind(desc), true, start)
		ctx = outgoingContext(contextWithInfo(ctx, requestInfo), cfg)

		cs, err := streamer(ctx, desc, cc, method, callOpts...)
		if err != nil {
			requestInfo.finalize(status.Code(err), time.Since(start))
			return nil, err
		}
		return &clientStreamWrapper{
			ClientStream: cs,
			cfg:          cfg,
			info:         requestInfo,
			start:        start,
		}, nil
	}
}

// ServerOptions returns grpc.ServerOptions that install the otelgrpc stats
// handler and the slogsentry interceptors.
func ServerOptions(opts ...Option) []grpc.ServerOption {
	cfg := applyOptions(opts)
	var serverOpts []grpc.ServerOption

	if cfg.enableOTel {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler(statsHandlerOptions(cfg)...)))
	}

	return append(serverOpts,
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(opts...)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(opts...)),
	)
}

// DialOptions returns grpc.DialOptions that install the otelgrpc stats
// handler and the client interceptors.
func DialOptions(opts ...Option) []grpc.DialOption {
	cfg := applyOptions(opts)
	var dialOpts []grpc.DialOption

	if cfg.enableOTel {
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler(statsHandlerOptions(cfg)...)))
	}

	return append(dialOpts,
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(opts...)),
		grpc.WithChainStreamInterceptor(StreamClientInterceptor(opts...)),
	)
}

// statsHandlerOptions configures otelgrpc instrumentation.
func statsHandlerOptions(cfg *config) []otelgrpc.Option {
	var opts []otelgrpc.Option
	if cfg.tracerProvider != nil {
		opts = append(opts, otelgrpc.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagatorsSet && cfg.propagators != nil {
		opts = append(opts, otelgrpc.WithPropagators(cfg.propagators))
	}
	for _, filter := range cfg.filters {
		opts = append(opts, otelgrpc.WithFilter(filter))
	}
	return opts
}

// newServerConfig applies opts and installs the global propagator when the
// caller relies on it.
func newServerConfig(opts []Option) *config {
	cfg := applyOptions(opts)
	if cfg.propagateTrace && !cfg.propagatorsSet {
		slogsentry.EnsurePropagation()
	}
	return cfg
}

// startServerRPC continues inbound trace context and attaches a RequestInfo.
func startServerRPC(ctx context.Context, cfg *config, fullMethod, kind string) (context.Context, *RequestInfo) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = ensureServerSpanContext(ctx, md, cfg)

	requestInfo := newRequestInfo(fullMethod, kind, false, time.Now())
	if cfg.includePeer {
		if peerAddr, ok := peerAddress(ctx); ok {
			requestInfo.setPeer(peerAddr)
		}
	}
	return contextWithInfo(ctx, requestInfo), requestInfo
}

// outgoingContext returns ctx with trace metadata injected into a copy of
// its outgoing metadata.
func outgoingContext(ctx context.Context, cfg *config) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}
	injectClientTrace(ctx, md, cfg)
	return metadata.NewOutgoingContext(ctx, md)
}

// reportPanic reports a recovered handler panic and returns the RPC error.
func reportPanic(ctx context.Context, cfg *config, r any) error {
	var err error
	if e, ok := r.(error); ok {
		err = fmt.Errorf("panic: %w", e)
	} else {
		err = fmt.Errorf("panic: %v", r)
	}
	slogsentry.ReportError(ctx, cfg.logger, err, "panic handling RPC")
	return status.Error(codes.Internal, "internal error")
}

// reportFailure reports err when its status code is configured for
// reporting.
func reportFailure(ctx context.Context, cfg *config, err error) {
	if err == nil || len(cfg.reportCodes) == 0 {
		return
	}
	code := status.Code(err)
	if _, ok := cfg.reportCodes[code]; !ok {
		return
	}
	slogsentry.ReportError(ctx, cfg.logger, err, "RPC failed",
		slogsentry.WithErrorAttrs(slog.String("grpc.code", code.String())))
}

// peerAddress extracts the remote host portion of the peer address in the context.
func peerAddress(ctx context.Context) (string, bool) {
	pr, ok := peer.FromContext(ctx)
	if !ok || pr == nil || pr.Addr == nil {
		return "", false
	}
	addr := pr.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host, true
	}
	return addr, true
}

// streamKind converts gRPC stream information into a canonical kind string.
func streamKind(info *grpc.StreamServerInfo) string {
	switch {
	case info.IsClientStream && info.IsServerStream:
		return "bidi_stream"
	case info.IsClientStream:
		return "client_stream"
	case info.IsServerStream:
		return "server_stream"
	default:
		return "unary"
	}
}

// clientStreamKind converts a StreamDesc into a canonical kind string.
func clientStreamKind(desc *grpc.StreamDesc) string {
	switch {
	case desc.ClientStreams && desc.ServerStreams:
		return "bidi_stream"
	case desc.ClientStreams:
		return "client_stream"
	case desc.ServerStreams:
		return "server_stream"
	default:
		return "unary"
	}
}

type serverStream struct {
	grpc.ServerStream
	ctx  context.Context
	info *RequestInfo
	cfg  *config
}

// Context returns the request context for the wrapped server stream.
func (s *serverStream) Context() context.Context {
	return s.ctx
}

// RecvMsg records inbound payload sizes before delegating to the underlying stream.
func (s *serverStream) RecvMsg(m any) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil && s.cfg.includeSizes {
		s.info.recordRequest(m)
	}
	return err
}

// SendMsg records outbound payload sizes before delegating to the underlying stream.
func (s *serverStream) SendMsg(m any) error {
	if s.cfg.includeSizes {
		s.info.recordResponse(m)
	}
	return s.ServerStream.SendMsg(m)
}

type clientStreamWrapper struct {
	grpc.ClientStream
	cfg   *config
	info  *RequestInfo
	start time.Time
	once  sync.Once
}

// SendMsg records outbound payload sizes and finalizes the request on error.
func (c *clientStreamWrapper) SendMsg(m any) error {
	if c.cfg.includeSizes {
		c.info.recordRequest(m)
	}
	err := c.ClientStream.SendMsg(m)
	if err != nil {
		c.finish(status.Code(err))
	}
	return err
}

// RecvMsg records inbound payload sizes and finalizes the request when the stream ends.
func (c *clientStreamWrapper) RecvMsg(m any) error {
	err := c.ClientStream.RecvMsg(m)
	if err == nil {
		if c.cfg.includeSizes {
			c.info.recordResponse(m)
		}
		return nil
	}
	if errors.Is(err, io.EOF) {
		c.finish(codes.OK)
	} else {
		c.finish(status.Code(err))
	}
	return err
}

// CloseSend closes the client stream and finalizes the request on error.
func (c *clientStreamWrapper) CloseSend() error {
	err := c.ClientStream.CloseSend()
	if err != nil {
		c.finish(status.Code(err))
	}
	return err
}

// finish finalizes the RequestInfo exactly once with the provided gRPC status code.
func (c *clientStreamWrapper) finish(code codes.Code) {
	c.once.Do(func() {
		c.info.finalize(code, time.Since(c.start))
	})
}
