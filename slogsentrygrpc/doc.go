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

// Package slogsentrygrpc attaches gRPC call metadata to slogsentry reports.
// The interceptors store a [RequestInfo] in each RPC context and continue
// trace context from incoming metadata. Importing the package registers the
// "grpc" processor, which copies the RequestInfo into the "rpc" diagnostic
// field of every report made with the RPC context.
//
// Server setup:
//
//	h, _ := slogsentry.NewHandler(slogsentry.WithProcessors("grpc", "trace"))
//	logger := slog.New(h)
//	srv := grpc.NewServer(slogsentrygrpc.ServerOptions(
//		slogsentrygrpc.WithLogger(logger),
//		slogsentrygrpc.WithRecoverPanics(true),
//		slogsentrygrpc.WithReportCodes(codes.Internal, codes.Unknown),
//	)...)
package slogsentrygrpc
