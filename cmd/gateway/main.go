// Copyright 2025 FieldLine
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

// Package main is the entry point for the FieldLine AI gateway.
//
// The gateway is the LLM routing and workflow execution service:
// - Resolves execution context from service headers, service credentials,
//   or interactive sessions
// - Routes completions across tenant-configured providers with failover
// - Classifies free-text intent into deterministic tool-call plans
// - Executes plans against internal REST endpoints, the tool RPC service,
//   and the client
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis connection string (optional; disables rate/budget
//	  tracking when unset)
//	OPENAI_API_KEY - OpenAI API key (optional)
//	ANTHROPIC_API_KEY - Anthropic API key (optional)
//	AWS_REGION - AWS region for Bedrock providers (optional)
//	LLM_CREDENTIAL_KEY - key for decrypting stored provider credentials
//	INTERNAL_SERVICE_SECRET - shared secret for service-to-service calls
//	SESSION_JWT_SECRET - HMAC secret for session validation
//	TOOL_RPC_ENDPOINT - internal tool RPC endpoint
//	INTERNAL_API_BASE - base URL of the internal REST API
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fieldline/platform/gateway"
	"fieldline/platform/shared/logger"
)

func main() {
	log := logger.New("gateway-main")

	server, err := gateway.NewServer(gateway.ConfigFromEnv())
	if err != nil {
		log.Error("", "", "gateway startup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		log.Error("", "", "gateway terminated", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
