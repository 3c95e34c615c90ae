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

package llm

import (
	"context"
	"io"

	"fieldline/platform/shared/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("test")
	log.SetOutput(io.Discard)
	return log
}

// stubSource is an in-memory ProviderSource.
type stubSource struct {
	providers   []ProviderRecord
	credentials map[string]string
	err         error
}

func (s *stubSource) GetProviders(ctx context.Context, accountID string) ([]ProviderRecord, error) {
	return s.providers, s.err
}

func (s *stubSource) GetProvidersByUseCase(ctx context.Context, useCase, accountID string) ([]ProviderRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []ProviderRecord
	for _, p := range s.providers {
		for _, uc := range p.UseCases {
			if uc == useCase {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (s *stubSource) GetDefaultProvider(ctx context.Context, accountID string) (ProviderRecord, error) {
	if s.err != nil {
		return ProviderRecord{}, s.err
	}
	if len(s.providers) == 0 {
		return DefaultProvider(), nil
	}
	return s.providers[0], nil
}

func (s *stubSource) GetCredential(ctx context.Context, providerID, accountID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.credentials[providerID], nil
}

// stubModel is a canned Model implementation.
type stubModel struct {
	family   Family
	modelID  string
	response *CompletionResponse
	chunks   []string
	err      error
	calls    int
}

func (m *stubModel) Family() Family  { return m.family }
func (m *stubModel) ModelID() string { return m.modelID }

func (m *stubModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *stubModel) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	for _, chunk := range m.chunks {
		if err := handler(StreamChunk{Text: chunk}); err != nil {
			return nil, err
		}
	}
	if err := handler(StreamChunk{Done: true}); err != nil {
		return nil, err
	}
	return m.response, nil
}
