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
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"fieldline/platform/shared/logger"
)

// ProviderSource is the read surface the router depends on.
type ProviderSource interface {
	GetProviders(ctx context.Context, accountID string) ([]ProviderRecord, error)
	GetProvidersByUseCase(ctx context.Context, useCase, accountID string) ([]ProviderRecord, error)
	GetDefaultProvider(ctx context.Context, accountID string) (ProviderRecord, error)
	GetCredential(ctx context.Context, providerID, accountID string) (string, error)
}

// Repository reads tenant provider configuration from Postgres, fronted by
// an injected cache. The gateway never writes provider rows; mutation lives
// in the tenant configuration service, which calls cache.Invalidate through
// an internal hook.
type Repository struct {
	db     *sql.DB
	cache  ProviderCache
	logger *logger.Logger
}

// NewRepository creates a provider repository. cache may not be nil.
func NewRepository(db *sql.DB, cache ProviderCache, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.New("llm-repository")
	}
	return &Repository{db: db, cache: cache, logger: log}
}

const providerColumns = `id, name, family, model, is_default, use_cases, max_tokens, active, COALESCE(account_id, '')`

// GetProviders returns the active providers visible to a tenant: its own
// rows plus global rows. Served from cache when fresh.
func (r *Repository) GetProviders(ctx context.Context, accountID string) ([]ProviderRecord, error) {
	key := CacheKey(accountID, "")
	if records, ok := r.cache.Get(key); ok {
		return records, nil
	}

	query := `
		SELECT ` + providerColumns + `
		FROM llm_providers
		WHERE active = TRUE
		  AND (account_id = $1 OR account_id IS NULL)
		ORDER BY is_default DESC, name
	`

	records, err := r.queryProviders(ctx, query, accountID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, records)
	return records, nil
}

// GetProvidersByUseCase returns the providers applicable to one use case.
func (r *Repository) GetProvidersByUseCase(ctx context.Context, useCase, accountID string) ([]ProviderRecord, error) {
	key := CacheKey(accountID, useCase)
	if records, ok := r.cache.Get(key); ok {
		return records, nil
	}

	query := `
		SELECT ` + providerColumns + `
		FROM llm_providers
		WHERE active = TRUE
		  AND (account_id = $1 OR account_id IS NULL)
		  AND $2 = ANY(use_cases)
		ORDER BY is_default DESC, name
	`

	records, err := r.queryProviders(ctx, query, accountID, useCase)
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, records)
	return records, nil
}

// GetDefaultProvider returns the tenant's default provider. When nothing is
// configured it falls back to the hardcoded DefaultProvider record, so a
// missing configuration never hard-fails a request.
func (r *Repository) GetDefaultProvider(ctx context.Context, accountID string) (ProviderRecord, error) {
	records, err := r.GetProviders(ctx, accountID)
	if err != nil {
		return ProviderRecord{}, err
	}

	for _, record := range records {
		if record.IsDefault {
			return record, nil
		}
	}
	if len(records) > 0 {
		return records[0], nil
	}

	r.logger.Warn(accountID, "", "no providers configured, using hardcoded default", nil)
	return DefaultProvider(), nil
}

// GetCredential reads a provider's encrypted API key directly from the
// store. Credentials deliberately bypass the cache: stale metadata is
// acceptable, stale (or lingering) credentials are not.
func (r *Repository) GetCredential(ctx context.Context, providerID, accountID string) (string, error) {
	query := `
		SELECT COALESCE(api_key_encrypted, '')
		FROM llm_providers
		WHERE id = $1
		  AND (account_id = $2 OR account_id IS NULL)
	`

	var encrypted string
	err := r.db.QueryRowContext(ctx, query, providerID, accountID).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", NewError(ErrCodeConfig, "credential lookup failed", err)
	}
	return encrypted, nil
}

func (r *Repository) queryProviders(ctx context.Context, query string, args ...interface{}) ([]ProviderRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewError(ErrCodeConfig, "provider lookup failed", err)
	}
	defer rows.Close()

	var records []ProviderRecord
	for rows.Next() {
		var record ProviderRecord
		var useCases pq.StringArray
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Family,
			&record.Model,
			&record.IsDefault,
			&useCases,
			&record.MaxTokens,
			&record.Active,
			&record.AccountID,
		); err != nil {
			return nil, NewError(ErrCodeConfig, "provider scan failed", err)
		}
		record.UseCases = []string(useCases)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, NewError(ErrCodeConfig, "provider iteration failed", err)
	}

	return records, nil
}

var _ ProviderSource = (*Repository)(nil)
