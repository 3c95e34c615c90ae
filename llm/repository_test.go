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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "family", "model", "is_default", "use_cases", "max_tokens", "active", "account_id",
	})
}

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock, *MemoryCache) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := NewMemoryCache(time.Minute)
	return NewRepository(db, cache, testLogger()), mock, cache
}

func TestGetProvidersCachesResult(t *testing.T) {
	repo, mock, _ := newTestRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM llm_providers").
		WithArgs("acct-1").
		WillReturnRows(providerRows().
			AddRow("p1", "Primary", "openai", "gpt-4o", true, "{general}", 4096, true, "acct-1").
			AddRow("p2", "Backup", "anthropic", "claude-sonnet-4-20250514", false, "{general,drafting}", 8192, true, ""))

	records, err := repo.GetProviders(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p1", records[0].ID)
	assert.True(t, records[0].IsDefault)
	assert.Equal(t, []string{"general", "drafting"}, records[1].UseCases)
	assert.Empty(t, records[0].APIKeyEncrypted, "cached records must not carry credentials")

	// Second call is served from cache: no further query expected.
	again, err := repo.GetProviders(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, records, again)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProvidersByUseCase(t *testing.T) {
	repo, mock, _ := newTestRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM llm_providers").
		WithArgs("acct-1", UseCaseClassification).
		WillReturnRows(providerRows().
			AddRow("p3", "Classifier", "openai", "gpt-4o-mini", false, "{classification}", 2048, true, "acct-1"))

	records, err := repo.GetProvidersByUseCase(context.Background(), UseCaseClassification, "acct-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p3", records[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDefaultProviderFallsBackToHardcoded(t *testing.T) {
	repo, mock, _ := newTestRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM llm_providers").
		WithArgs("acct-empty").
		WillReturnRows(providerRows())

	record, err := repo.GetDefaultProvider(context.Background(), "acct-empty")
	require.NoError(t, err)
	assert.Equal(t, "default", record.ID)
	assert.Equal(t, FamilyOpenAI, record.Family)
}

func TestGetDefaultProviderPrefersDefaultFlag(t *testing.T) {
	repo, mock, _ := newTestRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM llm_providers").
		WithArgs("acct-1").
		WillReturnRows(providerRows().
			AddRow("p1", "First", "openai", "gpt-4o", false, "{general}", 4096, true, "acct-1").
			AddRow("p2", "Chosen", "anthropic", "claude-sonnet-4-20250514", true, "{general}", 4096, true, "acct-1"))

	record, err := repo.GetDefaultProvider(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "p2", record.ID)
}

func TestGetCredentialBypassesCache(t *testing.T) {
	repo, mock, cache := newTestRepository(t)

	// Poison the cache; the credential read must still hit the store.
	cache.Set(CacheKey("acct-1", ""), []ProviderRecord{{ID: "p1"}})

	mock.ExpectQuery("SELECT COALESCE\\(api_key_encrypted, ''\\)").
		WithArgs("p1", "acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"api_key_encrypted"}).AddRow("ciphertext"))

	encrypted, err := repo.GetCredential(context.Background(), "p1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", encrypted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCredentialMissingRow(t *testing.T) {
	repo, mock, _ := newTestRepository(t)

	mock.ExpectQuery("SELECT COALESCE\\(api_key_encrypted, ''\\)").
		WithArgs("ghost", "acct-1").
		WillReturnError(sql.ErrNoRows)

	encrypted, err := repo.GetCredential(context.Background(), "ghost", "acct-1")
	require.NoError(t, err)
	assert.Empty(t, encrypted)
}
