package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/humshakals/internal/config"
)

type rulesDoc struct {
	ConsoleFilterText string `json:"consoleFilterText"`
	IsNetworkEnabled  bool   `json:"isNetworkEnabled"`
}

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// -- Test Cases --

func TestValidateKey(t *testing.T) {
	valid := []string{"customDevices", "devtoolsPocketRules", "a", "A_b-9", strings.Repeat("k", 64)}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(k), k)
	}

	invalid := []string{"", "with space", "../escape", "dot.key", "slash/key", strings.Repeat("k", 65)}
	for _, k := range invalid {
		err := ValidateKey(k)
		assert.ErrorIs(t, err, ErrInvalidKey, k)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should round trip a value", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)

		want := rulesDoc{ConsoleFilterText: "app.js", IsNetworkEnabled: true}
		require.NoError(t, s.Set(ctx, KeyPocketRules, want))

		var got rulesDoc
		found, err := s.Get(ctx, KeyPocketRules, &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("should report missing keys as not found", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)

		var got rulesDoc
		found, err := s.Get(ctx, KeyActiveSuite, &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("should reject invalid keys on both paths", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)

		assert.ErrorIs(t, s.Set(ctx, "../../etc/passwd", "x"), ErrInvalidKey)
		_, err = s.Get(ctx, "bad key", new(string))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("should surface corrupt documents as errors", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "activeSuite.json"), []byte("{not json"), 0o644))

		var got string
		_, err = s.Get(ctx, KeyActiveSuite, &got)
		assert.Error(t, err)
	})

	t.Run("should notify watchers of external edits", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)

		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		changed := make(chan string, 8)
		require.NoError(t, s.Watch(watchCtx, func(key string) {
			select {
			case changed <- key:
			default:
			}
		}))

		require.NoError(t, os.WriteFile(filepath.Join(dir, "activeSuite.json"), []byte(`"mobile"`), 0o644))

		select {
		case key := <-changed:
			assert.Equal(t, KeyActiveSuite, key)
		case <-time.After(5 * time.Second):
			t.Fatal("watcher did not report the edit")
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, ":memory:", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	var missing []string
	found, err := s.Get(ctx, KeyPreviewSuites, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, KeyActiveSuite, "default"))
	require.NoError(t, s.Set(ctx, KeyActiveSuite, "mobile"))

	var active string
	found, err = s.Get(ctx, KeyActiveSuite, &active)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "mobile", active, "the second write should replace the first")

	assert.ErrorIs(t, s.Set(ctx, "no spaces allowed", 1), ErrInvalidKey)
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(ctx, mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should upsert and read values", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		mockPool.ExpectExec(flexibleSQLMatcher(pgSchema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mockPool.ExpectExec(flexibleSQLMatcher(pgUpsert)).
			WithArgs(KeyActiveSuite, `"mobile"`, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs(KeyActiveSuite).
			WillReturnRows(mockPool.NewRows([]string{"value"}).AddRow([]byte(`"mobile"`)))
		mockPool.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs(KeyPreviewSuites).
			WillReturnError(pgx.ErrNoRows)

		s, err := NewPostgresStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, KeyActiveSuite, "mobile"))

		var active string
		found, err := s.Get(ctx, KeyActiveSuite, &active)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "mobile", active)

		var suites []string
		found, err = s.Get(ctx, KeyPreviewSuites, &suites)
		require.NoError(t, err)
		assert.False(t, found)

		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Backend: config.StoreBackendFile, Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, config.StoreConfig{Backend: config.StoreBackendSQLite, SQLitePath: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Backend: "etcd"}, zap.NewNop())
	assert.Error(t, err)
}

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string, interface{}) (bool, error) {
	return false, errors.New("disk on fire")
}
func (failingStore) Set(context.Context, string, interface{}) error { return errors.New("disk on fire") }
func (failingStore) Close() error                                   { return nil }

func TestSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("read failure keeps defaults and logs", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		settings := NewSettings(failingStore{}, zap.New(core))

		rules := rulesDoc{ConsoleFilterText: "default"}
		assert.False(t, settings.Load(ctx, KeyPocketRules, &rules))
		assert.Equal(t, "default", rules.ConsoleFilterText)

		entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
		require.Len(t, entries, 1)
		assert.Equal(t, KeyPocketRules, entries[0].ContextMap()["key"])
	})

	t.Run("write failure is a logged no-op", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		settings := NewSettings(failingStore{}, zap.New(core))

		assert.False(t, settings.Save(ctx, KeyActiveSuite, "mobile"))
		assert.Equal(t, 1, logs.FilterMessage("Failed to persist setting.").Len())
	})

	t.Run("corrupt values do not clobber defaults", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, KeyPocketRules+".json"), []byte(`{"consoleFilterText": 12`), 0o644))

		rules := rulesDoc{ConsoleFilterText: "default"}
		assert.False(t, NewSettings(s, zap.NewNop()).Load(ctx, KeyPocketRules, &rules))
		assert.Equal(t, "default", rules.ConsoleFilterText)
	})

	t.Run("stored values merge over defaults", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		settings := NewSettings(s, zap.NewNop())

		require.True(t, settings.Save(ctx, KeyPocketRules, map[string]bool{"isNetworkEnabled": true}))

		rules := rulesDoc{ConsoleFilterText: "default"}
		assert.True(t, settings.Load(ctx, KeyPocketRules, &rules))
		assert.Equal(t, rulesDoc{ConsoleFilterText: "default", IsNetworkEnabled: true}, rules)
	})
}
