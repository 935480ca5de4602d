package devices

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/kvstore"
)

func newTestRegistry(t *testing.T) (*Registry, *kvstore.FileStore) {
	t.Helper()
	store, err := kvstore.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return NewRegistry(context.Background(), kvstore.NewSettings(store, zap.NewNop()), zap.NewNop()), store
}

func customProfile(name string) schemas.DeviceProfile {
	return schemas.DeviceProfile{
		Name: name, Width: 360, Height: 740, DPR: 3,
		UserAgent: "Mozilla/5.0 (Linux; Android 14; Test) Mobile",
		Type:      schemas.DevicePhone, IsTouchCapable: true, IsMobileCapable: true,
	}
}

// -- Test Cases --

func TestCatalog(t *testing.T) {
	all := Builtins()
	require.Len(t, all, 26)

	seen := map[string]bool{}
	for _, d := range all {
		assert.NoError(t, d.Validate(), d.ID)
		assert.False(t, seen[d.ID], "duplicate id %s", d.ID)
		seen[d.ID] = true
		if d.Type == schemas.DeviceDesktop {
			assert.False(t, d.IsMobileCapable, d.ID)
			assert.False(t, d.IsTouchCapable, d.ID)
		}
	}
}

func TestLookup(t *testing.T) {
	r, _ := newTestRegistry(t)

	t.Run("GetByID returns the catalog entry", func(t *testing.T) {
		d, ok := r.GetByID("10003")
		require.True(t, ok)
		assert.Equal(t, "iPhone SE", d.Name)
		assert.Equal(t, int64(375), d.Width)
		assert.Equal(t, int64(667), d.Height)
		assert.Equal(t, 2.0, d.DPR)

		_, ok = r.GetByID("nope")
		assert.False(t, ok)
	})

	t.Run("ListByType keeps catalog order", func(t *testing.T) {
		phones := r.ListByType(schemas.DevicePhone)
		require.NotEmpty(t, phones)
		assert.Equal(t, "10003", phones[0].ID)
		for _, p := range phones {
			assert.Equal(t, schemas.DevicePhone, p.Type)
		}

		tablets := r.ListByType(schemas.DeviceTablet)
		ids := make([]string, len(tablets))
		for i, d := range tablets {
			ids[i] = d.ID
		}
		assert.Equal(t, []string{"10011", "10012", "10013", "10016", "30010"}, ids)
	})

	t.Run("Resolve skips unknown ids", func(t *testing.T) {
		got := r.Resolve([]string{"90002", "ghost", "10003"})
		require.Len(t, got, 2)
		assert.Equal(t, "90002", got[0].ID)
		assert.Equal(t, "10003", got[1].ID)
	})

	t.Run("Filter matches names case-insensitively", func(t *testing.T) {
		got, err := r.Filter("ipad*")
		require.NoError(t, err)
		assert.Len(t, got, 4)

		got, err = r.Filter("galaxy")
		require.NoError(t, err)
		assert.Len(t, got, 5)

		_, err = r.Filter("[unterminated")
		assert.Error(t, err)
	})
}

func TestCustomDevices(t *testing.T) {
	ctx := context.Background()

	t.Run("ids are namespaced", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		generated, err := r.AddCustom(ctx, customProfile("Foldable"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(generated.ID, schemas.CustomDevicePrefix))
		assert.True(t, generated.IsCustom())

		named := customProfile("Kiosk")
		named.ID = "kiosk"
		got, err := r.AddCustom(ctx, named)
		require.NoError(t, err)
		assert.Equal(t, "custom-kiosk", got.ID)

		_, err = r.AddCustom(ctx, named)
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("invalid profiles are rejected", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		bad := customProfile("Zero")
		bad.Width = 0
		_, err := r.AddCustom(ctx, bad)
		assert.ErrorIs(t, err, schemas.ErrInvalidDevice)
	})

	t.Run("removal drops the device from every suite", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		d, err := r.AddCustom(ctx, customProfile("Foldable"))
		require.NoError(t, err)

		_, err = r.ToggleInActive(ctx, d.ID)
		require.NoError(t, err)
		other, err := r.AddSuite(ctx, schemas.PreviewSuite{ID: "mobile", Name: "Mobile", DeviceIDs: []string{d.ID, "10003"}})
		require.NoError(t, err)
		require.True(t, other.Contains(d.ID))

		require.NoError(t, r.RemoveCustom(ctx, d.ID))

		_, ok := r.GetByID(d.ID)
		assert.False(t, ok)
		for _, s := range r.Suites() {
			assert.False(t, s.Contains(d.ID), "suite %s still holds the removed device", s.ID)
		}
	})

	t.Run("built-ins cannot be removed", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		assert.ErrorIs(t, r.RemoveCustom(ctx, "10003"), ErrNotCustom)
		assert.ErrorIs(t, r.RemoveCustom(ctx, "custom-missing"), ErrNotFound)
	})

	t.Run("customs survive a reload", func(t *testing.T) {
		r, store := newTestRegistry(t)
		d, err := r.AddCustom(ctx, customProfile("Foldable"))
		require.NoError(t, err)

		reloaded := NewRegistry(ctx, kvstore.NewSettings(store, zap.NewNop()), zap.NewNop())
		got, ok := reloaded.GetByID(d.ID)
		require.True(t, ok)
		if diff := cmp.Diff(d, got); diff != "" {
			t.Errorf("reloaded device mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSuites(t *testing.T) {
	ctx := context.Background()

	t.Run("default suite is active on first run", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		assert.Equal(t, schemas.DefaultSuite(), r.Active())
	})

	t.Run("toggle has set semantics", func(t *testing.T) {
		r, _ := newTestRegistry(t)

		s, err := r.ToggleInActive(ctx, "20001")
		require.NoError(t, err)
		assert.Equal(t, []string{"10003", "10010", "90002", "20001"}, s.DeviceIDs)

		s, err = r.ToggleInActive(ctx, "10010")
		require.NoError(t, err)
		assert.Equal(t, []string{"10003", "90002", "20001"}, s.DeviceIDs)

		_, err = r.ToggleInActive(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)

		s = r.RemoveFromActive(ctx, "10003")
		assert.Equal(t, []string{"90002", "20001"}, s.DeviceIDs)
	})

	t.Run("active suite persists", func(t *testing.T) {
		r, store := newTestRegistry(t)
		_, err := r.AddSuite(ctx, schemas.PreviewSuite{ID: "mobile", Name: "Mobile", DeviceIDs: []string{"10003", "ghost", "10003"}})
		require.NoError(t, err)
		require.NoError(t, r.SetActive(ctx, "mobile"))
		assert.ErrorIs(t, r.SetActive(ctx, "missing"), ErrNotFound)

		reloaded := NewRegistry(ctx, kvstore.NewSettings(store, zap.NewNop()), zap.NewNop())
		active := reloaded.Active()
		assert.Equal(t, "mobile", active.ID)
		assert.Equal(t, []string{"10003"}, active.DeviceIDs, "unknown and repeated ids are dropped")
	})

	t.Run("reload picks up edits from another registry", func(t *testing.T) {
		r, store := newTestRegistry(t)
		other := NewRegistry(ctx, kvstore.NewSettings(store, zap.NewNop()), zap.NewNop())

		_, err := other.AddSuite(ctx, schemas.PreviewSuite{ID: "tablets", Name: "Tablets", DeviceIDs: []string{"10011"}})
		require.NoError(t, err)
		require.NoError(t, other.SetActive(ctx, "tablets"))
		assert.Equal(t, schemas.DefaultSuiteID, r.Active().ID)

		r.Reload(ctx)
		assert.Equal(t, "tablets", r.Active().ID)
		assert.Len(t, r.Suites(), 2)
	})
}

func TestYAMLRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestRegistry(t)
	_, err := src.AddCustom(ctx, customProfile("Foldable"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.ExportYAML(&buf))
	assert.Contains(t, buf.String(), "name: Foldable")

	dst, _ := newTestRegistry(t)
	added, err := dst.ImportYAML(ctx, &buf)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "Foldable", added[0].Name)

	_, err = dst.ImportYAML(ctx, strings.NewReader("devices: [oops"))
	assert.Error(t, err)
}
