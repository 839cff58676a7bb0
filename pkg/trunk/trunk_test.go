package trunk

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/skadidb/pkg/allocator"
	"github.com/ssargent/skadidb/pkg/cache"
	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/iodev"
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/shim"
	"github.com/ssargent/skadidb/pkg/status"
)

// harness wires the subsystems a tree depends on.
type harness struct {
	t     *testing.T
	dir   string
	disk  uint64
	app   data.Config
	dev   *iodev.Device
	alloc *allocator.Allocator
	cache *cache.Cache
	shim  *shim.Config
}

func newHarness(t *testing.T, dir string, app data.Config, disk uint64, create bool) *harness {
	t.Helper()
	h := &harness{t: t, dir: dir, disk: disk, app: app}

	var err error
	h.dev, err = iodev.Open(iodev.Config{
		Dir:        dir,
		PageSize:   4096,
		ExtentSize: 64 * 1024,
		Flags:      os.O_RDWR | os.O_CREATE,
		Perms:      0755,
		QueueDepth: 16,
	})
	require.NoError(t, err)

	if create {
		h.alloc, err = allocator.Init(h.dev, allocator.Config{Capacity: disk})
	} else {
		h.alloc, err = allocator.Mount(h.dev, allocator.Config{Capacity: disk})
	}
	require.NoError(t, err)

	h.cache, err = cache.New(cache.Config{Size: 8 << 20}, h.dev)
	require.NoError(t, err)

	h.shim, err = shim.New(app)
	require.NoError(t, err)
	return h
}

func (h *harness) config() Config {
	return Config{
		Dir:                 h.dir,
		Data:                h.shim,
		PageSize:            4096,
		MemtableCapacity:    1 << 20,
		Fanout:              8,
		MaxBranchesPerNode:  24,
		RoughCountHeight:    1,
		FilterRemainderSize: 6,
		FilterIndexSize:     256,
		ReclaimThreshold:    math.MaxUint64,
	}
}

func (h *harness) close() {
	require.NoError(h.t, h.cache.Close())
	require.NoError(h.t, h.alloc.Unmount())
	require.NoError(h.t, h.dev.Close())
}

func (h *harness) slot(key string) []byte {
	s, err := h.shim.EncodeKey([]byte(key))
	require.NoError(h.t, err)
	return s
}

func TestTree_InsertLookup(t *testing.T) {
	h := newHarness(t, t.TempDir(), data.NewLex(8), 64<<20, true)
	defer h.close()

	tree, err := Create(h.config(), h.alloc, h.cache)
	require.NoError(t, err)
	defer tree.Unmount()

	require.NoError(t, tree.Insert(h.slot("user-1"), message.NewInsert([]byte("A"))))

	m, found, err := tree.Lookup(h.slot("user-1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, message.NewInsert([]byte("A")), m)

	_, found, err = tree.Lookup(h.slot("user-2"))
	require.NoError(t, err)
	assert.False(t, found)

	t.Run("update overwrites under default merge", func(t *testing.T) {
		require.NoError(t, tree.Insert(h.slot("user-1"), message.NewUpdate([]byte("B"))))
		m, found, err := tree.Lookup(h.slot("user-1"))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("B"), m.Payload)
	})

	t.Run("delete hides key", func(t *testing.T) {
		require.NoError(t, tree.Insert(h.slot("user-1"), message.Tombstone))
		_, found, err := tree.Lookup(h.slot("user-1"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("invalid kind", func(t *testing.T) {
		err := tree.Insert(h.slot("x"), message.Message{Kind: message.Invalid})
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	})
}

func TestTree_MergeOperator(t *testing.T) {
	app := data.FromLex(8)
	app.ConfigName = "concat"
	app.MergeFunc = func(key []byte, older, newer message.Message) (message.Message, error) {
		if older.IsDelete() {
			return newer, nil
		}
		return message.NewUpdate(append(append([]byte(nil), older.Payload...), newer.Payload...)), nil
	}
	app.MergeFinalFunc = func(key []byte, oldest message.Message) (message.Message, error) {
		return message.NewInsert(oldest.Payload), nil
	}

	h := newHarness(t, t.TempDir(), app, 64<<20, true)
	defer h.close()
	tree, err := Create(h.config(), h.alloc, h.cache)
	require.NoError(t, err)
	defer tree.Unmount()

	k := h.slot("counter")
	require.NoError(t, tree.Insert(k, message.NewInsert([]byte("a"))))
	require.NoError(t, tree.Insert(k, message.NewUpdate([]byte("b"))))
	require.NoError(t, tree.Insert(k, message.NewUpdate([]byte("c"))))

	m, found, err := tree.Lookup(k)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("abc"), m.Payload)

	// The result survives a flush, where the engine merges operands itself.
	require.NoError(t, tree.Flush())
	m, _, err = tree.Lookup(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), m.Payload)

	// A newer Insert shadows the history without consulting the merge.
	require.NoError(t, tree.Insert(k, message.NewInsert([]byte("z"))))
	m, _, err = tree.Lookup(k)
	require.NoError(t, err)
	assert.Equal(t, message.NewInsert([]byte("z")), m)
}

func TestTree_Iterator(t *testing.T) {
	h := newHarness(t, t.TempDir(), data.NewLex(8), 64<<20, true)
	defer h.close()
	tree, err := Create(h.config(), h.alloc, h.cache)
	require.NoError(t, err)
	defer tree.Unmount()

	for _, k := range []string{"c", "a", "bb", "b", "d"} {
		require.NoError(t, tree.Insert(h.slot(k), message.NewInsert([]byte("v-"+k))))
	}
	require.NoError(t, tree.Insert(h.slot("bb"), message.Tombstone))

	collect := func(start []byte) []string {
		it, err := tree.NewIterator(start)
		require.NoError(t, err)
		defer it.Close()

		var keys []string
		for ; it.Valid(); it.Next() {
			keys = append(keys, string(h.shim.DecodeKey(it.Key())))
			assert.Equal(t, "v-"+keys[len(keys)-1], string(it.Message().Payload))
		}
		require.NoError(t, it.Error())
		return keys
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, collect(nil))
	assert.Equal(t, []string{"c", "d"}, collect(h.slot("bz")))
	assert.Empty(t, collect(h.slot("e")))
}

func TestTree_MountRoundTrip(t *testing.T) {
	dir := t.TempDir()
	app := data.NewLex(16)

	h := newHarness(t, dir, app, 64<<20, true)
	tree, err := Create(h.config(), h.alloc, h.cache)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%03d", i)
		require.NoError(t, tree.Insert(h.slot(key), message.NewInsert([]byte(key))))
	}
	require.NoError(t, tree.Unmount())
	assert.False(t, tree.IsOpen())
	h.close()

	h = newHarness(t, dir, app, 64<<20, false)
	defer h.close()
	tree, err = Mount(h.config(), h.alloc, h.cache)
	require.NoError(t, err)
	defer tree.Unmount()

	m, found, err := tree.Lookup(h.slot("key-042"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("key-042"), m.Payload)
	assert.Positive(t, tree.Stats().OwnedExtents)
}

func TestTree_MountFailures(t *testing.T) {
	t.Run("no tree on device", func(t *testing.T) {
		h := newHarness(t, t.TempDir(), data.NewLex(8), 64<<20, true)
		defer h.close()

		_, err := Mount(h.config(), h.alloc, h.cache)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrNotFound))
	})

	t.Run("key size mismatch", func(t *testing.T) {
		dir := t.TempDir()
		h := newHarness(t, dir, data.NewLex(8), 64<<20, true)
		tree, err := Create(h.config(), h.alloc, h.cache)
		require.NoError(t, err)
		require.NoError(t, tree.Unmount())
		h.close()

		h = newHarness(t, dir, data.NewLex(12), 64<<20, false)
		defer h.close()
		_, err = Mount(h.config(), h.alloc, h.cache)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInvalidState))
		assert.Contains(t, err.Error(), "key size")
	})

	t.Run("create twice", func(t *testing.T) {
		h := newHarness(t, t.TempDir(), data.NewLex(8), 64<<20, true)
		defer h.close()
		tree, err := Create(h.config(), h.alloc, h.cache)
		require.NoError(t, err)
		defer tree.Unmount()

		_, err = Create(h.config(), h.alloc, h.cache)
		assert.True(t, errors.Is(err, status.ErrInvalidState))
	})
}

func TestTree_DeviceBudget(t *testing.T) {
	// Four extents: one for allocator metadata, one for the tree root, and
	// two for data.
	h := newHarness(t, t.TempDir(), data.NewLex(16), 4*64*1024, true)
	defer h.close()

	cfg := h.config()
	cfg.ReclaimThreshold = 64 * 1024
	tree, err := Create(cfg, h.alloc, h.cache)
	require.NoError(t, err)

	// Incompressible values so the engine's footprint tracks what is written.
	rng := rand.New(rand.NewSource(1))
	value := make([]byte, 4096)
	rng.Read(value)
	var full error
	for i := 0; i < 1000 && full == nil; i++ {
		full = tree.Insert(h.slot(fmt.Sprintf("k%05d", i)), message.NewInsert(value))
		if full == nil && i%50 == 49 {
			full = tree.Flush()
		}
	}
	require.Error(t, full)
	assert.True(t, errors.Is(full, status.ErrNoSpace))
	assert.True(t, tree.Stats().Full)

	err = tree.Insert(h.slot("more"), message.NewInsert([]byte("v")))
	assert.True(t, errors.Is(err, status.ErrNoSpace))
	require.NoError(t, tree.Unmount())
}

func TestTree_Closed(t *testing.T) {
	h := newHarness(t, t.TempDir(), data.NewLex(8), 64<<20, true)
	defer h.close()
	tree, err := Create(h.config(), h.alloc, h.cache)
	require.NoError(t, err)
	require.NoError(t, tree.Unmount())
	require.NoError(t, tree.Unmount())

	err = tree.Insert(h.slot("k"), message.NewInsert(nil))
	assert.True(t, errors.Is(err, status.ErrInvalidState))
	_, _, err = tree.Lookup(h.slot("k"))
	assert.True(t, errors.Is(err, status.ErrInvalidState))
	_, err = tree.NewIterator(nil)
	assert.True(t, errors.Is(err, status.ErrInvalidState))
}

func TestSuperRuns(t *testing.T) {
	s := &super{TreeID: 1, Dir: "trunk-0001", Owned: []uint64{9, 3, 4, 5, 10, 20}}
	assert.Equal(t, [][2]uint64{{3, 3}, {9, 2}, {20, 1}}, toRuns(s.Owned))

	got, err := decodeSuper(s.encode())
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5, 9, 10, 20}, got.Owned)
	assert.Equal(t, "trunk-0001", got.Dir)
}

func TestCreate_FailureRemovesPartialTree(t *testing.T) {
	app := data.FromLex(8)
	app.ConfigName = strings.Repeat("n", 128<<10)
	h := newHarness(t, t.TempDir(), app, 64<<20, true)
	defer h.close()
	inUse := h.alloc.InUse()

	_, err := Create(h.config(), h.alloc, h.cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidState))
	assert.Contains(t, err.Error(), "exceeds extent size")

	_, statErr := os.Stat(filepath.Join(h.dir, fmt.Sprintf("trunk-%04d", TreeID)))
	assert.True(t, os.IsNotExist(statErr), "partial tree directory left behind: %v", statErr)
	assert.Equal(t, inUse, h.alloc.InUse())
	_, ok := h.alloc.Root(TreeID)
	assert.False(t, ok)

	sh, err := shim.New(data.NewLex(8))
	require.NoError(t, err)
	cfg := h.config()
	cfg.Data = sh
	tree, err := Create(cfg, h.alloc, h.cache)
	require.NoError(t, err)
	require.NoError(t, tree.Unmount())
}
