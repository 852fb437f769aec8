package files_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/files-vault/internal/files"
	"github.com/pavel-fokin/files-vault/internal/fs"
	"github.com/pavel-fokin/files-vault/internal/sqlstore"
)

type testEnv struct {
	service    *files.Service
	storage    *fs.Storage
	contentDir string
	clock      *testclock.Clock
}

func setupService(t *testing.T, opts ...files.Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	contentDir := filepath.Join(dir, "content")

	storage, err := fs.NewStorage(contentDir)
	require.NoError(t, err)

	repo, err := sqlstore.NewRepository(filepath.Join(dir, "test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	clk := testclock.NewClock(time.Date(2025, 1, 5, 19, 44, 15, 0, time.UTC))
	opts = append([]files.Option{files.WithClock(clk)}, opts...)

	return &testEnv{
		service:    files.NewService(storage, repo, opts...),
		storage:    storage,
		contentDir: contentDir,
		clock:      clk,
	}
}

// frames replays a fixed upload; err, when set, is returned instead of io.EOF.
type frames struct {
	list []*files.Frame
	err  error
}

func (f *frames) Recv() (*files.Frame, error) {
	if len(f.list) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	next := f.list[0]
	f.list = f.list[1:]
	return next, nil
}

func metaFrame(name string, size int, public bool) *files.Frame {
	return &files.Frame{Metadata: &files.Metadata{
		Name:     name,
		MimeType: "text/plain",
		Size:     uint32(size),
		IsPublic: public,
	}}
}

func chunkFrame(data string) *files.Frame {
	return &files.Frame{Chunk: []byte(data), HasChunk: true}
}

func (e *testEnv) upload(t *testing.T, owner uuid.UUID, name string, content string, public bool) *files.File {
	t.Helper()
	file, err := e.service.Create(context.Background(), owner, &frames{list: []*files.Frame{
		metaFrame(name, len(content), public),
		chunkFrame(content),
	}})
	require.NoError(t, err)
	return file
}

func (e *testEnv) download(caller, id uuid.UUID) ([][]byte, error) {
	var chunks [][]byte
	err := e.service.Download(context.Background(), caller, id, func(chunk []byte) error {
		chunks = append(chunks, append([]byte(nil), chunk...))
		return nil
	})
	return chunks, err
}

func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.contentDir)
	require.NoError(t, err)
	return len(entries)
}

func listNames(t *testing.T, list func(ctx context.Context, caller uuid.UUID, send func(*files.File) error) error, caller uuid.UUID) []string {
	t.Helper()
	var names []string
	require.NoError(t, list(context.Background(), caller, func(f *files.File) error {
		names = append(names, f.Name)
		return nil
	}))
	sort.Strings(names)
	return names
}

func TestCreateAndDownload(t *testing.T) {
	env := setupService(t)
	u1 := uuid.New()

	file := env.upload(t, u1, "a.txt", "hello world bytes", false)

	assert.NotEqual(t, uuid.Nil, file.ID)
	assert.Equal(t, u1, file.OwnerID)
	assert.Equal(t, uint32(17), file.Size)
	assert.Equal(t, "text/plain", file.MimeType)
	assert.False(t, file.IsPublic)
	assert.True(t, env.clock.Now().Equal(file.CreatedAt))

	chunks, err := env.download(u1, file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world bytes", string(chunks[0]))

	info, err := os.Stat(env.storage.Path(file.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(file.Size), info.Size())
}

func TestCreateMultipleChunks(t *testing.T) {
	env := setupService(t)
	owner := uuid.New()

	file, err := env.service.Create(context.Background(), owner, &frames{list: []*files.Frame{
		{Metadata: &files.Metadata{Name: "joined.txt", MimeType: "text/plain", Size: 11}, Chunk: []byte("hello"), HasChunk: true},
		chunkFrame(" "),
		{Metadata: &files.Metadata{Name: "ignored.txt", MimeType: "x/y", Size: 1}, Chunk: []byte("world"), HasChunk: true},
		metaFrame("also-ignored", 99, true),
	}})
	require.NoError(t, err)
	assert.Equal(t, "joined.txt", file.Name)
	assert.False(t, file.IsPublic)

	chunks, err := env.download(owner, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(bytes.Join(chunks, nil)))
}

func TestCreateZeroBytes(t *testing.T) {
	env := setupService(t)
	owner := uuid.New()

	file, err := env.service.Create(context.Background(), owner, &frames{list: []*files.Frame{
		metaFrame("empty.txt", 0, false),
	}})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), file.Size)
	assert.True(t, env.storage.Exists(file.ID))

	chunks, err := env.download(owner, file.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCreateRejected(t *testing.T) {
	tests := []struct {
		name   string
		frames *frames
		class  interface{ Has(error) bool }
	}{
		{
			name:   "empty stream",
			frames: &frames{},
			class:  &files.ErrInvalidArgument,
		},
		{
			name:   "first frame without metadata",
			frames: &frames{list: []*files.Frame{chunkFrame("abc")}},
			class:  &files.ErrInvalidArgument,
		},
		{
			name:   "empty name",
			frames: &frames{list: []*files.Frame{metaFrame("", 1, false), chunkFrame("a")}},
			class:  &files.ErrInvalidArgument,
		},
		{
			name: "empty mime type",
			frames: &frames{list: []*files.Frame{
				{Metadata: &files.Metadata{Name: "n", Size: 1}},
				chunkFrame("a"),
			}},
			class: &files.ErrInvalidArgument,
		},
		{
			name:   "short payload",
			frames: &frames{list: []*files.Frame{metaFrame("x", 10, false), chunkFrame("123456789")}},
			class:  &files.ErrDataLoss,
		},
		{
			name:   "long payload",
			frames: &frames{list: []*files.Frame{metaFrame("x", 4, false), chunkFrame("123"), chunkFrame("45")}},
			class:  &files.ErrDataLoss,
		},
		{
			name:   "frame with neither part",
			frames: &frames{list: []*files.Frame{metaFrame("x", 1, false), {}, chunkFrame("1")}},
			class:  &files.ErrDataLoss,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupService(t)
			owner := uuid.New()

			_, err := env.service.Create(context.Background(), owner, tt.frames)
			require.Error(t, err)
			assert.True(t, tt.class.Has(err), "unexpected error class: %v", err)

			assert.Equal(t, 0, env.blobCount(t))
			assert.Empty(t, listNames(t, env.service.ListOwned, owner))
		})
	}
}

func TestCreateSizeMismatchLeavesNoRow(t *testing.T) {
	env := setupService(t)
	owner := uuid.New()

	_, err := env.service.Create(context.Background(), owner, &frames{list: []*files.Frame{
		metaFrame("x", 5, false), chunkFrame("1234"),
	}})
	require.Error(t, err)
	assert.True(t, files.ErrDataLoss.Has(err))
	assert.Contains(t, err.Error(), "size mismatch")

	_, err = env.service.Get(context.Background(), owner, files.Lookup{Name: "x"})
	assert.True(t, files.ErrNotFound.Has(err))
}

func TestCreateClientAbort(t *testing.T) {
	env := setupService(t)
	owner := uuid.New()
	errAbort := errors.New("stream reset")

	_, err := env.service.Create(context.Background(), owner, &frames{
		list: []*files.Frame{metaFrame("partial", 10, false), chunkFrame("12345")},
		err:  errAbort,
	})
	require.ErrorIs(t, err, errAbort)

	assert.Equal(t, 0, env.blobCount(t))
	_, err = env.service.Get(context.Background(), owner, files.Lookup{Name: "partial"})
	assert.True(t, files.ErrNotFound.Has(err))
}

func TestCreateNameCollision(t *testing.T) {
	env := setupService(t)
	u1, u2 := uuid.New(), uuid.New()

	env.upload(t, u1, "x", "first", false)

	_, err := env.service.Create(context.Background(), u2, &frames{list: []*files.Frame{
		metaFrame("x", 6, false), chunkFrame("second"),
	}})
	require.Error(t, err)
	assert.True(t, files.ErrAlreadyExists.Has(err))
	assert.Equal(t, 1, env.blobCount(t))
	assert.Empty(t, listNames(t, env.service.ListOwned, u2))
}

func TestCreateMaxUploadSize(t *testing.T) {
	env := setupService(t, files.WithMaxUploadSize(8))
	owner := uuid.New()

	_, err := env.service.Create(context.Background(), owner, &frames{list: []*files.Frame{
		metaFrame("big", 9, false), chunkFrame("123456789"),
	}})
	require.Error(t, err)
	assert.True(t, files.ErrInvalidArgument.Has(err))

	env.upload(t, owner, "fits", "12345678", false)
}

func TestDownloadChunking(t *testing.T) {
	env := setupService(t)
	owner := uuid.New()
	content := bytes.Repeat([]byte("abcdefgh"), (2*files.DownloadChunkSize+10)/8)
	content = append(content, "xy"...)
	require.Equal(t, 2*files.DownloadChunkSize+10, len(content))

	file := env.upload(t, owner, "big.bin", string(content), false)

	chunks, err := env.download(owner, file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], files.DownloadChunkSize)
	assert.Len(t, chunks[1], files.DownloadChunkSize)
	assert.Len(t, chunks[2], 10)
	assert.Equal(t, content, bytes.Join(chunks, nil))
}

func TestDownloadStopsOnSendFailure(t *testing.T) {
	env := setupService(t)
	owner := uuid.New()
	content := bytes.Repeat([]byte{1}, 40*files.DownloadChunkSize)
	file := env.upload(t, owner, "many.bin", string(content), false)

	errClosed := errors.New("stream closed")
	sent := 0
	err := env.service.Download(context.Background(), owner, file.ID, func([]byte) error {
		sent++
		if sent == 2 {
			return errClosed
		}
		return nil
	})
	require.ErrorIs(t, err, errClosed)
	assert.Equal(t, 2, sent)
}

func TestDownloadUnknown(t *testing.T) {
	env := setupService(t)

	_, err := env.download(uuid.New(), uuid.New())
	assert.True(t, files.ErrNotFound.Has(err))
}

func TestAccess(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	t.Run("public sharing", func(t *testing.T) {
		file := env.upload(t, u1, "public.txt", "public bytes", false)

		_, err := env.service.Get(ctx, u2, files.Lookup{ID: file.ID})
		require.True(t, files.ErrPermissionDenied.Has(err))

		visible := true
		require.NoError(t, env.service.Share(ctx, u1, files.ShareRequest{FileID: file.ID, Visibility: &visible}))

		got, err := env.service.Get(ctx, u2, files.Lookup{ID: file.ID})
		require.NoError(t, err)
		assert.True(t, got.IsPublic)

		chunks, err := env.download(u2, file.ID)
		require.NoError(t, err)
		assert.Equal(t, "public bytes", string(bytes.Join(chunks, nil)))

		assert.NotContains(t, listNames(t, env.service.ListShared, u2), "public.txt")
	})

	t.Run("targeted sharing", func(t *testing.T) {
		file := env.upload(t, u1, "targeted.txt", "secret", false)

		_, err := env.download(u2, file.ID)
		require.True(t, files.ErrPermissionDenied.Has(err))

		_, err = env.service.Get(ctx, u2, files.Lookup{Name: "targeted.txt"})
		require.True(t, files.ErrPermissionDenied.Has(err))

		require.NoError(t, env.service.Share(ctx, u1, files.ShareRequest{FileID: file.ID, Grantees: []uuid.UUID{u2}}))
		require.NoError(t, env.service.Share(ctx, u1, files.ShareRequest{FileID: file.ID, Grantees: []uuid.UUID{u2}}))

		chunks, err := env.download(u2, file.ID)
		require.NoError(t, err)
		assert.Equal(t, "secret", string(bytes.Join(chunks, nil)))

		assert.Equal(t, []string{"targeted.txt"}, listNames(t, env.service.ListShared, u2))
	})
}

func TestShare(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	file := env.upload(t, owner, "s.txt", "s", false)

	t.Run("nothing to do", func(t *testing.T) {
		err := env.service.Share(ctx, owner, files.ShareRequest{FileID: file.ID})
		assert.True(t, files.ErrInvalidArgument.Has(err))
	})

	t.Run("not the owner", func(t *testing.T) {
		err := env.service.Share(ctx, other, files.ShareRequest{FileID: file.ID, Grantees: []uuid.UUID{other}})
		assert.True(t, files.ErrPermissionDenied.Has(err))
	})

	t.Run("unknown file", func(t *testing.T) {
		err := env.service.Share(ctx, owner, files.ShareRequest{FileID: uuid.New(), Grantees: []uuid.UUID{other}})
		assert.True(t, files.ErrNotFound.Has(err))
	})

	t.Run("visibility wins over grantees", func(t *testing.T) {
		hidden := false
		env.clock.Advance(time.Minute)
		err := env.service.Share(ctx, owner, files.ShareRequest{FileID: file.ID, Grantees: []uuid.UUID{other}, Visibility: &hidden})
		require.NoError(t, err)

		_, err = env.service.Get(ctx, other, files.Lookup{ID: file.ID})
		assert.True(t, files.ErrPermissionDenied.Has(err))

		got, err := env.service.Get(ctx, owner, files.Lookup{ID: file.ID})
		require.NoError(t, err)
		assert.True(t, env.clock.Now().Equal(got.UpdatedAt))
	})
}

func TestGetValidation(t *testing.T) {
	env := setupService(t)

	_, err := env.service.Get(context.Background(), uuid.New(), files.Lookup{})
	assert.True(t, files.ErrInvalidArgument.Has(err))
}

func TestListingIsolation(t *testing.T) {
	env := setupService(t)
	a, b := uuid.New(), uuid.New()

	env.upload(t, a, "a1", "1", false)
	env.upload(t, a, "a2", "2", true)
	bf := env.upload(t, b, "b1", "3", false)
	require.NoError(t, env.service.Share(context.Background(), b, files.ShareRequest{FileID: bf.ID, Grantees: []uuid.UUID{a, b}}))

	assert.Equal(t, []string{"a1", "a2"}, listNames(t, env.service.ListOwned, a))
	assert.Equal(t, []string{"b1"}, listNames(t, env.service.ListOwned, b))
	assert.Equal(t, []string{"b1"}, listNames(t, env.service.ListShared, a))
	assert.Empty(t, listNames(t, env.service.ListShared, b))

	err := env.service.ListOwned(context.Background(), a, func(f *files.File) error {
		assert.Equal(t, a, f.OwnerID)
		return nil
	})
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()
	file := env.upload(t, owner, "d.txt", "delete me", true)

	err := env.service.Delete(ctx, other, file.ID)
	require.True(t, files.ErrPermissionDenied.Has(err))

	require.NoError(t, env.service.Delete(ctx, owner, file.ID))
	assert.False(t, env.storage.Exists(file.ID))

	_, err = env.service.Get(ctx, owner, files.Lookup{ID: file.ID})
	assert.True(t, files.ErrNotFound.Has(err))
	_, err = env.download(owner, file.ID)
	assert.True(t, files.ErrNotFound.Has(err))
	err = env.service.Delete(ctx, owner, file.ID)
	assert.True(t, files.ErrNotFound.Has(err))
}

func TestOrphanReconciliation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	owner := uuid.New()
	file := env.upload(t, owner, "orphan.txt", "soon gone", false)

	require.NoError(t, os.Remove(env.storage.Path(file.ID)))

	_, err := env.download(owner, file.ID)
	require.True(t, files.ErrNotFound.Has(err))

	_, err = env.service.Get(ctx, owner, files.Lookup{ID: file.ID})
	assert.True(t, files.ErrNotFound.Has(err))

	_, err = env.download(owner, file.ID)
	assert.True(t, files.ErrNotFound.Has(err))
}
