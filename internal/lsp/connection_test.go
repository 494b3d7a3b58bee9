package lsp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/lsp/lsptest"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

const testURI = uri.URI("file:///tmp/nb.py")

func newTestManager(t *testing.T, fake *lsptest.Server, languages ...string) *lsp.Manager {
	t.Helper()
	m := lsp.NewManager(
		lsp.WithLogger(zaptest.NewLogger(t)),
		lsp.WithDialer(fake),
		lsp.WithServers(fake.Configs(languages...)),
		lsp.WithRetry(0, 0),
	)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func connect(t *testing.T, m *lsp.Manager, idPath string, u uri.URI, language string) *lsp.Connection {
	t.Helper()
	conn, err := m.Connect(context.Background(), lsp.ConnectRequest{IDPath: idPath, URI: u, Language: language})
	require.NoError(t, err)
	return conn
}

func info(version int32) virtualdoc.DocumentInfo {
	return virtualdoc.DocumentInfo{URI: testURI, LanguageID: "python", Version: version}
}

func TestConnection_OpenThenChange(t *testing.T) {
	fake := lsptest.NewServer(t)
	m := newTestManager(t, fake, "python")
	conn := connect(t, m, "nb#py", testURI, "python")
	ctx := context.Background()

	assert.True(t, conn.IsReady())
	assert.False(t, conn.IsOpen())

	require.NoError(t, conn.SendFullTextChange(ctx, "x = 1", info(1)))
	require.NoError(t, conn.SendFullTextChange(ctx, "x = 2", info(2)))
	assert.True(t, conn.IsOpen())
	assert.Equal(t, int32(2), conn.LastVersion())

	sync := fake.Sync()
	require.Len(t, sync, 2)

	assert.Equal(t, protocol.MethodTextDocumentDidOpen, sync[0].Method)
	assert.Equal(t, "x = 1", sync[0].Text())
	assert.Equal(t, string(testURI), sync[0].URI())
	var open protocol.DidOpenTextDocumentParams
	require.NoError(t, sync[0].Decode(&open))
	assert.Equal(t, protocol.LanguageIdentifier("python"), open.TextDocument.LanguageID)

	assert.Equal(t, protocol.MethodTextDocumentDidChange, sync[1].Method)
	assert.Equal(t, "x = 2", sync[1].Text())
	assert.Equal(t, int32(2), sync[1].Version())
	// A full-text change carries no range.
	assert.NotContains(t, string(sync[1].Params), "range")
}

func TestConnection_SkipsStaleVersions(t *testing.T) {
	fake := lsptest.NewServer(t)
	m := newTestManager(t, fake, "python")
	conn := connect(t, m, "nb#py", testURI, "python")
	ctx := context.Background()

	require.NoError(t, conn.SendFullTextChange(ctx, "a", info(3)))
	require.NoError(t, conn.SendFullTextChange(ctx, "b", info(3)))
	require.NoError(t, conn.SendFullTextChange(ctx, "c", info(2)))

	sync := fake.Sync()
	require.Len(t, sync, 1)
	assert.Equal(t, int32(3), conn.LastVersion())
}

func TestConnection_SendSaved(t *testing.T) {
	fake := lsptest.NewServer(t)
	m := newTestManager(t, fake, "python")
	conn := connect(t, m, "nb#py", testURI, "python")
	ctx := context.Background()

	assert.ErrorIs(t, conn.SendSaved(ctx, "x"), lsp.ErrDocumentNotOpen)

	require.NoError(t, conn.SendFullTextChange(ctx, "x", info(1)))
	require.NoError(t, conn.SendSaved(ctx, "x"))

	saved := fake.Received(protocol.MethodTextDocumentDidSave)
	require.Len(t, saved, 1)
	assert.Equal(t, "x", saved[0].Text())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	fake := lsptest.NewServer(t)
	m := newTestManager(t, fake, "python")
	conn := connect(t, m, "nb#py", testURI, "python")
	ctx := context.Background()

	require.NoError(t, conn.SendFullTextChange(ctx, "x", info(1)))
	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))

	assert.Len(t, fake.Received(protocol.MethodTextDocumentDidClose), 1)
	assert.False(t, conn.IsReady())
	assert.False(t, conn.IsOpen())

	assert.ErrorIs(t, conn.SendFullTextChange(ctx, "y", info(2)), lsp.ErrConnectionClosed)
	assert.ErrorIs(t, conn.SendSaved(ctx, "y"), lsp.ErrConnectionClosed)
	assert.Len(t, fake.Sync(), 2)
}

func TestConnection_CloseWithoutOpenSendsNothing(t *testing.T) {
	fake := lsptest.NewServer(t)
	m := newTestManager(t, fake, "python")
	conn := connect(t, m, "nb#py", testURI, "python")

	require.NoError(t, conn.Close(context.Background()))
	assert.Empty(t, fake.Sync())
}

func TestConnection_NotReady(t *testing.T) {
	fake := lsptest.NewServer(t)
	m := newTestManager(t, fake, "python")
	conn := connect(t, m, "nb#py", testURI, "python")
	ctx := context.Background()

	require.NoError(t, conn.Session().Shutdown(ctx))

	assert.False(t, conn.IsReady())
	assert.ErrorIs(t, conn.SendFullTextChange(ctx, "x", info(1)), lsp.ErrServerNotReady)
	assert.Empty(t, fake.Sync())
}
