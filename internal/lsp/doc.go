// Package lsp connects virtual documents to language servers.
//
// The package is organized around three components:
//
//   - Session: one initialized JSON-RPC session with a server, shared by every
//     document of the same language
//   - Connection: one virtual document bound to a session
//   - Manager: starts sessions on demand and keeps at most one connection per
//     document ID path
//
// # Quick Start
//
//	m := lsp.NewManager(
//	    lsp.WithLogger(logger),
//	    lsp.WithServers(lsp.DefaultServerConfigs()),
//	)
//	defer m.Shutdown(ctx)
//
//	conn, err := m.Connect(ctx, lsp.ConnectRequest{
//	    IDPath:   doc.IDPath(),
//	    URI:      doc.URI(),
//	    Language: doc.Language(),
//	})
//	if err != nil {
//	    return err
//	}
//
//	text, info := doc.Snapshot()
//	err = conn.SendFullTextChange(ctx, text, info) // didOpen
//
// # Synchronization
//
// Documents are always synchronized as a whole: the first send is
// textDocument/didOpen and every later one a textDocument/didChange carrying a
// single change without range. Versions never go backwards; a send whose
// version is not newer than the last one is dropped.
//
// # Server Lifecycle
//
// Sessions are started by a Dialer (ProcessDialer by default) and retried with
// exponential backoff. A missing executable is not retried. A session whose
// transport ends is marked SessionStatusError; the next Connect for its
// language starts a replacement. Shutdown closes every connection, then sends
// shutdown and exit to every server concurrently.
//
// # Thread Safety
//
// All types are safe for concurrent use. Handlers of Manager.Closed run while
// registration is blocked and must not call Connect, Disconnect or Unregister
// synchronously.
package lsp
