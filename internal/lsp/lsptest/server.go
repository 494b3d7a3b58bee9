// Package lsptest provides an in-process fake language server for tests.
//
// The fake speaks real JSON-RPC over an in-memory pipe. It answers every
// request with a null result. Client messages are recorded on the client side
// of the pipe as they are written, so the recorded order across languages is
// the order in which the client sent them.
package lsptest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/dshills/nblsp/internal/lsp"
)

// WaitTimeout bounds the Wait helpers.
const WaitTimeout = 2 * time.Second

// Message is one client message received by the fake.
type Message struct {
	Language string
	Method   string
	Params   json.RawMessage
}

// URI returns params.textDocument.uri.
func (m Message) URI() string {
	return gjson.GetBytes(m.Params, "textDocument.uri").String()
}

// Version returns params.textDocument.version.
func (m Message) Version() int32 {
	return int32(gjson.GetBytes(m.Params, "textDocument.version").Int())
}

// Text returns the synchronized text of didOpen, didChange or didSave.
func (m Message) Text() string {
	switch m.Method {
	case protocol.MethodTextDocumentDidOpen:
		return gjson.GetBytes(m.Params, "textDocument.text").String()
	case protocol.MethodTextDocumentDidChange:
		return gjson.GetBytes(m.Params, "contentChanges.0.text").String()
	default:
		return gjson.GetBytes(m.Params, "text").String()
	}
}

// Decode unmarshals the params into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Params, v)
}

func (m Message) String() string {
	if uri := m.URI(); uri != "" {
		return fmt.Sprintf("%s %s", m.Method, uri)
	}
	return m.Method
}

// Server is a fake language server usable as an lsp.Dialer.
type Server struct {
	t testing.TB

	mu       sync.Mutex
	messages []Message
	dials    map[string]int
	failures map[string]error
	held     map[string]*hold
	conns    map[string][]jsonrpc2.Conn
}

// NewServer creates a fake server whose connections are closed when the
// test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		t:        t,
		dials:    make(map[string]int),
		failures: make(map[string]error),
		held:     make(map[string]*hold),
		conns:    make(map[string][]jsonrpc2.Conn),
	}
	t.Cleanup(s.closeAll)
	return s
}

// Configs returns server configurations for languages; the commands are
// never executed.
func (s *Server) Configs(languages ...string) map[string]lsp.ServerConfig {
	configs := make(map[string]lsp.ServerConfig, len(languages))
	for _, lang := range languages {
		configs[lang] = lsp.ServerConfig{Command: "fake-" + lang, Timeout: WaitTimeout}
	}
	return configs
}

// Dial implements lsp.Dialer.
func (s *Server) Dial(ctx context.Context, language string, _ lsp.ServerConfig) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	s.dials[language]++
	err := s.failures[language]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	client, server := net.Pipe()
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(server))
	conn.Go(context.Background(), s.handler(language, conn))

	s.mu.Lock()
	s.conns[language] = append(s.conns[language], conn)
	s.mu.Unlock()
	return &tap{Conn: client, server: s, language: language}, nil
}

var headerEnd = []byte("\r\n\r\n")

// tap records the messages written by the client.
type tap struct {
	net.Conn
	server   *Server
	language string
}

func (c *tap) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		return n, err
	}
	body := p
	if i := bytes.Index(p, headerEnd); i >= 0 {
		body = p[i+len(headerEnd):]
	}
	if len(body) == 0 || body[0] != '{' {
		return n, nil
	}
	if method := gjson.GetBytes(body, "method"); method.Exists() {
		c.server.record(Message{
			Language: c.language,
			Method:   method.String(),
			Params:   json.RawMessage(gjson.GetBytes(body, "params").Raw),
		})
	}
	return n, nil
}

// FailDial makes every dial for language fail with err; nil clears it.
func (s *Server) FailDial(language string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, language)
		return
	}
	s.failures[language] = err
}

// Dials returns how often language was dialed.
func (s *Server) Dials(language string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials[language]
}

type hold struct {
	ch   chan struct{}
	once sync.Once
}

func (h *hold) release() {
	h.once.Do(func() { close(h.ch) })
}

// HoldInitialize delays initialize responses for language until the
// returned function is called.
func (s *Server) HoldInitialize(language string) (release func()) {
	h := &hold{ch: make(chan struct{})}
	s.mu.Lock()
	s.held[language] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.held[language] == h {
			delete(s.held, language)
		}
		s.mu.Unlock()
		h.release()
	}
}

func (s *Server) handler(language string, conn jsonrpc2.Conn) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		switch req.Method() {
		case protocol.MethodInitialize:
			result := &protocol.InitializeResult{
				ServerInfo: &protocol.ServerInfo{Name: "fake-" + language, Version: "0.0.0"},
			}
			s.mu.Lock()
			held := s.held[language]
			s.mu.Unlock()
			if held == nil {
				return reply(ctx, result, nil)
			}
			go func() {
				<-held.ch
				_ = reply(context.Background(), result, nil)
			}()
			return nil

		case protocol.MethodExit:
			go func() { _ = conn.Close() }()
			return nil

		default:
			return reply(ctx, nil, nil)
		}
	}
}

func (s *Server) record(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

// Messages returns every client message in the order it was sent.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Received returns the messages with the given method.
func (s *Server) Received(method string) []Message {
	var out []Message
	for _, m := range s.Messages() {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// ReceivedFor returns the messages with the given method for one document.
func (s *Server) ReceivedFor(method, uri string) []Message {
	var out []Message
	for _, m := range s.Received(method) {
		if m.URI() == uri {
			out = append(out, m)
		}
	}
	return out
}

// Sync returns the document synchronization messages in arrival order.
func (s *Server) Sync() []Message {
	var out []Message
	for _, m := range s.Messages() {
		switch m.Method {
		case protocol.MethodTextDocumentDidOpen,
			protocol.MethodTextDocumentDidChange,
			protocol.MethodTextDocumentDidSave,
			protocol.MethodTextDocumentDidClose:
			out = append(out, m)
		}
	}
	return out
}

// WaitFor waits until at least n messages with method were received.
func (s *Server) WaitFor(method string, n int) []Message {
	s.t.Helper()
	require.Eventually(s.t, func() bool {
		return len(s.Received(method)) >= n
	}, WaitTimeout, 5*time.Millisecond, "waiting for %d %s", n, method)
	return s.Received(method)
}

// WaitForDocument waits until at least n messages with method were received
// for uri.
func (s *Server) WaitForDocument(method, uri string, n int) []Message {
	s.t.Helper()
	require.Eventually(s.t, func() bool {
		return len(s.ReceivedFor(method, uri)) >= n
	}, WaitTimeout, 5*time.Millisecond, "waiting for %d %s of %s", n, method, uri)
	return s.ReceivedFor(method, uri)
}

// PublishDiagnostics sends diagnostics from the latest server of language.
func (s *Server) PublishDiagnostics(ctx context.Context, language string, params *protocol.PublishDiagnosticsParams) error {
	return s.notify(ctx, language, protocol.MethodTextDocumentPublishDiagnostics, params)
}

// ShowMessage sends window/showMessage from the latest server of language.
func (s *Server) ShowMessage(ctx context.Context, language string, typ protocol.MessageType, text string) error {
	return s.notify(ctx, language, protocol.MethodWindowShowMessage, &protocol.ShowMessageParams{Type: typ, Message: text})
}

// LogMessage sends window/logMessage from the latest server of language.
func (s *Server) LogMessage(ctx context.Context, language string, typ protocol.MessageType, text string) error {
	return s.notify(ctx, language, protocol.MethodWindowLogMessage, &protocol.LogMessageParams{Type: typ, Message: text})
}

func (s *Server) notify(ctx context.Context, language, method string, params any) error {
	conn := s.latest(language)
	if conn == nil {
		return fmt.Errorf("no server running for %s", language)
	}
	return conn.Notify(ctx, method, params)
}

// Crash closes every server connection of language without a shutdown.
func (s *Server) Crash(language string) {
	s.mu.Lock()
	conns := s.conns[language]
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) latest(language string) jsonrpc2.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.conns[language]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (s *Server) closeAll() {
	s.mu.Lock()
	var conns []jsonrpc2.Conn
	for _, cs := range s.conns {
		conns = append(conns, cs...)
	}
	for _, h := range s.held {
		h.release()
	}
	s.held = make(map[string]*hold)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
