// Package server is a language server for script JSON documents. It
// publishes parse, compile and dry-run diagnostics and navigates labels.
package server

import (
	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

const lspName = "novella-lsp"

var log = commonlog.GetLogger("novella.server")

// LspServer bridges LSP editor features to script analysis via Worker.
type LspServer struct {
	worker *Worker

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server analysing documents under cfg.
func NewLSP(cfg Config) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace(cfg)),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentReferences:     s.textDocumentReferences,
		TextDocumentHover:          s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("novella LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.DocumentSymbolProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	log.Info("novella LSP shutting down")
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
		s.update(ctx, params.TextDocument.URI, whole.Text)
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	if _, err := s.worker.Do(func(ws *Workspace) any {
		ws.Close(string(uri))
		return nil
	}); err != nil {
		return err
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	res, err := s.worker.Do(func(ws *Workspace) any {
		return ws.Update(string(uri), text)
	})
	if err != nil {
		log.Errorf("analysing %s: %s", uri, err)
		return
	}
	a := res.(*Analysis)
	log.Debugf("%s: %d diagnostic(s)", uri, len(a.Diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: a.Diagnostics,
	})
}

// analysis fetches the cached analysis of uri.
func (s *LspServer) analysis(uri protocol.DocumentUri) *Analysis {
	res, err := s.worker.Do(func(ws *Workspace) any {
		a, ok := ws.Get(string(uri))
		if !ok {
			return nil
		}
		return a
	})
	if err != nil || res == nil {
		return nil
	}
	return res.(*Analysis)
}

// --- Language features ---

func (s *LspServer) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	a := s.analysis(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	return a.Symbols(), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	a := s.analysis(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	rng, ok := a.Definition(params.Position)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: params.TextDocument.URI, Range: rng}}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	a := s.analysis(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	var locations []protocol.Location
	for _, rng := range a.References(params.Position) {
		locations = append(locations, protocol.Location{URI: params.TextDocument.URI, Range: rng})
	}
	return locations, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	a := s.analysis(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	text, ok := a.Hover(params.Position)
	if !ok {
		return nil, nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}, nil
}

func boolPtr(b bool) *bool {
	return &b
}
