package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r0nsha/chili-ls/internal/driver"
	"github.com/r0nsha/chili-ls/internal/observ"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// CheckFunc validates one buffer snapshot with the external checker. It
// also reports the scratch path the tool saw, so records printed
// against the scratch file can be mapped back to the buffer.
type CheckFunc func(ctx context.Context, bufferID string, content []byte, includeDir string, timer *observ.Timer) (driver.CheckResult, string)

// HoverFunc asks the checker for hover text at a byte offset.
type HoverFunc func(ctx context.Context, bufferID string, content []byte, includeDir string, offset uint32) (string, bool)

// DefinitionFunc asks the checker where the symbol at a byte offset is
// declared. An empty Definition.Source means the queried buffer itself.
type DefinitionFunc func(ctx context.Context, bufferID string, content []byte, includeDir string, offset uint32) (driver.Definition, bool)

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	// Throttle is the cooling window between validation runs of one
	// buffer. Defaults to 500ms.
	Throttle time.Duration
	// MaxDiagnostics caps reported problems when the client supplies
	// no maxNumberOfProblems setting. Defaults to 100.
	MaxDiagnostics int
	Trace          bool
	Check          CheckFunc
	Hover          HoverFunc
	Definition     DefinitionFunc
	// Clock drives the throttle. Defaults to real timers.
	Clock Clock
}

// RunnerSeams wires a checker runner into server options.
func RunnerSeams(r *driver.Runner, opts ServerOptions) ServerOptions {
	opts.Check = func(ctx context.Context, bufferID string, content []byte, includeDir string, timer *observ.Timer) (driver.CheckResult, string) {
		return r.CheckBuffer(ctx, bufferID, content, includeDir, timer), r.ScratchPath(bufferID)
	}
	opts.Hover = r.HoverInfo
	opts.Definition = func(ctx context.Context, bufferID string, content []byte, includeDir string, offset uint32) (driver.Definition, bool) {
		def, ok := r.GotoDefinition(ctx, bufferID, content, includeDir, offset)
		if ok && filepath.Clean(def.Source) == filepath.Clean(r.ScratchPath(bufferID)) {
			def.Source = ""
		}
		return def, ok
	}
	return opts
}

// Server handles stdio JSON-RPC for the Chili LSP.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex

	mu                sync.Mutex
	openDocs          map[string]string
	versions          map[string]int
	throttles         map[string]*throttle
	runSeqs           map[string]uint64
	passCancels       map[string]context.CancelFunc
	published         map[string]map[string]bool
	settings          map[string]documentSettings
	defaultSettings   documentSettings
	pending           map[uint64]chan *rpcMessage
	workspaceRoot     string
	shutdownRequested bool
	configCapable     bool
	trace             bool

	requestSeq uint64
	reqWG      sync.WaitGroup

	interval   time.Duration
	clock      Clock
	check      CheckFunc
	hover      HoverFunc
	definition DefinitionFunc
	baseCtx    context.Context
}

// NewServer constructs a new LSP server.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	interval := opts.Throttle
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	maxDiagnostics := opts.MaxDiagnostics
	if maxDiagnostics <= 0 {
		maxDiagnostics = 100
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Server{
		in:              bufio.NewReader(in),
		out:             bufio.NewWriter(out),
		openDocs:        make(map[string]string),
		versions:        make(map[string]int),
		throttles:       make(map[string]*throttle),
		runSeqs:         make(map[string]uint64),
		passCancels:     make(map[string]context.CancelFunc),
		published:       make(map[string]map[string]bool),
		settings:        make(map[string]documentSettings),
		defaultSettings: documentSettings{MaxNumberOfProblems: maxDiagnostics},
		pending:         make(map[uint64]chan *rpcMessage),
		interval:        interval,
		clock:           clock,
		check:           opts.Check,
		hover:           opts.Hover,
		definition:      opts.Definition,
		trace:           opts.Trace,
	}
}

// Run serves LSP requests until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	defer s.stopAllValidation()
	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logf("failed to parse message: %v", err)
			continue
		}
		if msg.Method == "" {
			s.routeResponse(&msg)
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		s.mu.Lock()
		requested := s.shutdownRequested
		s.mu.Unlock()
		if requested {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/hover":
		return s.handleHover(msg)
	case "textDocument/definition":
		return s.handleDefinition(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, -32601, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, -32602, "invalid params")
		}
	}
	root := ""
	if params.RootURI != "" {
		root = uriToPath(params.RootURI)
	}
	if root == "" && params.RootPath != "" {
		root = params.RootPath
	}
	if root == "" && len(params.WorkspaceFolders) > 0 {
		root = uriToPath(params.WorkspaceFolders[0].URI)
	}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	s.mu.Lock()
	s.workspaceRoot = root
	s.configCapable = params.Capabilities.Workspace.Configuration
	s.mu.Unlock()

	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    2,
				Save: saveOptions{
					IncludeText: true,
				},
			},
			HoverProvider:      true,
			DefinitionProvider: true,
		},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.stopAllValidation()
	s.clearAllPublished()
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	s.openDocs[uri] = params.TextDocument.Text
	s.versions[uri] = params.TextDocument.Version
	s.mu.Unlock()
	s.scheduleValidate(uri)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	_, open := s.openDocs[uri]
	if !open {
		s.mu.Unlock()
		return nil
	}
	text := applyChanges(s.openDocs[uri], params.ContentChanges)
	s.openDocs[uri] = text
	s.versions[uri] = params.TextDocument.Version
	trace := s.trace
	s.mu.Unlock()
	if trace {
		s.logf("didChange: uri=%s version=%d", uri, params.TextDocument.Version)
	}
	s.scheduleValidate(uri)
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	_, open := s.openDocs[uri]
	if open && params.Text != nil {
		s.openDocs[uri] = *params.Text
	}
	trace := s.trace
	s.mu.Unlock()
	if !open {
		return nil
	}
	if trace {
		s.logf("didSave: uri=%s", uri)
	}
	s.scheduleValidate(uri)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.openDocs, uri)
	delete(s.versions, uri)
	delete(s.settings, uri)
	delete(s.runSeqs, uri)
	th := s.throttles[uri]
	delete(s.throttles, uri)
	if cancel := s.passCancels[uri]; cancel != nil {
		cancel()
		delete(s.passCancels, uri)
	}
	targets := s.published[uri]
	delete(s.published, uri)
	s.mu.Unlock()
	if th != nil {
		th.stop()
	}
	for _, target := range sortedKeys(targets) {
		if err := s.sendPublish(target, nil); err != nil {
			s.logf("failed to clear diagnostics: %v", err)
		}
	}
	return nil
}

// stopAllValidation halts every throttle and cancels in-flight passes.
func (s *Server) stopAllValidation() {
	s.mu.Lock()
	throttles := make([]*throttle, 0, len(s.throttles))
	for _, th := range s.throttles {
		throttles = append(throttles, th)
	}
	s.throttles = make(map[string]*throttle)
	for uri, cancel := range s.passCancels {
		cancel()
		delete(s.passCancels, uri)
	}
	s.mu.Unlock()
	for _, th := range throttles {
		th.stop()
	}
}

// clearAllPublished retracts every diagnostic the server has published.
func (s *Server) clearAllPublished() {
	s.mu.Lock()
	targets := make(map[string]bool)
	for _, set := range s.published {
		for uri := range set {
			targets[uri] = true
		}
	}
	s.published = make(map[string]map[string]bool)
	s.mu.Unlock()
	for _, uri := range sortedKeys(targets) {
		if err := s.sendPublish(uri, nil); err != nil {
			s.logf("failed to clear diagnostics: %v", err)
		}
	}
}

// routeResponse delivers a client response to the request that is
// waiting for it.
func (s *Server) routeResponse(msg *rpcMessage) {
	id, ok := responseID(msg.ID)
	if !ok {
		return
	}
	s.mu.Lock()
	ch := s.pending[id]
	delete(s.pending, id)
	trace := s.trace
	s.mu.Unlock()
	if ch == nil {
		if trace {
			s.logf("orphan response: id=%d", id)
		}
		return
	}
	ch <- msg
}

func responseID(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// sendRequest issues a server-to-client request and blocks until the
// response arrives or ctx is done.
func (s *Server) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddUint64(&s.requestSeq, 1)
	ch := make(chan *rpcMessage, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	forget := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	if err := s.send(msg); err != nil {
		forget()
		return nil, err
	}
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s (%d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"error": rpcError{
			Code:    code,
			Message: message,
		},
	}
	return s.send(msg)
}

func (s *Server) sendPublish(uri string, list []lspDiagnostic) error {
	if list == nil {
		list = []lspDiagnostic{}
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Diagnostics: list,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "lsp: "+format+"\n", args...)
}

func maxZero(value int) int {
	if value < 0 {
		return 0
	}
	return value
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
