package lsp

import (
	"context"
	"encoding/json"
	"path/filepath"
)

func (s *Server) handleHover(msg *rpcMessage) error {
	var params hoverParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, -32602, "invalid params")
		}
	}
	uri := canonicalURI(params.TextDocument.URI)
	s.mu.Lock()
	content, open := s.openDocs[uri]
	s.mu.Unlock()
	if !open || s.hover == nil {
		return s.sendResponse(msg.ID, nil)
	}
	// The tool call runs off the read loop so the wire keeps draining
	// while the checker works. The snapshot taken above is the one
	// answered, even if the buffer changes in the meantime.
	id := msg.ID
	s.reqWG.Add(1)
	go func() {
		defer s.reqWG.Done()
		file := fileForContent(uriToPath(uri), content)
		offset := offsetForPositionInFile(file, params.Position)
		text, ok := s.hover(s.handlerCtx(), file.Path, file.Content, filepath.Dir(file.Path), offset)
		var err error
		if !ok || text == "" {
			err = s.sendResponse(id, nil)
		} else {
			err = s.sendResponse(id, &hover{
				Contents: markupContent{Kind: "markdown", Value: text},
			})
		}
		if err != nil {
			s.logf("hover response: %v", err)
		}
	}()
	return nil
}

func (s *Server) handlerCtx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}
