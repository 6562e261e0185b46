package lsp

import (
	"encoding/json"
	"path/filepath"

	"github.com/r0nsha/chili-ls/internal/source"
)

func (s *Server) handleDefinition(msg *rpcMessage) error {
	var params definitionParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, -32602, "invalid params")
		}
	}
	uri := canonicalURI(params.TextDocument.URI)
	s.mu.Lock()
	content, open := s.openDocs[uri]
	s.mu.Unlock()
	if !open || s.definition == nil {
		return s.sendResponse(msg.ID, []location{})
	}
	// Like hover, the tool call must not hold up the read loop.
	id := msg.ID
	s.reqWG.Add(1)
	go func() {
		defer s.reqWG.Done()
		if err := s.sendResponse(id, s.definitionLocations(uri, content, params.Position)); err != nil {
			s.logf("definition response: %v", err)
		}
	}()
	return nil
}

func (s *Server) definitionLocations(uri, content string, pos position) []location {
	file := fileForContent(uriToPath(uri), content)
	offset := offsetForPositionInFile(file, pos)
	def, ok := s.definition(s.handlerCtx(), file.Path, file.Content, filepath.Dir(file.Path), offset)
	if !ok {
		return []location{}
	}

	target := file
	targetURI := uri
	if def.Source != "" {
		targetURI = canonicalURI(pathToURI(def.Source))
		if targetURI == "" {
			return []location{}
		}
		s.mu.Lock()
		text, openTarget := s.openDocs[targetURI]
		s.mu.Unlock()
		if openTarget {
			target = fileForContent(uriToPath(targetURI), text)
		} else {
			loaded, err := source.NewFileSet().Load(uriToPath(targetURI))
			if err != nil {
				s.logf("definition target %s: %v", def.Source, err)
				return []location{}
			}
			target = loaded
		}
	}
	return []location{{
		URI:   targetURI,
		Range: rangeForSpan(target, def.Span),
	}}
}
