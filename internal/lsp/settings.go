package lsp

import (
	"context"
	"encoding/json"
	"time"
)

// settingsSection is the configuration section the server reads from
// the client.
const settingsSection = "chili"

// settingsFetchTimeout bounds how long a validation pass waits for the
// client to answer a workspace/configuration request.
const settingsFetchTimeout = 5 * time.Second

// documentSettings is the per-document slice of client configuration
// the validator consults.
type documentSettings struct {
	MaxNumberOfProblems int `json:"maxNumberOfProblems"`
}

// pushedSettings is the shape a workspace/didChangeConfiguration
// notification may carry inline. Everything is optional.
type pushedSettings struct {
	Chili *struct {
		MaxNumberOfProblems *int  `json:"maxNumberOfProblems"`
		Trace               *bool `json:"trace"`
	} `json:"chili"`
}

// handleDidChangeConfiguration drops every cached per-document setting
// and revalidates the open documents, so the next pass sees the
// client's new configuration.
func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	var params didChangeConfigurationParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logf("didChangeConfiguration: %v", err)
			return nil
		}
	}
	s.applyPushedSettings(params.Settings)
	s.mu.Lock()
	s.settings = make(map[string]documentSettings)
	open := make(map[string]bool, len(s.openDocs))
	for uri := range s.openDocs {
		open[uri] = true
	}
	s.mu.Unlock()
	for _, uri := range sortedKeys(open) {
		s.scheduleValidate(uri)
	}
	return nil
}

func (s *Server) applyPushedSettings(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var parsed pushedSettings
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Chili == nil {
		return
	}
	s.mu.Lock()
	if parsed.Chili.MaxNumberOfProblems != nil {
		s.defaultSettings.MaxNumberOfProblems = maxZero(*parsed.Chili.MaxNumberOfProblems)
	}
	if parsed.Chili.Trace != nil {
		s.trace = *parsed.Chili.Trace
	}
	s.mu.Unlock()
}

// settingsFor returns the configuration slice for one document. Cache
// misses ask the client via workspace/configuration; a failed fetch
// falls back to the defaults without caching, so the next pass retries.
func (s *Server) settingsFor(ctx context.Context, uri string) documentSettings {
	s.mu.Lock()
	if cached, ok := s.settings[uri]; ok {
		s.mu.Unlock()
		return cached
	}
	fallback := s.defaultSettings
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, settingsFetchTimeout)
	defer cancel()
	raw, err := s.sendRequest(ctx, "workspace/configuration", configurationParams{
		Items: []configurationItem{{ScopeURI: uri, Section: settingsSection}},
	})
	if err != nil {
		s.logf("settings fetch for %s failed: %v", uri, err)
		return fallback
	}
	var slots []json.RawMessage
	if err := json.Unmarshal(raw, &slots); err != nil || len(slots) == 0 {
		return fallback
	}
	var got struct {
		MaxNumberOfProblems *int `json:"maxNumberOfProblems"`
	}
	if err := json.Unmarshal(slots[0], &got); err != nil {
		return fallback
	}
	parsed := fallback
	if got.MaxNumberOfProblems != nil {
		parsed.MaxNumberOfProblems = maxZero(*got.MaxNumberOfProblems)
	}
	s.mu.Lock()
	if _, stillOpen := s.openDocs[uri]; stillOpen {
		s.settings[uri] = parsed
	}
	s.mu.Unlock()
	return parsed
}
