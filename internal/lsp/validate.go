package lsp

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/r0nsha/chili-ls/internal/diag"
	"github.com/r0nsha/chili-ls/internal/observ"
	"github.com/r0nsha/chili-ls/internal/source"
)

// scheduleValidate feeds the buffer's current snapshot into its
// throttle. The throttle decides when a run actually starts.
func (s *Server) scheduleValidate(uri string) {
	s.mu.Lock()
	content, open := s.openDocs[uri]
	version := s.versions[uri]
	th := s.throttles[uri]
	if open && th == nil {
		th = newThrottle(s.interval, s.clock, s.startValidate)
		s.throttles[uri] = th
	}
	s.mu.Unlock()
	if !open {
		return
	}
	th.note(validatePayload{uri: uri, version: version, content: content})
}

// beginValidate registers a new run for the buffer and cancels the
// previous one. The returned seq identifies this run when its result
// comes back.
func (s *Server) beginValidate(p validatePayload) (context.Context, context.CancelFunc, uint64) {
	s.mu.Lock()
	seq := s.runSeqs[p.uri] + 1
	s.runSeqs[p.uri] = seq
	if cancel := s.passCancels[p.uri]; cancel != nil {
		cancel()
	}
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.passCancels[p.uri] = cancel
	trace := s.trace
	s.mu.Unlock()
	if trace {
		s.logf("validate: uri=%s version=%d seq=%d", p.uri, p.version, seq)
	}
	return ctx, cancel, seq
}

func (s *Server) startValidate(p validatePayload) {
	ctx, cancel, seq := s.beginValidate(p)
	go func() {
		defer cancel()
		s.validatePass(ctx, seq, p)
	}()
}

// validatePass runs the checker over one buffer snapshot and publishes
// what it reports. Tool problems are logged and leave the previously
// published diagnostics untouched.
func (s *Server) validatePass(ctx context.Context, seq uint64, p validatePayload) {
	if s.check == nil {
		return
	}
	s.mu.Lock()
	capable := s.configCapable
	trace := s.trace
	s.mu.Unlock()
	if !capable {
		s.logf("validate %s skipped: client never declared workspace/configuration support", p.uri)
		return
	}
	settings := s.settingsFor(ctx, p.uri)
	if ctx.Err() != nil {
		return
	}

	path := uriToPath(p.uri)
	var timer *observ.Timer
	if trace {
		timer = observ.NewTimer()
	}
	res, scratch := s.check(ctx, path, []byte(p.content), filepath.Dir(path), timer)
	if ctx.Err() != nil {
		return
	}
	if trace && timer != nil {
		s.logf("validate %s:\n%s", p.uri, strings.TrimRight(timer.Summary(), "\n"))
	}
	if res.LaunchErr != nil {
		// The runner already logged the failure. Whatever was published
		// for this buffer before stays up.
		return
	}

	diags, decodeErrs := diag.DecodeStream(res.Stdout)
	for _, err := range decodeErrs {
		s.logf("validate %s: %v", p.uri, err)
	}

	bufFile := fileForContent(path, p.content)
	resolved := map[string]*source.File{}
	grouped := make(map[string][]lspDiagnostic)
	problems := 0
	for _, d := range diags {
		if problems >= settings.MaxNumberOfProblems {
			if trace {
				s.logf("validate %s: problem cap %d reached, %d dropped", p.uri, settings.MaxNumberOfProblems, len(diags)-problems)
			}
			break
		}
		targetURI, file, ok := s.resolveSource(d.Source, scratch, p.uri, bufFile, resolved)
		if !ok {
			s.logf("validate %s: dropped diagnostic for unknown source %q", p.uri, d.Source)
			continue
		}
		problems++
		grouped[targetURI] = append(grouped[targetURI], lspDiagnostic{
			Range:    rangeForSpan(file, d.Span),
			Severity: severityToLSP(d.Severity),
			Source:   settingsSection,
			Message:  d.Message,
		})
	}
	s.publishValidated(seq, p, grouped)
}

// resolveSource maps a tool-printed source path onto an open document.
// The scratch path resolves to the requesting buffer; any other path
// must match an open document, whose own content backs the span
// conversion. Unknown paths report false.
func (s *Server) resolveSource(src, scratch, bufURI string, bufFile *source.File, cache map[string]*source.File) (string, *source.File, bool) {
	if src == "" {
		return "", nil, false
	}
	if scratch != "" && filepath.Clean(src) == filepath.Clean(scratch) {
		return bufURI, bufFile, true
	}
	uri := canonicalURI(pathToURI(src))
	if uri == bufURI {
		return bufURI, bufFile, true
	}
	if f := cache[uri]; f != nil {
		return uri, f, true
	}
	s.mu.Lock()
	content, open := s.openDocs[uri]
	s.mu.Unlock()
	if !open {
		return "", nil, false
	}
	f := fileForContent(uriToPath(uri), content)
	cache[uri] = f
	return uri, f, true
}

// publishValidated swaps in the diagnostics of one finished run. Stale
// runs, detected by seq or by the buffer having moved on to another
// version, are discarded so the newest snapshot always wins. Targets
// published by the previous run but absent from this one are cleared.
func (s *Server) publishValidated(seq uint64, p validatePayload, grouped map[string][]lspDiagnostic) {
	targets := make([]string, 0, len(grouped))
	for uri := range grouped {
		targets = append(targets, uri)
	}
	sort.Strings(targets)

	s.mu.Lock()
	trace := s.trace
	if s.runSeqs[p.uri] != seq {
		s.mu.Unlock()
		if trace {
			s.logf("discard validate result: uri=%s seq=%d superseded", p.uri, seq)
		}
		return
	}
	if version, open := s.versions[p.uri]; !open || version != p.version {
		s.mu.Unlock()
		if trace {
			s.logf("discard validate result: uri=%s version=%d moved on", p.uri, p.version)
		}
		return
	}
	prev := s.published[p.uri]
	next := make(map[string]bool, len(targets))
	for _, uri := range targets {
		next[uri] = true
	}
	if len(next) == 0 {
		delete(s.published, p.uri)
	} else {
		s.published[p.uri] = next
	}
	stale := make([]string, 0, len(prev))
	for uri := range prev {
		if !next[uri] {
			stale = append(stale, uri)
		}
	}
	sort.Strings(stale)
	s.mu.Unlock()

	for _, uri := range targets {
		if err := s.sendPublish(uri, grouped[uri]); err != nil {
			s.logf("failed to publish diagnostics: %v", err)
		}
	}
	for _, uri := range stale {
		if err := s.sendPublish(uri, nil); err != nil {
			s.logf("failed to clear diagnostics: %v", err)
		}
	}
}

func severityToLSP(sev diag.Severity) int {
	switch sev {
	case diag.SevError:
		return 1
	case diag.SevWarning:
		return 2
	default:
		return 3
	}
}
