// Package enginetest provides an in-memory engine for handler and orchestrator tests.
package enginetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgecomet/render-agent/internal/render/engine"
	"github.com/edgecomet/render-agent/pkg/types"
)

// Page is the scripted outcome of one fake load
type Page struct {
	Text         string
	ScriptResult string
	FinalURL     string // defaults to the requested URL

	// LoadDelay postpones settlement; Hang never settles on its own
	LoadDelay time.Duration
	Hang      bool
	LoadErr   error

	PDF      []byte
	PNG      []byte
	PDFErr   error
	ImageErr error

	PanicOnText bool
}

// Engine serves Pages keyed by URL, falling back to Default
type Engine struct {
	mu      sync.Mutex
	pages   map[string]Page
	Default Page

	// SessionErr fails NewSession, ConfigureErr fails Configure
	SessionErr   error
	ConfigureErr error

	created  atomic.Int32
	closed   atomic.Int32
	aborted  atomic.Int32
	sessions []*Session
}

func New() *Engine {
	return &Engine{pages: make(map[string]Page)}
}

// SetPage registers the outcome for url
func (e *Engine) SetPage(url string, page Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[url] = page
}

func (e *Engine) page(url string) Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pages[url]; ok {
		return p
	}
	return e.Default
}

func (e *Engine) NewSession(ctx context.Context, requestID string) (engine.Session, error) {
	if e.SessionErr != nil {
		return nil, e.SessionErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.created.Add(1)
	s := &Session{engine: e, RequestID: requestID}

	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Created returns how many sessions were handed out
func (e *Engine) Created() int { return int(e.created.Load()) }

// Closed returns how many sessions were released
func (e *Engine) Closed() int { return int(e.closed.Load()) }

// Aborted returns how many sessions saw Abort
func (e *Engine) Aborted() int { return int(e.aborted.Load()) }

// LastSession returns the most recently created session, nil if none
func (e *Engine) LastSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// Session records what it was asked to do
type Session struct {
	engine    *Engine
	RequestID string

	mu        sync.Mutex
	Config    engine.SessionConfig
	Opts      engine.LoadOptions
	ImageSize *types.ImageSize
	page      Page
	closeOnce sync.Once
}

func (s *Session) Configure(cfg engine.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Config = cfg
	return s.engine.ConfigureErr
}

func (s *Session) Load(ctx context.Context, opts engine.LoadOptions) *engine.Completion {
	s.mu.Lock()
	s.Opts = opts
	s.page = s.engine.page(opts.URL)
	page := s.page
	s.mu.Unlock()

	c := engine.NewCompletion()
	switch {
	case page.Hang:
	case page.LoadDelay > 0:
		time.AfterFunc(page.LoadDelay, func() { c.Resolve(page.LoadErr) })
	default:
		c.Resolve(page.LoadErr)
	}
	return c
}

func (s *Session) Abort() {
	s.engine.aborted.Add(1)
}

func (s *Session) TextContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page.PanicOnText {
		panic("text extraction exploded")
	}
	return s.page.Text
}

func (s *Session) ScriptResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.ScriptResult
}

func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page.FinalURL != "" {
		return s.page.FinalURL
	}
	return s.Opts.URL
}

func (s *Session) PDF(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.PDF, s.page.PDFErr
}

func (s *Session) Image(ctx context.Context, size *types.ImageSize) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ImageSize = size
	return s.page.PNG, s.page.ImageErr
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { s.engine.closed.Add(1) })
}
