package app

import (
	"errors"
	"strings"
	"time"

	"docchat/internal/analysis"
	"docchat/pkg/ai"
	"docchat/pkg/policy"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

const (
	defaultHistoryLimit      = 6
	defaultAnalysisTimeout   = 5 * time.Minute
	defaultCompletionTimeout = 2 * time.Minute
	defaultSystemPrompt      = "You are a professional document assistant. Answer using the document the user provided."
)

// Config holds the collaborators and settings of the core application.
type Config struct {
	RootAdminEmail    string
	RootAdminPassword string

	Store     store.Store
	Sessions  store.SessionStore
	Files     *storage.FileStore
	Archive   storage.Archive
	Analyzer  analysis.Analyzer
	Completer ai.Completer

	SystemPrompt      string
	HistoryLimit      int
	AnalysisTimeout   time.Duration
	CompletionTimeout time.Duration
	Now               func() time.Time
}

// App owns users, documents and chat history and applies the access policy
// to every operation.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	files     *storage.FileStore
	archive   storage.Archive
	analyzer  analysis.Analyzer
	completer ai.Completer
	policy    *policy.Policy

	rootPassword      string
	systemPrompt      string
	historyLimit      int
	analysisTimeout   time.Duration
	completionTimeout time.Duration
	now               func() time.Time
}

// New validates the configuration and builds the application.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store required")
	case cfg.Sessions == nil:
		return nil, errors.New("session store required")
	case cfg.Files == nil:
		return nil, errors.New("file store required")
	case cfg.Analyzer == nil:
		return nil, errors.New("analyzer required")
	case cfg.Completer == nil:
		return nil, errors.New("completer required")
	case strings.TrimSpace(cfg.RootAdminEmail) == "":
		return nil, errors.New("root admin email required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaultAnalysisTimeout
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = defaultCompletionTimeout
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		files:             cfg.Files,
		archive:           cfg.Archive,
		analyzer:          cfg.Analyzer,
		completer:         cfg.Completer,
		policy:            policy.New(cfg.RootAdminEmail),
		rootPassword:      cfg.RootAdminPassword,
		systemPrompt:      cfg.SystemPrompt,
		historyLimit:      cfg.HistoryLimit,
		analysisTimeout:   cfg.AnalysisTimeout,
		completionTimeout: cfg.CompletionTimeout,
		now:               cfg.Now,
	}, nil
}

// Policy exposes the access policy, e.g. for audit labels.
func (a *App) Policy() *policy.Policy {
	return a.policy
}

// SessionTTL is the lifetime of issued session tokens.
func (a *App) SessionTTL() time.Duration {
	return a.sessions.TTL()
}

func (a *App) timestamp() time.Time {
	return a.now().UTC().Truncate(time.Microsecond)
}
