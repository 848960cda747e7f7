package lsp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/document"
)

// contentChange mirrors the wire shape of one didChange edit. The
// pointer keeps "range absent" (full replacement) distinguishable
// from a zero range.
type contentChange struct {
	Range *protocol.Range `json:"range,omitempty"`
	Text  string          `json:"text"`
}

// didChangeParams is decoded by hand for the same reason.
type didChangeParams struct {
	TextDocument struct {
		URI     protocol.DocumentURI `json:"uri"`
		Version int32                `json:"version"`
	} `json:"textDocument"`
	ContentChanges []contentChange `json:"contentChanges"`
}

func (s *Server) handleDidOpen(ctx context.Context, params json.RawMessage) error {
	var openParams protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &openParams); err != nil {
		return fmt.Errorf("didOpen params: %w", err)
	}

	item := openParams.TextDocument
	s.logger.Debug("document opened",
		zap.String("uri", string(item.URI)),
		zap.Int32("version", item.Version),
	)
	// Store errors are peer mistakes; they are logged inside the
	// store and the notification is otherwise ignored.
	_ = s.store.Open(string(item.URI), string(item.LanguageID), item.Version, item.Text)
	return nil
}

func (s *Server) handleDidChange(ctx context.Context, params json.RawMessage) error {
	var changeParams didChangeParams
	if err := json.Unmarshal(params, &changeParams); err != nil {
		return fmt.Errorf("didChange params: %w", err)
	}
	if len(changeParams.ContentChanges) == 0 {
		return nil
	}

	changes := make([]document.ContentChange, 0, len(changeParams.ContentChanges))
	for _, change := range changeParams.ContentChanges {
		converted := document.ContentChange{Text: change.Text}
		if change.Range != nil {
			r := fromProtocolRange(*change.Range)
			converted.Range = &r
		}
		changes = append(changes, converted)
	}

	s.logger.Debug("document changed",
		zap.String("uri", string(changeParams.TextDocument.URI)),
		zap.Int32("version", changeParams.TextDocument.Version),
		zap.Int("edits", len(changes)),
	)
	_ = s.store.Change(string(changeParams.TextDocument.URI), changeParams.TextDocument.Version, changes)
	return nil
}

func (s *Server) handleDidSave(ctx context.Context, params json.RawMessage) error {
	var saveParams protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(params, &saveParams); err != nil {
		return fmt.Errorf("didSave params: %w", err)
	}

	var text *string
	if saveParams.Text != "" {
		text = &saveParams.Text
	}
	s.logger.Debug("document saved", zap.String("uri", string(saveParams.TextDocument.URI)))
	_ = s.store.Save(string(saveParams.TextDocument.URI), text)
	return nil
}

func (s *Server) handleDidClose(ctx context.Context, params json.RawMessage) error {
	var closeParams protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &closeParams); err != nil {
		return fmt.Errorf("didClose params: %w", err)
	}

	s.logger.Debug("document closed", zap.String("uri", string(closeParams.TextDocument.URI)))
	s.store.Close(string(closeParams.TextDocument.URI))
	return nil
}

func (s *Server) handleDidChangeConfiguration(ctx context.Context, params json.RawMessage) error {
	var configParams struct {
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(params, &configParams); err != nil {
		return fmt.Errorf("didChangeConfiguration params: %w", err)
	}

	settings, ok := decodeSettings(configParams.Settings)
	if !ok {
		s.logger.Debug("configuration payload not recognized; keeping current settings")
		return nil
	}
	s.engine.Configure(settings.engineConfig())
	s.logger.Info("configuration updated")
	return nil
}

func (s *Server) handleDidChangeWatchedFiles(ctx context.Context, params json.RawMessage) error {
	var watchedParams struct {
		Changes []struct {
			URI  protocol.DocumentURI `json:"uri"`
			Type int                  `json:"type"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(params, &watchedParams); err != nil {
		return fmt.Errorf("didChangeWatchedFiles params: %w", err)
	}

	paths := make([]string, 0, len(watchedParams.Changes))
	for _, change := range watchedParams.Changes {
		paths = append(paths, change.URI.Filename())
	}
	s.workspace.DidChangeWatchedFiles(paths)
	return nil
}
