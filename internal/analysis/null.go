package analysis

import (
	"context"

	"github.com/quill-lang/quill-ls/internal/document"
)

// nullProvider answers every query with an empty result. It lets the
// host run standalone before a semantic analyzer is attached and
// doubles as the pre-bootstrap fallback.
type nullProvider struct{}

// NewNull returns the no-op Provider.
func NewNull() Provider { return nullProvider{} }

func (nullProvider) Bootstrap(ctx context.Context, rootPath string) error { return nil }

func (nullProvider) Diagnostics(ctx context.Context, snapshot document.Snapshot) ([]Diagnostic, error) {
	return nil, nil
}

func (nullProvider) Completions(ctx context.Context, snapshot document.Snapshot, pos document.Position, trigger Trigger) (CompletionList, error) {
	return CompletionList{}, nil
}

func (nullProvider) ResolveCompletion(ctx context.Context, item CompletionItem) (CompletionItem, error) {
	return item, nil
}

func (nullProvider) Hover(ctx context.Context, snapshot document.Snapshot, pos document.Position) (*Hover, error) {
	return nil, nil
}

func (nullProvider) Definition(ctx context.Context, snapshot document.Snapshot, pos document.Position) ([]Location, error) {
	return nil, nil
}

func (nullProvider) References(ctx context.Context, snapshot document.Snapshot, pos document.Position, includeDeclaration bool) ([]Location, error) {
	return nil, nil
}

func (nullProvider) PrepareRename(ctx context.Context, snapshot document.Snapshot, pos document.Position) (*RenameTarget, error) {
	return nil, nil
}

func (nullProvider) Rename(ctx context.Context, snapshot document.Snapshot, pos document.Position, newName string) (map[string][]TextEdit, error) {
	return nil, nil
}

func (nullProvider) DocumentSymbols(ctx context.Context, snapshot document.Snapshot) ([]DocumentSymbol, error) {
	return nil, nil
}

func (nullProvider) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	return nil, nil
}

func (nullProvider) DidChangeWatchedFiles(paths []string) {}
