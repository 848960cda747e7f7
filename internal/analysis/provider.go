// Package analysis defines the capability surface the server kernel
// consumes from a semantic analyzer. The kernel never computes
// semantics itself; it hands immutable snapshots to a Provider and
// translates the answers onto the wire. Providers must honor the
// context promptly — every call races against $/cancelRequest.
package analysis

import (
	"context"

	"github.com/quill-lang/quill-ls/internal/document"
)

// Severity orders diagnostics from most to least severe.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// Diagnostic is one finding for a single URI.
type Diagnostic struct {
	Range    document.Range
	Severity Severity
	Code     string
	Source   string
	Message  string
	Related  []RelatedInformation
}

// RelatedInformation points at a secondary location that explains a
// diagnostic.
type RelatedInformation struct {
	Location Location
	Message  string
}

// Location is a URI plus range.
type Location struct {
	URI   string
	Range document.Range
}

// CompletionKind categorizes completion items for IDE display.
type CompletionKind int

const (
	CompletionKindText CompletionKind = iota
	CompletionKindKeyword
	CompletionKindType
	CompletionKindField
	CompletionKindFunction
	CompletionKindVariable
	CompletionKindModule
	CompletionKindSnippet
)

// CompletionItem is one suggestion. Data is opaque to the kernel and
// round-trips through completionItem/resolve untouched.
type CompletionItem struct {
	Label            string
	Kind             CompletionKind
	Detail           string
	Documentation    string
	InsertText       string
	SortText         string
	CommitCharacters []string
	Data             interface{}
}

// CompletionList carries items plus the incompleteness flag that asks
// the client to re-query as the user types.
type CompletionList struct {
	IsIncomplete bool
	Items        []CompletionItem
}

// Trigger describes what caused a completion request.
type Trigger struct {
	Kind      int
	Character string
}

// Hover is the markdown content shown at a position.
type Hover struct {
	Contents string
	Range    *document.Range
}

// RenameTarget is the prepare-rename answer for a renameable symbol.
type RenameTarget struct {
	Range       document.Range
	Placeholder string
}

// TextEdit is one replacement inside a rename's WorkspaceEdit.
type TextEdit struct {
	Range   document.Range
	NewText string
}

// SymbolKind categorizes symbols.
type SymbolKind int

const (
	SymbolKindModule SymbolKind = iota
	SymbolKindType
	SymbolKindField
	SymbolKindFunction
	SymbolKindVariable
	SymbolKindConstant
)

// DocumentSymbol is one node of the hierarchical outline.
type DocumentSymbol struct {
	Name           string
	Detail         string
	Kind           SymbolKind
	Range          document.Range
	SelectionRange document.Range
	Children       []DocumentSymbol
}

// SymbolInformation is one flat workspace-symbol hit.
type SymbolInformation struct {
	Name          string
	Kind          SymbolKind
	Location      Location
	ContainerName string
}

// Provider answers semantic queries against passed snapshots. It must
// not read the live document store; the snapshot it receives is the
// whole truth for that call.
type Provider interface {
	// Bootstrap performs the one-time project discovery after
	// initialized. The kernel calls it asynchronously.
	Bootstrap(ctx context.Context, rootPath string) error

	// Diagnostics computes findings for the snapshot's URI.
	Diagnostics(ctx context.Context, snapshot document.Snapshot) ([]Diagnostic, error)

	// Completions suggests items at the position.
	Completions(ctx context.Context, snapshot document.Snapshot, pos document.Position, trigger Trigger) (CompletionList, error)

	// ResolveCompletion enriches an item using its opaque Data.
	ResolveCompletion(ctx context.Context, item CompletionItem) (CompletionItem, error)

	// Hover returns documentation at the position, or nil.
	Hover(ctx context.Context, snapshot document.Snapshot, pos document.Position) (*Hover, error)

	// Definition resolves the definition sites of the symbol at the
	// position.
	Definition(ctx context.Context, snapshot document.Snapshot, pos document.Position) ([]Location, error)

	// References finds every reference to the symbol at the position.
	References(ctx context.Context, snapshot document.Snapshot, pos document.Position, includeDeclaration bool) ([]Location, error)

	// PrepareRename reports the renameable symbol at the position, or
	// nil when the target cannot be renamed (implicit, metadata-only,
	// or namespace symbols).
	PrepareRename(ctx context.Context, snapshot document.Snapshot, pos document.Position) (*RenameTarget, error)

	// Rename computes per-URI edits, keyed by target document.
	Rename(ctx context.Context, snapshot document.Snapshot, pos document.Position, newName string) (map[string][]TextEdit, error)

	// DocumentSymbols returns the hierarchical outline.
	DocumentSymbols(ctx context.Context, snapshot document.Snapshot) ([]DocumentSymbol, error)

	// WorkspaceSymbols searches project-wide by query string.
	WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error)

	// DidChangeWatchedFiles informs the provider about out-of-editor
	// file events. Purely informational; any reload policy is the
	// provider's own.
	DidChangeWatchedFiles(paths []string)
}
