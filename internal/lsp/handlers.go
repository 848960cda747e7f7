package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/document"
	"github.com/quill-lang/quill-ls/internal/rpc"
)

// Feature handlers are thin adapters: validate the URI is open, take
// a snapshot, translate positions, call the provider with the
// request's cancellation signal, and translate back. Plain provider
// failures do not become request errors — the handler answers with an
// empty result and raises a window/logMessage warning instead.
// Cancellation and *jsonrpc2.Error values from the provider are
// returned to the dispatcher as the request's error.

// snapshotAt resolves the open document behind a request. The second
// return is false when the URI is not open, in which case LSP rules
// call for an empty/null answer rather than an error.
func (s *Server) snapshotAt(docURI protocol.DocumentURI) (document.Snapshot, bool) {
	return s.store.Snapshot(string(docURI))
}

// trapProviderError collapses a provider failure into "no result".
// Cancellation passes through so the dispatcher can answer
// RequestCancelled; a *jsonrpc2.Error passes through unchanged and
// becomes the response error.
func (s *Server) trapProviderError(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	s.logger.Warn("analysis provider failed",
		zap.String("method", method),
		zap.Error(err),
	)
	s.logMessage(messageTypeWarning, fmt.Sprintf("%s: analysis failed: %v", method, err))
	return nil
}

func (s *Server) handleCompletion(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var completionParams protocol.CompletionParams
	if err := json.Unmarshal(params, &completionParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("completion params: %v", err))
	}

	snapshot, open := s.snapshotAt(completionParams.TextDocument.URI)
	if !open {
		return protocol.CompletionList{IsIncomplete: false, Items: []protocol.CompletionItem{}}, nil
	}

	trigger := analysis.Trigger{}
	if completionParams.Context != nil {
		trigger.Kind = int(completionParams.Context.TriggerKind)
		trigger.Character = completionParams.Context.TriggerCharacter
	}

	list, err := s.workspace.Completions(ctx, snapshot, fromProtocolPosition(completionParams.Position), trigger)
	if err := s.trapProviderError(protocol.MethodTextDocumentCompletion, err); err != nil {
		return nil, err
	}

	items := make([]protocol.CompletionItem, 0, len(list.Items))
	for _, item := range list.Items {
		items = append(items, toProtocolCompletionItem(item))
	}
	return protocol.CompletionList{IsIncomplete: list.IsIncomplete, Items: items}, nil
}

func (s *Server) handleCompletionResolve(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var item protocol.CompletionItem
	if err := json.Unmarshal(params, &item); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("completionItem/resolve params: %v", err))
	}

	resolved, err := s.workspace.ResolveCompletion(ctx, fromProtocolCompletionItem(item))
	if err := s.trapProviderError(protocol.MethodCompletionItemResolve, err); err != nil {
		return nil, err
	}
	if err != nil {
		// Resolution failed; hand the unenriched item back.
		return item, nil
	}
	return toProtocolCompletionItem(resolved), nil
}

func (s *Server) handleHover(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var hoverParams protocol.HoverParams
	if err := json.Unmarshal(params, &hoverParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("hover params: %v", err))
	}

	snapshot, open := s.snapshotAt(hoverParams.TextDocument.URI)
	if !open {
		return nil, nil
	}

	hover, err := s.workspace.Hover(ctx, snapshot, fromProtocolPosition(hoverParams.Position))
	if err := s.trapProviderError(protocol.MethodTextDocumentHover, err); err != nil {
		return nil, err
	}
	if hover == nil {
		return nil, nil
	}

	result := protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: hover.Contents,
		},
	}
	if hover.Range != nil {
		clamped := clampToSnapshot(snapshot, *hover.Range)
		result.Range = &clamped
	}
	return result, nil
}

func (s *Server) handleDefinition(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var definitionParams protocol.DefinitionParams
	if err := json.Unmarshal(params, &definitionParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("definition params: %v", err))
	}

	snapshot, open := s.snapshotAt(definitionParams.TextDocument.URI)
	if !open {
		return []protocol.Location{}, nil
	}

	locations, err := s.workspace.Definition(ctx, snapshot, fromProtocolPosition(definitionParams.Position))
	if err := s.trapProviderError(protocol.MethodTextDocumentDefinition, err); err != nil {
		return nil, err
	}

	result := make([]protocol.Location, 0, len(locations))
	for _, location := range locations {
		result = append(result, toProtocolLocation(location))
	}
	return result, nil
}

func (s *Server) handleReferences(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var referenceParams protocol.ReferenceParams
	if err := json.Unmarshal(params, &referenceParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("references params: %v", err))
	}

	snapshot, open := s.snapshotAt(referenceParams.TextDocument.URI)
	if !open {
		return []protocol.Location{}, nil
	}

	locations, err := s.workspace.References(ctx, snapshot,
		fromProtocolPosition(referenceParams.Position),
		referenceParams.Context.IncludeDeclaration,
	)
	if err := s.trapProviderError(protocol.MethodTextDocumentReferences, err); err != nil {
		return nil, err
	}

	result := make([]protocol.Location, 0, len(locations))
	for _, location := range locations {
		result = append(result, toProtocolLocation(location))
	}
	return result, nil
}

// prepareRenameResult is the {range, placeholder} wire shape.
type prepareRenameResult struct {
	Range       protocol.Range `json:"range"`
	Placeholder string         `json:"placeholder"`
}

func (s *Server) handlePrepareRename(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var prepareParams protocol.TextDocumentPositionParams
	if err := json.Unmarshal(params, &prepareParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("prepareRename params: %v", err))
	}

	snapshot, open := s.snapshotAt(prepareParams.TextDocument.URI)
	if !open {
		return nil, nil
	}

	target, err := s.workspace.PrepareRename(ctx, snapshot, fromProtocolPosition(prepareParams.Position))
	if err := s.trapProviderError(protocol.MethodTextDocumentPrepareRename, err); err != nil {
		return nil, err
	}
	if target == nil {
		// Implicit, metadata-only, and namespace symbols are not
		// renameable; null tells the client to keep the UI shut.
		return nil, nil
	}

	return prepareRenameResult{
		Range:       clampToSnapshot(snapshot, target.Range),
		Placeholder: target.Placeholder,
	}, nil
}

func (s *Server) handleRename(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var renameParams protocol.RenameParams
	if err := json.Unmarshal(params, &renameParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("rename params: %v", err))
	}

	snapshot, open := s.snapshotAt(renameParams.TextDocument.URI)
	if !open {
		return protocol.WorkspaceEdit{}, nil
	}

	edits, err := s.workspace.Rename(ctx, snapshot,
		fromProtocolPosition(renameParams.Position),
		renameParams.NewName,
	)
	if err := s.trapProviderError(protocol.MethodTextDocumentRename, err); err != nil {
		return nil, err
	}

	// The rename was computed against the pre-rename snapshot; if the
	// document moved on while the provider worked, the edits no
	// longer apply and the client should retry.
	if current, stillOpen := s.snapshotAt(renameParams.TextDocument.URI); !stillOpen || current.Version != snapshot.Version {
		return nil, rpc.NewError(rpc.CodeContentModified, "document changed during rename")
	}

	return buildWorkspaceEdit(s.store, snapshot, edits), nil
}

// buildWorkspaceEdit translates per-URI rename edits to the wire.
// Each target document appears once; its edits are sorted by
// descending start offset and overlapping edits are dropped, so
// applying them in order never invalidates a later edit's range.
func buildWorkspaceEdit(store *document.Store, origin document.Snapshot, edits map[string][]analysis.TextEdit) protocol.WorkspaceEdit {
	changes := make(map[protocol.DocumentURI][]protocol.TextEdit, len(edits))
	for target, targetEdits := range edits {
		text := origin.Text
		if target != origin.URI {
			if snapshot, open := store.Snapshot(target); open {
				text = snapshot.Text
			}
		}

		type offsetEdit struct {
			start, end int
			newText    string
		}
		resolved := make([]offsetEdit, 0, len(targetEdits))
		for _, edit := range targetEdits {
			start, end := text.ClampRange(edit.Range)
			resolved = append(resolved, offsetEdit{start: start, end: end, newText: edit.NewText})
		}
		sort.Slice(resolved, func(i, j int) bool {
			if resolved[i].start != resolved[j].start {
				return resolved[i].start > resolved[j].start
			}
			return resolved[i].end > resolved[j].end
		})

		wireEdits := make([]protocol.TextEdit, 0, len(resolved))
		lastStart := -1
		for _, edit := range resolved {
			if lastStart >= 0 && edit.end > lastStart {
				// Overlaps the previously accepted edit; drop it.
				continue
			}
			wireEdits = append(wireEdits, protocol.TextEdit{
				Range: protocol.Range{
					Start: toProtocolPosition(text.Position(edit.start)),
					End:   toProtocolPosition(text.Position(edit.end)),
				},
				NewText: edit.newText,
			})
			lastStart = edit.start
		}
		if len(wireEdits) > 0 {
			changes[protocol.DocumentURI(target)] = wireEdits
		}
	}
	return protocol.WorkspaceEdit{Changes: changes}
}

func (s *Server) handleDocumentSymbol(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var symbolParams protocol.DocumentSymbolParams
	if err := json.Unmarshal(params, &symbolParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("documentSymbol params: %v", err))
	}

	snapshot, open := s.snapshotAt(symbolParams.TextDocument.URI)
	if !open {
		return []protocol.DocumentSymbol{}, nil
	}

	symbols, err := s.workspace.DocumentSymbols(ctx, snapshot)
	if err := s.trapProviderError(protocol.MethodTextDocumentDocumentSymbol, err); err != nil {
		return nil, err
	}

	result := make([]protocol.DocumentSymbol, 0, len(symbols))
	for _, symbol := range symbols {
		result = append(result, toProtocolDocumentSymbol(snapshot, symbol))
	}
	return result, nil
}

func (s *Server) handleWorkspaceSymbol(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var symbolParams protocol.WorkspaceSymbolParams
	if err := json.Unmarshal(params, &symbolParams); err != nil {
		return nil, rpc.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("workspace/symbol params: %v", err))
	}

	symbols, err := s.workspace.WorkspaceSymbols(ctx, symbolParams.Query)
	if err := s.trapProviderError(protocol.MethodWorkspaceSymbol, err); err != nil {
		return nil, err
	}

	result := make([]protocol.SymbolInformation, 0, len(symbols))
	for _, symbol := range symbols {
		result = append(result, protocol.SymbolInformation{
			Name:          symbol.Name,
			Kind:          toProtocolSymbolKind(symbol.Kind),
			Location:      toProtocolLocation(symbol.Location),
			ContainerName: symbol.ContainerName,
		})
	}
	return result, nil
}
