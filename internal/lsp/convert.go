package lsp

import (
	"go.lsp.dev/protocol"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/document"
)

// Conversions between the wire types in go.lsp.dev/protocol and the
// kernel's internal document/analysis types. Positions are UTF-16 on
// both sides; only the container types differ.

func fromProtocolPosition(p protocol.Position) document.Position {
	return document.Position{Line: int(p.Line), Character: int(p.Character)}
}

func toProtocolPosition(p document.Position) protocol.Position {
	return protocol.Position{Line: uint32(p.Line), Character: uint32(p.Character)}
}

func fromProtocolRange(r protocol.Range) document.Range {
	return document.Range{
		Start: fromProtocolPosition(r.Start),
		End:   fromProtocolPosition(r.End),
	}
}

func toProtocolRange(r document.Range) protocol.Range {
	return protocol.Range{
		Start: toProtocolPosition(r.Start),
		End:   toProtocolPosition(r.End),
	}
}

// clampToSnapshot snaps a provider-reported range into the snapshot's
// bounds before it goes on the wire.
func clampToSnapshot(snapshot document.Snapshot, r document.Range) protocol.Range {
	start, end := snapshot.Text.ClampRange(r)
	return protocol.Range{
		Start: toProtocolPosition(snapshot.Text.Position(start)),
		End:   toProtocolPosition(snapshot.Text.Position(end)),
	}
}

func toProtocolSeverity(s analysis.Severity) protocol.DiagnosticSeverity {
	switch s {
	case analysis.SeverityError:
		return protocol.DiagnosticSeverityError
	case analysis.SeverityWarning:
		return protocol.DiagnosticSeverityWarning
	case analysis.SeverityInformation:
		return protocol.DiagnosticSeverityInformation
	case analysis.SeverityHint:
		return protocol.DiagnosticSeverityHint
	default:
		return protocol.DiagnosticSeverityError
	}
}

func toProtocolDiagnostic(snapshot document.Snapshot, d analysis.Diagnostic) protocol.Diagnostic {
	diagnostic := protocol.Diagnostic{
		Range:    clampToSnapshot(snapshot, d.Range),
		Severity: toProtocolSeverity(d.Severity),
		Source:   d.Source,
		Message:  d.Message,
	}
	if d.Code != "" {
		diagnostic.Code = d.Code
	}
	for _, related := range d.Related {
		diagnostic.RelatedInformation = append(diagnostic.RelatedInformation, protocol.DiagnosticRelatedInformation{
			Location: protocol.Location{
				URI:   protocol.DocumentURI(related.Location.URI),
				Range: toProtocolRange(related.Location.Range),
			},
			Message: related.Message,
		})
	}
	return diagnostic
}

func toProtocolCompletionKind(kind analysis.CompletionKind) protocol.CompletionItemKind {
	switch kind {
	case analysis.CompletionKindKeyword:
		return protocol.CompletionItemKindKeyword
	case analysis.CompletionKindType:
		return protocol.CompletionItemKindClass
	case analysis.CompletionKindField:
		return protocol.CompletionItemKindField
	case analysis.CompletionKindFunction:
		return protocol.CompletionItemKindFunction
	case analysis.CompletionKindVariable:
		return protocol.CompletionItemKindVariable
	case analysis.CompletionKindModule:
		return protocol.CompletionItemKindModule
	case analysis.CompletionKindSnippet:
		return protocol.CompletionItemKindSnippet
	default:
		return protocol.CompletionItemKindText
	}
}

func fromProtocolCompletionKind(kind protocol.CompletionItemKind) analysis.CompletionKind {
	switch kind {
	case protocol.CompletionItemKindKeyword:
		return analysis.CompletionKindKeyword
	case protocol.CompletionItemKindClass:
		return analysis.CompletionKindType
	case protocol.CompletionItemKindField:
		return analysis.CompletionKindField
	case protocol.CompletionItemKindFunction:
		return analysis.CompletionKindFunction
	case protocol.CompletionItemKindVariable:
		return analysis.CompletionKindVariable
	case protocol.CompletionItemKindModule:
		return analysis.CompletionKindModule
	case protocol.CompletionItemKindSnippet:
		return analysis.CompletionKindSnippet
	default:
		return analysis.CompletionKindText
	}
}

func toProtocolCompletionItem(item analysis.CompletionItem) protocol.CompletionItem {
	out := protocol.CompletionItem{
		Label:      item.Label,
		Kind:       toProtocolCompletionKind(item.Kind),
		Detail:     item.Detail,
		InsertText: item.InsertText,
		SortText:   item.SortText,
	}
	if item.Documentation != "" {
		out.Documentation = protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: item.Documentation,
		}
	}
	if len(item.CommitCharacters) > 0 {
		out.CommitCharacters = item.CommitCharacters
	}
	if item.Data != nil {
		out.Data = item.Data
	}
	return out
}

func fromProtocolCompletionItem(item protocol.CompletionItem) analysis.CompletionItem {
	out := analysis.CompletionItem{
		Label:            item.Label,
		Kind:             fromProtocolCompletionKind(item.Kind),
		Detail:           item.Detail,
		InsertText:       item.InsertText,
		SortText:         item.SortText,
		CommitCharacters: item.CommitCharacters,
		Data:             item.Data,
	}
	if content, ok := item.Documentation.(protocol.MarkupContent); ok {
		out.Documentation = content.Value
	}
	return out
}

func toProtocolSymbolKind(kind analysis.SymbolKind) protocol.SymbolKind {
	switch kind {
	case analysis.SymbolKindModule:
		return protocol.SymbolKindModule
	case analysis.SymbolKindType:
		return protocol.SymbolKindClass
	case analysis.SymbolKindField:
		return protocol.SymbolKindField
	case analysis.SymbolKindFunction:
		return protocol.SymbolKindFunction
	case analysis.SymbolKindVariable:
		return protocol.SymbolKindVariable
	case analysis.SymbolKindConstant:
		return protocol.SymbolKindConstant
	default:
		return protocol.SymbolKindObject
	}
}

func toProtocolDocumentSymbol(snapshot document.Snapshot, symbol analysis.DocumentSymbol) protocol.DocumentSymbol {
	out := protocol.DocumentSymbol{
		Name:           symbol.Name,
		Detail:         symbol.Detail,
		Kind:           toProtocolSymbolKind(symbol.Kind),
		Range:          clampToSnapshot(snapshot, symbol.Range),
		SelectionRange: clampToSnapshot(snapshot, symbol.SelectionRange),
	}
	for _, child := range symbol.Children {
		converted := toProtocolDocumentSymbol(snapshot, child)
		out.Children = append(out.Children, converted)
	}
	return out
}

func toProtocolLocation(location analysis.Location) protocol.Location {
	return protocol.Location{
		URI:   protocol.DocumentURI(location.URI),
		Range: toProtocolRange(location.Range),
	}
}
