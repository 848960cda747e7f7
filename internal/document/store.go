package document

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Sentinel errors for peer-side sync mistakes. The server logs these
// at warning and otherwise ignores the offending notification.
var (
	ErrAlreadyOpen = errors.New("document already open")
	ErrNotOpen     = errors.New("document not open")
)

// ContentChange is one incoming edit. A nil Range replaces the whole
// text; a present Range is interpreted against the text produced by
// the previous edit in the same change batch.
type ContentChange struct {
	Range *Range
	Text  string
}

// Snapshot is the immutable (uri, version, text) triple handed to
// analysis. It never changes under the reader's feet.
type Snapshot struct {
	URI     string
	Version int32
	Text    SourceText
}

// ChangeEvent is emitted on open, change, and save.
type ChangeEvent struct {
	URI     string
	Version int32
	Text    SourceText
}

// openDocument is the store's mutable record for one open URI.
type openDocument struct {
	uri        string
	languageID string
	version    int32
	text       SourceText
}

// Store holds every open document. All mutation goes through a single
// writer lock; snapshots are cheap copies readers take concurrently.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]*openDocument
	logger *zap.Logger

	// notify receives every ChangeEvent. The diagnostics engine is
	// the only subscriber; a broader observer graph is deliberately
	// not supported.
	notify func(ChangeEvent)

	// onClose is invoked after a document is removed.
	onClose func(uri string)
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		docs:   make(map[string]*openDocument),
		logger: logger,
	}
}

// SetChangeListener installs the DocumentChanged consumer. Must be
// called during wiring, before traffic flows.
func (s *Store) SetChangeListener(fn func(ChangeEvent)) { s.notify = fn }

// SetCloseListener installs the close consumer.
func (s *Store) SetCloseListener(fn func(uri string)) { s.onClose = fn }

// Open registers a document. The URI is kept byte-exact as received;
// equality is case-sensitive.
func (s *Store) Open(uri, languageID string, version int32, text string) error {
	s.mu.Lock()
	if _, exists := s.docs[uri]; exists {
		s.mu.Unlock()
		s.logger.Warn("didOpen for already-open document", zap.String("uri", uri))
		return fmt.Errorf("open %s: %w", uri, ErrAlreadyOpen)
	}
	doc := &openDocument{
		uri:        uri,
		languageID: languageID,
		version:    version,
		text:       NewSourceText(text),
	}
	s.docs[uri] = doc
	event := ChangeEvent{URI: uri, Version: version, Text: doc.text}
	s.mu.Unlock()

	s.emit(event)
	return nil
}

// Change applies edits in the given order, each against the text the
// previous edit produced. The final version replaces the stored one
// even if it is equal or lower; the peer owns version numbering.
func (s *Store) Change(uri string, version int32, changes []ContentChange) error {
	s.mu.Lock()
	doc, exists := s.docs[uri]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn("didChange for unopened document", zap.String("uri", uri))
		return fmt.Errorf("change %s: %w", uri, ErrNotOpen)
	}

	text := doc.text
	for _, change := range changes {
		if change.Range == nil {
			text = NewSourceText(change.Text)
			continue
		}
		start, end := text.ClampRange(*change.Range)
		text = text.Splice(start, end, change.Text)
	}
	doc.text = text
	doc.version = version
	event := ChangeEvent{URI: uri, Version: version, Text: text}
	s.mu.Unlock()

	s.emit(event)
	return nil
}

// Save records a save. When the peer includes the text it replaces
// the buffer; otherwise the save is a signal only.
func (s *Store) Save(uri string, text *string) error {
	s.mu.Lock()
	doc, exists := s.docs[uri]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn("didSave for unopened document", zap.String("uri", uri))
		return fmt.Errorf("save %s: %w", uri, ErrNotOpen)
	}
	if text != nil {
		doc.text = NewSourceText(*text)
	}
	event := ChangeEvent{URI: uri, Version: doc.version, Text: doc.text}
	s.mu.Unlock()

	s.emit(event)
	return nil
}

// Close removes the document. Closing an absent URI is a logged
// warning, not an error.
func (s *Store) Close(uri string) {
	s.mu.Lock()
	_, exists := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()

	if !exists {
		s.logger.Warn("didClose for unopened document", zap.String("uri", uri))
		return
	}
	if s.onClose != nil {
		s.onClose(uri)
	}
}

// Snapshot returns the current immutable text for uri, or false when
// the document is not open.
func (s *Store) Snapshot(uri string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, exists := s.docs[uri]
	if !exists {
		return Snapshot{}, false
	}
	return Snapshot{URI: uri, Version: doc.version, Text: doc.text}, true
}

// LanguageID returns the language the peer asserted on open.
func (s *Store) LanguageID(uri string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, exists := s.docs[uri]
	if !exists {
		return "", false
	}
	return doc.languageID, true
}

// Documents enumerates the open URIs in stable order.
func (s *Store) Documents() []string {
	s.mu.RLock()
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	s.mu.RUnlock()
	sort.Strings(uris)
	return uris
}

func (s *Store) emit(event ChangeEvent) {
	if s.notify != nil {
		s.notify(event)
	}
}
