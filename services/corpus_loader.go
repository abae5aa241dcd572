package services

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/itish2003/cyberrag/models"
)

// CorpusLoader turns the entries of a CorpusSource into Documents.
type CorpusLoader struct {
	source     CorpusSource
	extensions map[string]struct{}
	log        logrus.FieldLogger

	mu      sync.Mutex
	skipped []*SkippedFileWarning
}

// NewCorpusLoader accepts entries whose content extension (see ContentExt)
// is in extensions. An empty list accepts only ".txt".
func NewCorpusLoader(source CorpusSource, extensions []string, log logrus.FieldLogger) *CorpusLoader {
	return &CorpusLoader{
		source:     source,
		extensions: extensionSet(extensions),
		log:        log.WithField("component", "loader"),
	}
}

// LoadDocuments reads every matching entry in lexical order of its source.
// Unreadable entries are skipped and recorded; only a missing or unlistable
// location fails the load.
func (l *CorpusLoader) LoadDocuments(ctx context.Context) ([]models.Document, error) {
	entries, err := l.source.List(ctx)
	if err != nil {
		return nil, &LoadError{Location: l.source.Location(), cause: err}
	}
	slices.SortFunc(entries, func(a, b CorpusEntry) int { return strings.Compare(a.Source, b.Source) })

	l.mu.Lock()
	l.skipped = nil
	l.mu.Unlock()

	docs := make([]models.Document, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := l.extensions[ContentExt(e.Key)]; !ok {
			continue
		}
		text, err := l.read(ctx, e)
		if err != nil {
			l.skip(&SkippedFileWarning{Path: e.Source, cause: err})
			continue
		}
		docs = append(docs, models.Document{Text: text, Source: e.Source})
	}

	l.log.WithFields(logrus.Fields{
		"location":  l.source.Location(),
		"documents": len(docs),
		"skipped":   len(l.Skipped()),
	}).Info("loaded documents")
	return docs, nil
}

func (l *CorpusLoader) read(ctx context.Context, e CorpusEntry) (string, error) {
	rc, err := l.source.Open(ctx, e.Key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return ExtractText(e.Key, rc)
}

func (l *CorpusLoader) skip(w *SkippedFileWarning) {
	l.log.WithError(w).Warn("skipping unreadable corpus entry")
	l.mu.Lock()
	l.skipped = append(l.skipped, w)
	l.mu.Unlock()
}

// Skipped returns the warnings recorded by the last LoadDocuments call.
func (l *CorpusLoader) Skipped() []*SkippedFileWarning {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.skipped)
}

// extensionSet normalizes an extension filter to lower-case, dot-prefixed
// entries. An empty filter means ".txt".
func extensionSet(extensions []string) map[string]struct{} {
	if len(extensions) == 0 {
		extensions = []string{".txt"}
	}
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}
