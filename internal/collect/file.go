package collect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbd888/tokenrisk/internal/signal"
)

// FileProvider reads pre-fetched payloads from disk, laid out as
// <dir>/<chain>/<token>/<name>.json with the token lowercased.
type FileProvider struct {
	name string
	kind signal.ProviderKind
	dir  string
}

// NewFileProvider creates a provider reading <name>.json payloads of kind.
func NewFileProvider(dir, name string, kind signal.ProviderKind) *FileProvider {
	return &FileProvider{name: name, kind: kind, dir: dir}
}

// FileProviders returns one FileProvider per provider kind, each named
// after its kind.
func FileProviders(dir string) []Provider {
	kinds := signal.ProviderKinds()
	out := make([]Provider, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, NewFileProvider(dir, string(k), k))
	}
	return out
}

func (p *FileProvider) Name() string              { return p.name }
func (p *FileProvider) Kind() signal.ProviderKind { return p.kind }

// Path returns the payload file for t.
func (p *FileProvider) Path(t Target) string {
	return filepath.Join(p.dir, t.Chain, strings.ToLower(t.Token), p.name+".json")
}

func (p *FileProvider) Fetch(ctx context.Context, t Target) (signal.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return signal.Envelope{}, fmt.Errorf("%w: %s: %v", ErrProviderTimeout, p.name, err)
	}
	path := p.Path(t)
	body, err := os.ReadFile(path) // #nosec G304 -- operator supplied payload dir
	if errors.Is(err, os.ErrNotExist) {
		return signal.Envelope{}, fmt.Errorf("%w: %s: no payload at %s", ErrProviderUnavailable, p.name, path)
	}
	if err != nil {
		return signal.Envelope{}, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.name, err)
	}
	info, _ := os.Stat(path)
	fetchedAt := time.Time{}
	if info != nil {
		fetchedAt = info.ModTime().UTC()
	}
	return signal.Envelope{
		Provider:  p.kind,
		Source:    p.name,
		Status:    signal.StatusOK,
		Body:      body,
		FetchedAt: fetchedAt,
	}, nil
}
