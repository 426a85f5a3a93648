package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// FileFeed lee un snapshot de mercados desde un fichero YAML o JSON
// (según la extensión). Se relee en cada FetchMarkets, así que otro proceso
// puede reescribirlo entre ciclos.
type FileFeed struct {
	platform domain.Platform
	path     string
}

// NewFileFeed crea un feed de fichero para la plataforma dada.
func NewFileFeed(platform domain.Platform, path string) *FileFeed {
	return &FileFeed{platform: platform, path: path}
}

// Platform devuelve el exchange del feed.
func (f *FileFeed) Platform() domain.Platform { return f.platform }

// FetchMarkets lee y decodifica el fichero.
func (f *FileFeed) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("feed.FileFeed: read %q: %w", f.path, err)
	}

	var raw []marketDTO
	switch ext := strings.ToLower(filepath.Ext(f.path)); ext {
	case ".yaml", ".yml":
		raw, err = decodeYAML(data)
	case ".json":
		raw, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("feed.FileFeed: unsupported extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("feed.FileFeed: %s: %w", f.path, err)
	}
	markets, err := mapMarkets(raw, f.platform)
	if err != nil {
		return nil, fmt.Errorf("feed.FileFeed: %s: %w", f.path, err)
	}
	return markets, nil
}

// decodeYAML acepta una lista de mercados o el envoltorio `markets:`.
func decodeYAML(data []byte) ([]marketDTO, error) {
	var list []marketDTO
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var snap snapshotDTO
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap.Markets, nil
}
