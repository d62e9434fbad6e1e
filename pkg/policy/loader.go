package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// decoders maps a policy file extension to the function building a policy
// from its content.
var decoders = map[string]func(path string, data []byte) (*Policy, error){
	".rego": decodeRego,
	".json": decodeJSON,
}

// Loader reads user policies. A file is read once until ClearCache.
type Loader struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	files map[string]*Policy
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		files:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads the policies of every path. A file path must hold a
// valid policy; in a directory, invalid policy files are skipped with a
// warning and other files are ignored.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		if !info.IsDir() {
			p, err := l.loadFromFile(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
			}
			policies = append(policies, *p)
			continue
		}

		found, err := l.walk(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("User policies loaded")
	return policies, nil
}

func (l *Loader) walk(ctx context.Context, root string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if _, ok := decoders[filepath.Ext(path)]; !ok {
			return nil
		}
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	return policies, err
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	l.mu.RLock()
	p, ok := l.files[path]
	l.mu.RUnlock()
	if ok {
		return p, nil
	}

	decode, ok := decoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("%s is neither a .rego nor a .json policy", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if p, err = decode(path, data); err != nil {
		return nil, err
	}
	p.Source = path

	l.mu.Lock()
	l.files[path] = p
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy file read")
	return p, nil
}

// ClearCache forgets every file read so far.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.files = make(map[string]*Policy)
	l.mu.Unlock()
}

// decodeRego names the policy after its file. The first block of comments
// is the description, except for directive lines:
//
//	# severity: error
//	# tags: security, runtime
func decodeRego(path string, data []byte) (*Policy, error) {
	src := string(data)
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Rego:     src,
		Severity: SeverityWarning,
		Enabled:  true,
	}

	var desc []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && len(desc) > 0 {
				break
			}
			continue
		}

		comment = strings.TrimSpace(comment)
		key, value, _ := strings.Cut(comment, ":")
		switch strings.TrimSpace(key) {
		case "severity":
			if Severity(strings.TrimSpace(value)) == SeverityError {
				p.Severity = SeverityError
			}
		case "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					p.Tags = append(p.Tags, tag)
				}
			}
		case "":
		default:
			desc = append(desc, comment)
		}
	}
	p.Description = strings.Join(desc, " ")
	return p, nil
}

func decodeJSON(_ string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON policy: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("JSON policy has no name")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	return &p, nil
}
