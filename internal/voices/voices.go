// Package voices manages voice reference recordings on the local
// filesystem: one directory per voice holding a metadata file and the
// uploaded reference audio.
package voices

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewayd/pkg/types"
)

// validID is the path-traversal guard: voice ids never contain
// separators or dots.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var allowedExts = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".flac": {}, ".ogg": {},
}

const metaFile = "voice.json"

// ErrNotFound is returned when a voice id does not exist.
var ErrNotFound = fmt.Errorf("voice not found")

// ErrInvalidID is returned for ids failing the guard.
var ErrInvalidID = fmt.Errorf("invalid voice id")

type meta struct {
	ID        string `json:"voice_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Manager is a simple file CRUD over the voice library directory.
type Manager struct {
	dir string
	mu  sync.Mutex
}

// NewManager ensures the library directory exists.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) voiceDir(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", ErrInvalidID
	}
	return filepath.Join(m.dir, id), nil
}

// List returns all stored voices sorted by id.
func (m *Manager) List() ([]types.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var out []types.Voice
	for _, e := range entries {
		if !e.IsDir() || !validID.MatchString(e.Name()) {
			continue
		}
		v, err := m.read(e.Name())
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one voice by id.
func (m *Manager) Get(id string) (types.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validID.MatchString(id) {
		return types.Voice{}, ErrInvalidID
	}
	return m.read(id)
}

func (m *Manager) read(id string) (types.Voice, error) {
	dir := filepath.Join(m.dir, id)
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return types.Voice{}, ErrNotFound
	}
	var mt meta
	if err := json.Unmarshal(raw, &mt); err != nil {
		return types.Voice{}, ErrNotFound
	}
	refs, _ := filepath.Glob(filepath.Join(dir, "ref_*"))
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, filepath.Base(r))
	}
	sort.Strings(names)
	return types.Voice{ID: mt.ID, Name: mt.Name, CreatedAt: mt.CreatedAt, References: names}, nil
}

// Reference opens a stored reference file for streaming to a backend.
func (m *Manager) Reference(id, name string) (io.ReadCloser, error) {
	dir, err := m.voiceDir(id)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(name)
	if base != name || !strings.HasPrefix(base, "ref_") {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(dir, base))
	if err != nil {
		return nil, ErrNotFound
	}
	return f, nil
}

// Upload is one reference recording to store.
type Upload struct {
	Filename string
	Data     io.Reader
}

// Create stores a new voice with its reference files. File names are
// discarded apart from the extension, which must be an audio type.
func (m *Manager) Create(name string, uploads []Upload) (types.Voice, error) {
	if strings.TrimSpace(name) == "" {
		return types.Voice{}, fmt.Errorf("voice name is required")
	}
	if len(uploads) == 0 {
		return types.Voice{}, fmt.Errorf("at least one reference file is required")
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := filepath.Join(m.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Voice{}, err
	}
	for i, up := range uploads {
		ext := strings.ToLower(filepath.Ext(filepath.Base(up.Filename)))
		if _, ok := allowedExts[ext]; !ok {
			os.RemoveAll(dir)
			return types.Voice{}, fmt.Errorf("unsupported audio format: %s", ext)
		}
		dst, err := os.Create(filepath.Join(dir, fmt.Sprintf("ref_%03d%s", i, ext)))
		if err != nil {
			os.RemoveAll(dir)
			return types.Voice{}, err
		}
		if _, err := io.Copy(dst, up.Data); err != nil {
			dst.Close()
			os.RemoveAll(dir)
			return types.Voice{}, err
		}
		dst.Close()
	}
	mt := meta{ID: id, Name: strings.TrimSpace(name), CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	raw, _ := json.Marshal(mt)
	if err := os.WriteFile(filepath.Join(dir, metaFile), raw, 0o644); err != nil {
		os.RemoveAll(dir)
		return types.Voice{}, err
	}
	return m.read(id)
}

// Delete removes a voice and its references.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir, err := m.voiceDir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err != nil {
		return ErrNotFound
	}
	return os.RemoveAll(dir)
}
