package audio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dhowden/tag"
	"github.com/spf13/afero"

	"orangeclock/pkg/logx"
)

var (
	ErrNotFound          = errors.New("audio: clip not found")
	ErrExists            = errors.New("audio: clip already exists")
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
	ErrBadName           = errors.New("audio: invalid clip name")
)

// allowedExts is the playback allow-list. Everything else is rejected at
// upload time rather than failing at 7am when the alarm fires.
var allowedExts = map[string]bool{
	".mp3": true,
	".wav": true,
}

var nameCleaner = regexp.MustCompile(`[^a-zA-Z0-9._\-\s]+`)

// Info describes one clip in the library. Title and Artist are best-effort
// tag reads and may be empty.
type Info struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// Repo is the clip library rooted at a single directory.
type Repo struct {
	fs  afero.Fs
	dir string
	log logx.Logger
}

// NewRepo creates the library directory if needed.
func NewRepo(fs afero.Fs, dir string, log logx.Logger) (*Repo, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Repo{fs: fs, dir: dir, log: log}, nil
}

// CleanName normalizes a user-supplied filename: path components are
// stripped, unsafe characters removed, spaces collapsed to underscores.
func CleanName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	clean := nameCleaner.ReplaceAllString(base, "")
	clean = strings.ReplaceAll(strings.TrimSpace(clean), " ", "_")
	if clean == "" || clean == "." || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return clean, nil
}

// Save stores a new clip under the cleaned name. The format allow-list is
// enforced on the extension; an existing clip with the same name is an error.
func (r *Repo) Save(name string, src io.Reader) (Info, error) {
	clean, err := CleanName(name)
	if err != nil {
		return Info{}, err
	}
	ext := strings.ToLower(filepath.Ext(clean))
	if !allowedExts[ext] {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	path := filepath.Join(r.dir, clean)
	if ok, _ := afero.Exists(r.fs, path); ok {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, clean)
	}

	f, err := r.fs.Create(path)
	if err != nil {
		return Info{}, fmt.Errorf("create clip: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = r.fs.Remove(path)
		return Info{}, fmt.Errorf("write clip: %w", err)
	}

	r.log.Info("clip saved", logx.String("name", clean), logx.Int64("bytes", n))
	info := Info{Name: clean, Size: n}
	r.enrich(&info)
	return info, nil
}

// List returns every clip in the library sorted by name.
func (r *Repo) List() ([]Info, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return nil, fmt.Errorf("read audio dir: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !allowedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info := Info{Name: e.Name(), Size: e.Size()}
		r.enrich(&info)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Exists reports whether the named clip is in the library.
func (r *Repo) Exists(name string) bool {
	clean, err := CleanName(name)
	if err != nil {
		return false
	}
	ok, _ := afero.Exists(r.fs, filepath.Join(r.dir, clean))
	return ok
}

// Path returns the on-disk location of a clip for handing to the player.
func (r *Repo) Path(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, clean)
	if ok, _ := afero.Exists(r.fs, path); !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return path, nil
}

// Open returns the clip contents for streaming to a client.
func (r *Repo) Open(name string) (afero.File, Info, error) {
	path, err := r.Path(name)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("open clip: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Info{}, fmt.Errorf("stat clip: %w", err)
	}
	return f, Info{Name: filepath.Base(path), Size: st.Size()}, nil
}

// Rename moves a clip. The new name keeps the allow-list constraint and must
// not collide with an existing clip.
func (r *Repo) Rename(oldName, newName string) error {
	oldPath, err := r.Path(oldName)
	if err != nil {
		return err
	}
	clean, err := CleanName(newName)
	if err != nil {
		return err
	}
	if !allowedExts[strings.ToLower(filepath.Ext(clean))] {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(clean))
	}
	newPath := filepath.Join(r.dir, clean)
	if ok, _ := afero.Exists(r.fs, newPath); ok {
		return fmt.Errorf("%w: %s", ErrExists, clean)
	}
	if err := r.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename clip: %w", err)
	}
	r.log.Info("clip renamed",
		logx.String("from", filepath.Base(oldPath)),
		logx.String("to", clean))
	return nil
}

// Delete removes a clip from the library.
func (r *Repo) Delete(name string) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}
	if err := r.fs.Remove(path); err != nil {
		return fmt.Errorf("delete clip: %w", err)
	}
	r.log.Info("clip deleted", logx.String("name", filepath.Base(path)))
	return nil
}

// enrich fills Title/Artist from embedded tags. Failures are fine: plenty of
// alarm clips have no metadata at all.
func (r *Repo) enrich(info *Info) {
	f, err := r.fs.Open(filepath.Join(r.dir, info.Name))
	if err != nil {
		return
	}
	defer f.Close()
	md, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	info.Title = md.Title()
	info.Artist = md.Artist()
}
