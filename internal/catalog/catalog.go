// Package catalog holds the fixed A–Z letter records shown to learners.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Size is the number of letters in the alphabet.
const Size = 26

// DefaultEmoji is shown for letters without a catalog entry.
const DefaultEmoji = "📝"

// ErrInvalidCatalog is returned when catalog data does not describe A–Z exactly once.
var ErrInvalidCatalog = errors.New("invalid catalog")

//go:embed alphabet.yaml
var alphabetYAML []byte

// Entry is one immutable letter record.
type Entry struct {
	Letter    string `yaml:"letter"`
	Word      string `yaml:"word"`
	Image     string `yaml:"image"`
	Emoji     string `yaml:"emoji"`
	ImagePath string `yaml:"-"`
}

// Catalog is safe for concurrent use; it is never mutated after construction.
type Catalog struct {
	entries []Entry
	index   map[string]Entry
}

// Resolver maps an image filename to the URL the page loads it from.
type Resolver func(file string) string

// AssetPath resolves image files under <base>/images/alphabet.
func AssetPath(base string) Resolver {
	return func(file string) string {
		return path.Join("/", base, "images", "alphabet", file)
	}
}

// New loads the embedded alphabet.
func New(resolve Resolver) (*Catalog, error) {
	return Load(alphabetYAML, resolve)
}

// Load decodes and validates catalog data.
func Load(data []byte, resolve Resolver) (*Catalog, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(entries) != Size {
		return nil, fmt.Errorf("%w: %d entries, want %d", ErrInvalidCatalog, len(entries), Size)
	}

	index := make(map[string]Entry, Size)
	for i := range entries {
		e := &entries[i]
		letter, ok := Normalize(e.Letter)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d has letter %q", ErrInvalidCatalog, i, e.Letter)
		}
		if _, dup := index[letter]; dup {
			return nil, fmt.Errorf("%w: duplicate letter %s", ErrInvalidCatalog, letter)
		}
		if e.Word == "" || e.Image == "" || e.Emoji == "" {
			return nil, fmt.Errorf("%w: letter %s is missing word, image or emoji", ErrInvalidCatalog, letter)
		}
		e.Letter = letter
		if resolve != nil {
			e.ImagePath = resolve(e.Image)
		} else {
			e.ImagePath = e.Image
		}
		index[letter] = *e
	}

	ordered := lo.Map(Letters(), func(l string, _ int) Entry { return index[l] })
	return &Catalog{entries: ordered, index: index}, nil
}

// Letters returns A through Z.
func Letters() []string {
	return lo.Times(Size, func(i int) string { return string(rune('A' + i)) })
}

// Normalize uppercases a single-character key and reports whether it is A–Z.
func Normalize(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if len(key) != 1 {
		return "", false
	}
	upper := strings.ToUpper(key)
	if upper[0] < 'A' || upper[0] > 'Z' {
		return "", false
	}
	return upper, true
}

// Lookup finds the entry for a letter in either case.
func (c *Catalog) Lookup(letter string) (Entry, bool) {
	letter, ok := Normalize(letter)
	if !ok {
		return Entry{}, false
	}
	e, ok := c.index[letter]
	return e, ok
}

// Entries returns all entries in alphabetical order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

func (c *Catalog) Len() int { return len(c.entries) }

// ImagePaths lists every entry's resolved image URL.
func (c *Catalog) ImagePaths() []string {
	return lo.Map(c.entries, func(e Entry, _ int) string { return e.ImagePath })
}

// EmojiFor returns the letter's emoji, or DefaultEmoji.
func (c *Catalog) EmojiFor(letter string) string {
	if e, ok := c.Lookup(letter); ok {
		return e.Emoji
	}
	return DefaultEmoji
}
