package classify

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultFallback is the label used when no category claims an extension.
const DefaultFallback = "Others"

// Category is one entry of the ordered category table.
type Category struct {
	Name       string
	Extensions []string
}

// Overlap records an extension claimed by more than one category. The first
// category in declaration order wins.
type Overlap struct {
	Extension string
	Winner    string
	Shadowed  string
}

// Rules is the immutable classification table.
type Rules struct {
	categories []Category
	lookup     map[string]string
	temp       map[string]struct{}
	fallback   string
	overlaps   []Overlap
}

var folder = cases.Fold()

// New builds Rules from an ordered category list, a fallback label and the set
// of temporary extensions that are never routed. Extensions are compared case
// insensitively and may be given with or without the leading dot.
func New(categories []Category, fallback string, tempExtensions []string) *Rules {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		fallback = DefaultFallback
	}
	r := &Rules{
		categories: make([]Category, 0, len(categories)),
		lookup:     make(map[string]string),
		temp:       make(map[string]struct{}, len(tempExtensions)),
		fallback:   fallback,
	}
	for _, cat := range categories {
		exts := make([]string, 0, len(cat.Extensions))
		for _, raw := range cat.Extensions {
			ext := canonical(raw)
			if ext == "" {
				continue
			}
			exts = append(exts, ext)
			if winner, taken := r.lookup[ext]; taken {
				if winner != cat.Name {
					r.overlaps = append(r.overlaps, Overlap{Extension: ext, Winner: winner, Shadowed: cat.Name})
				}
				continue
			}
			r.lookup[ext] = cat.Name
		}
		r.categories = append(r.categories, Category{Name: cat.Name, Extensions: exts})
	}
	for _, raw := range tempExtensions {
		if ext := canonical(raw); ext != "" {
			r.temp[ext] = struct{}{}
		}
	}
	return r
}

// Classify returns the category for name: the first category whose extension
// set contains the lowercased extension, or the fallback label.
func (r *Rules) Classify(name string) string {
	if label, ok := r.lookup[Extension(name)]; ok {
		return label
	}
	return r.fallback
}

// IsTemp reports whether name carries a partial-download extension.
func (r *Rules) IsTemp(name string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	_, ok := r.temp[ext]
	return ok
}

// Fallback returns the label used for unmatched extensions.
func (r *Rules) Fallback() string { return r.fallback }

// Categories returns a copy of the ordered category table.
func (r *Rules) Categories() []Category {
	out := make([]Category, len(r.categories))
	for i, cat := range r.categories {
		out[i] = Category{Name: cat.Name, Extensions: append([]string(nil), cat.Extensions...)}
	}
	return out
}

// Labels returns every label Classify can produce, fallback last.
func (r *Rules) Labels() []string {
	labels := make([]string, 0, len(r.categories)+1)
	for _, cat := range r.categories {
		labels = append(labels, cat.Name)
	}
	return append(labels, r.fallback)
}

// Overlaps lists extensions declared by more than one category.
func (r *Rules) Overlaps() []Overlap {
	return append([]Overlap(nil), r.overlaps...)
}

// Extension returns the case-folded extension of name including the leading
// dot, or "" when the base name has no dot after its first character.
func Extension(name string) string {
	base := filepath.Base(name)
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 || idx == len(base)-1 {
		return ""
	}
	return folder.String(base[idx:])
}

func canonical(raw string) string {
	ext := strings.TrimSpace(raw)
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return folder.String(ext)
}
