package category

import (
	"fmt"
	"strings"
)

// Category is the kind of result a client asked for.
type Category string

const (
	General Category = "general"
	Images  Category = "images"
	Videos  Category = "videos"
)

// All lists the supported categories.
var All = []Category{General, Images, Videos}

// Parse maps a request value to a Category. Empty input means General.
func Parse(raw string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case "":
		return General, nil
	case General, Images, Videos:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q (want one of %s)", raw, strings.Join(names(), ", "))
	}
}

func (c Category) String() string { return string(c) }

func names() []string {
	out := make([]string, len(All))
	for i, c := range All {
		out[i] = string(c)
	}
	return out
}
