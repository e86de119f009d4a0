// Package templates holds the layouts of the published editions.
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/Masterminds/sprig"
	"github.com/google/uuid"
)

//go:embed src
var embeddedTemplateFs embed.FS

var (
	loadOnce       sync.Once
	embeddedErrors map[string]error
	embedded       map[string]*template.Template
)

func getTemplatesFromFS(templateFS fs.ReadDirFS) (map[string]*template.Template, map[string]error) {
	templates := make(map[string]*template.Template)
	errs := make(map[string]error)

	files, err := templateFS.ReadDir("src")
	if err != nil {
		errs["src"] = err
		return templates, errs
	}
	for _, f := range files {
		if !hasSuffix(f.Name(), ".html", ".css") {
			continue
		}
		t := template.New(f.Name())
		t = t.Funcs(sprig.FuncMap())
		t = t.Funcs(TutorialTemplateFuncs)
		t, err := t.ParseFS(templateFS, "src/"+f.Name())
		if err != nil {
			errs[f.Name()] = err
			continue
		}
		templates[f.Name()] = t
	}

	return templates, errs
}

// Init parses every embedded template and reports all failures at once.
func Init() error {
	loadOnce.Do(func() {
		embedded, embeddedErrors = getTemplatesFromFS(embeddedTemplateFs)
	})
	if len(embeddedErrors) == 0 {
		return nil
	}

	var names []string
	for name := range embeddedErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	var msgs []string
	for _, name := range names {
		msgs = append(msgs, fmt.Sprintf("%s: %v", name, embeddedErrors[name]))
	}
	return oops.New(nil, "failed to parse templates: %s", strings.Join(msgs, "; "))
}

func GetTemplate(name string) (*template.Template, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	t, ok := embedded[name]
	if !ok {
		return nil, oops.New(nil, "template not found: %s", name)
	}
	return t, nil
}

func hasSuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

var controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0B-\x1F\x7F]`)

var TutorialTemplateFuncs = template.FuncMap{
	"absolutedate": func(t time.Time) string {
		return t.UTC().Format("January 2, 2006")
	},
	"rfc3339": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
	"timehtml": func(formatted string, t time.Time) template.HTML {
		iso := t.UTC().Format(time.RFC3339)
		return template.HTML(fmt.Sprintf(`<time datetime="%s">%s</time>`, iso, formatted))
	},
	// Stable identifier for a publication, used by e-readers to match editions.
	"string2uuid": func(s string) string {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s)).URN()
	},
	"filesize": func(numBytes int64) string {
		return FileSize(numBytes)
	},
	"cleancontrolchars": func(str template.HTML) template.HTML {
		return template.HTML(controlCharRegex.ReplaceAllString(string(str), ""))
	},
}

func FileSize(numBytes int64) string {
	scales := []string{
		" bytes",
		"kb",
		"mb",
		"gb",
	}
	num := float64(numBytes)
	scale := 0
	for num > 1024 && scale < len(scales)-1 {
		num /= 1024
		scale += 1
	}
	precision := 0
	if scale > 0 {
		precision = 2
	}
	return fmt.Sprintf("%.*f%s", precision, num, scales[scale])
}
