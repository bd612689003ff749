// Package language maps language identifiers to sandbox images and the shell
// command templates used to build and run a submission inside them.
package language

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	appErr "codejudge/pkg/errors"
)

// Template renders a shell command from a base64 encoded source and a temp path
// without extension. The command decodes the source inside the sandbox.
type Template func(encodedSource, tempPath string) string

// Descriptor describes one supported language.
type Descriptor struct {
	ID         string   `json:"id"`
	Image      string   `json:"image"`
	Extensions []string `json:"extensions"`
	SourceExt  string   `json:"-"`
	Compiled   bool     `json:"compiled"`

	compile Template
	run     Template
}

// CompileCommand renders the build (or syntax check) command.
func (d Descriptor) CompileCommand(encodedSource, tempPath string) string {
	return d.compile(encodedSource, tempPath)
}

// RunCommand renders the command that executes the program. Every sandbox is
// fresh, so the run command rebuilds quietly before executing.
func (d Descriptor) RunCommand(encodedSource, tempPath string) string {
	return d.run(encodedSource, tempPath)
}

// EncodeSource encodes source for embedding in a command template.
func EncodeSource(source string) string {
	return base64.StdEncoding.EncodeToString([]byte(source))
}

func writeSource(encoded, file string) string {
	return fmt.Sprintf("printf '%%s' '%s' | base64 -d > %s", encoded, file)
}

func gccTemplates(compiler, std, ext, libs string) (Template, Template) {
	build := func(tempPath string) string {
		cmd := fmt.Sprintf("%s -O2 -std=%s -o %s %s%s", compiler, std, tempPath, tempPath, ext)
		if libs != "" {
			cmd += " " + libs
		}
		return cmd
	}
	compile := func(encoded, tempPath string) string {
		return writeSource(encoded, tempPath+ext) + " && " + build(tempPath)
	}
	run := func(encoded, tempPath string) string {
		return writeSource(encoded, tempPath+ext) + " && " + build(tempPath) + " >/dev/null 2>&1 && " + tempPath
	}
	return compile, run
}

func builtins() []Descriptor {
	cCompile, cRun := gccTemplates("gcc", "c11", ".c", "-lm")
	cppCompile, cppRun := gccTemplates("g++", "c++17", ".cpp", "")
	return []Descriptor{
		{
			ID:         "c",
			Image:      "gcc:13",
			Extensions: []string{".c"},
			SourceExt:  ".c",
			Compiled:   true,
			compile:    cCompile,
			run:        cRun,
		},
		{
			ID:         "cpp",
			Image:      "gcc:13",
			Extensions: []string{".cpp", ".cc", ".cxx", ".c++"},
			SourceExt:  ".cpp",
			Compiled:   true,
			compile:    cppCompile,
			run:        cppRun,
		},
		{
			ID:         "python",
			Image:      "python:3.12-slim",
			Extensions: []string{".py"},
			SourceExt:  ".py",
			compile: func(encoded, tempPath string) string {
				return writeSource(encoded, tempPath+".py") + " && python3 -m py_compile " + tempPath + ".py"
			},
			run: func(encoded, tempPath string) string {
				return writeSource(encoded, tempPath+".py") + " && python3 " + tempPath + ".py"
			},
		},
	}
}

var aliases = map[string]string{
	"c++":     "cpp",
	"cxx":     "cpp",
	"py":      "python",
	"python3": "python",
}

// Registry resolves language identifiers. It is immutable after construction.
type Registry struct {
	byID  map[string]Descriptor
	byExt map[string]string
}

// NewRegistry builds the registry of built-in languages. images overrides the
// sandbox image per language id; an override for an unknown id is an error.
func NewRegistry(images map[string]string) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Descriptor),
		byExt: make(map[string]string),
	}
	for _, d := range builtins() {
		r.byID[d.ID] = d
		for _, ext := range d.Extensions {
			r.byExt[ext] = d.ID
		}
	}
	for id, image := range images {
		key := normalize(id)
		d, ok := r.byID[key]
		if !ok {
			return nil, fmt.Errorf("image override for unknown language %q", id)
		}
		if image = strings.TrimSpace(image); image != "" {
			d.Image = image
			r.byID[key] = d
		}
	}
	return r, nil
}

func normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := aliases[id]; ok {
		return canonical
	}
	return id
}

// Resolve returns the descriptor for id. Unknown ids are LanguageNotSupported.
func (r *Registry) Resolve(id string) (Descriptor, error) {
	d, ok := r.byID[normalize(id)]
	if !ok {
		return Descriptor{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", id).
			WithDetail("language", id)
	}
	return d, nil
}

// Detect resolves a language from a source file name extension.
func (r *Registry) Detect(filename string) (Descriptor, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	id, ok := r.byExt[ext]
	if !ok {
		return Descriptor{}, appErr.Newf(appErr.LanguageNotSupported, "cannot detect language of %q", filename).
			WithDetail("filename", filename)
	}
	return r.byID[id], nil
}

// List returns all descriptors ordered by id.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
