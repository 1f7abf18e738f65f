// Package render produces the files the external tools consume: OpenTofu
// projects, cloud-init user data, Ansible inventories and playbooks, and the
// release bundle uploaded to the instance.
//
// Static files and text templates are embedded; a templates directory on
// disk with the same layout can replace them. Structured YAML outputs are
// built from Go values and encoded with yaml.v3 rather than templated.
package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"text/template"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployer/pkg/environment"
)

//go:embed all:templates
var embedded embed.FS

const (
	dirMode    = 0o755
	fileMode   = 0o644
	secretMode = 0o600
)

// TofuDir is the OpenTofu working directory of an environment.
func TofuDir(env environment.Context) string {
	return filepath.Join(env.Internal.BuildDir, "tofu", string(env.UserInputs.Provider.Kind))
}

// AnsibleDir is the Ansible working directory of an environment.
func AnsibleDir(env environment.Context) string {
	return filepath.Join(env.Internal.BuildDir, "ansible")
}

// ReleaseDir holds the bundle uploaded to the instance's application directory.
func ReleaseDir(env environment.Context) string {
	return filepath.Join(env.Internal.BuildDir, "release")
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithTemplatesDir reads templates from dir instead of the embedded set.
func WithTemplatesDir(dir string) Option {
	return func(r *Renderer) {
		if dir != "" {
			r.templates = os.DirFS(dir)
		}
	}
}

// WithSecrets sets where generated secrets come from. Defaults to the
// process environment with random fallbacks.
func WithSecrets(s SecretSource) Option {
	return func(r *Renderer) { r.secrets = s }
}

// Renderer writes build artifacts under an environment's build directory.
type Renderer struct {
	templates fs.FS
	secrets   SecretSource
	logger    zerolog.Logger
}

// New returns a Renderer using the embedded templates.
func New(logger zerolog.Logger, opts ...Option) *Renderer {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	r := &Renderer{
		templates: sub,
		logger:    logger.With().Str("component", "render").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.secrets == nil {
		r.secrets = EnvSecrets(r.logger)
	}
	return r
}

// copyStatic copies every non-template file under src into dst.
func (r *Renderer) copyStatic(src, dst string) error {
	return fs.WalkDir(r.templates, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) == ".tmpl" {
			return nil
		}
		data, err := fs.ReadFile(r.templates, p)
		if err != nil {
			return fmt.Errorf("read template %s: %w", p, err)
		}
		rel := p[len(src)+1:]
		return writeFile(filepath.Join(dst, filepath.FromSlash(rel)), data, fileMode)
	})
}

// execute renders the text template name into dst.
func (r *Renderer) execute(name, dst string, data any, mode os.FileMode) error {
	content, err := fs.ReadFile(r.templates, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	t, err := template.New(path.Base(name)).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Errorf("render template %s: %w", name, err)
	}
	return writeFile(dst, buf.Bytes(), mode)
}

// writeYAML encodes v with two-space indentation, after an optional header line.
func writeYAML(dst, header string, v any, mode os.FileMode) error {
	var buf bytes.Buffer
	if header != "" {
		buf.WriteString(header + "\n")
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(dst), err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeFile(dst, buf.Bytes(), mode)
}

func writeFile(dst string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(dst, mode)
}

func readPublicKey(env environment.Context) (string, error) {
	data, err := os.ReadFile(env.UserInputs.SSH.PublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("read SSH public key: %w", err)
	}
	return string(bytes.TrimSpace(data)), nil
}

func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
