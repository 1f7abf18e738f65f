package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployer/pkg/environment"
)

// StarlarkConfigGlobal is the global a .star source must assign.
const StarlarkConfigGlobal = "config"

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStarlarkTimeout bounds .star evaluation.
func WithStarlarkTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.starlark = NewStarlarkEvaluator(d) }
}

// WithStarlarkVars predeclares vars in .star sources.
func WithStarlarkVars(vars map[string]any) LoaderOption {
	return func(l *Loader) { l.vars = vars }
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger.With().Str("component", "config-loader").Logger() }
}

// Loader reads environment creation configs from YAML, JSON, CUE or
// Starlark sources. Every source goes through the same checks: the CUE
// schema, then the struct rules.
type Loader struct {
	schemas  *SchemaRegistry
	starlark *StarlarkEvaluator
	validate *validator.Validate
	vars     map[string]any
	logger   zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		schemas:  NewSchemaRegistry(),
		starlark: NewStarlarkEvaluator(0),
		validate: newValidator(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile reads and validates the config at path. The format follows the
// file extension.
func (l *Loader) LoadFile(ctx context.Context, path string) (*EnvironmentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.Load(ctx, path, data)
}

// Load validates data read from source. source names the document in
// errors and selects the format by extension.
func (l *Loader) Load(ctx context.Context, source string, data []byte) (*EnvironmentConfig, error) {
	start := time.Now()

	val, err := l.compile(ctx, source, data)
	if err != nil {
		return nil, err
	}

	unified, err := l.schemas.Apply(SchemaEnvironment, val)
	if err != nil {
		return nil, &ValidationErrors{Source: source, Errors: convertCUEErrors(source, err)}
	}

	doc, err := unified.MarshalJSON()
	if err != nil {
		return nil, &ValidationErrors{Source: source, Errors: convertCUEErrors(source, err)}
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	var cfg EnvironmentConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ValidationErrors{Source: source, Errors: []ValidationError{{File: source, Message: err.Error()}}}
	}

	if err := l.check(source, &cfg); err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("source", source).
		Str("environment", cfg.Environment.Name).
		Dur("duration", time.Since(start)).
		Msg("Loaded environment config")
	return &cfg, nil
}

// Validate applies the schema and struct rules to a config built in code.
func (l *Loader) Validate(cfg *EnvironmentConfig) error {
	if err := l.schemas.ValidateAgainstSchema(SchemaEnvironment, cfg); err != nil {
		return &ValidationErrors{Source: "config", Errors: convertCUEErrors("", err)}
	}
	return l.check("config", cfg)
}

func (l *Loader) compile(ctx context.Context, source string, data []byte) (cue.Value, error) {
	cctx := l.schemas.Context()

	switch ext := strings.ToLower(filepath.Ext(source)); ext {
	case ".cue", ".json":
		// JSON is valid CUE, and compiling it keeps positions.
		val := cctx.CompileBytes(data, cue.Filename(source))
		if err := val.Err(); err != nil {
			return cue.Value{}, &ValidationErrors{Source: source, Errors: convertCUEErrors(source, err)}
		}
		return val, nil

	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, &ValidationErrors{Source: source, Errors: []ValidationError{{File: source, Message: err.Error()}}}
		}
		return encode(cctx, source, doc)

	case ".star":
		result, err := l.starlark.Evaluate(ctx, filepath.Base(source), string(data), l.vars)
		if err != nil {
			return cue.Value{}, &ValidationErrors{Source: source, Errors: []ValidationError{{File: source, Message: err.Error()}}}
		}
		doc, ok := result.Output[StarlarkConfigGlobal]
		if !ok {
			return cue.Value{}, &ValidationErrors{Source: source, Errors: []ValidationError{{
				File:    source,
				Message: "script does not assign a top-level " + StarlarkConfigGlobal + " dict",
			}}}
		}
		l.logger.Debug().Str("source", source).Dur("duration", result.ExecutionTime).Msg("Evaluated Starlark config")
		return encode(cctx, source, doc)

	default:
		return cue.Value{}, fmt.Errorf("unsupported config format %q (use .yaml, .json, .cue or .star)", ext)
	}
}

func encode(cctx *cue.Context, source string, doc any) (cue.Value, error) {
	if _, ok := doc.(map[string]any); !ok {
		return cue.Value{}, &ValidationErrors{Source: source, Errors: []ValidationError{{
			File:    source,
			Message: fmt.Sprintf("config must be a mapping, got %T", doc),
		}}}
	}
	val := cctx.Encode(doc)
	if err := val.Err(); err != nil {
		return cue.Value{}, &ValidationErrors{Source: source, Errors: convertCUEErrors(source, err)}
	}
	return val, nil
}

func (l *Loader) check(source string, cfg *EnvironmentConfig) error {
	err := l.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			File:    source,
			Path:    fieldPath(fe.Namespace()),
			Message: fieldMessage(fe),
		})
	}
	return &ValidationErrors{Source: source, Errors: out}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		_, err := environment.ParseName(fl.Field().String())
		return err == nil
	})
	return v
}

// fieldPath drops the root type from a validator namespace.
func fieldPath(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + strings.Replace(fe.Param(), " ", " is ", 1)
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "hostname_rfc1123":
		return fmt.Sprintf("%q is not a valid host name", fe.Value())
	case "envname":
		_, err := environment.ParseName(fmt.Sprint(fe.Value()))
		if err != nil {
			return err.Error()
		}
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

func convertCUEErrors(source string, err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:    source,
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(cueerrors.Details(e, nil)),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() == source {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: source, Message: err.Error()})
	}
	return out
}
