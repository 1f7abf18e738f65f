package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaEnvironment is the registry name of the creation config schema.
const SchemaEnvironment = "environment"

// SchemaRegistry holds compiled CUE definitions. Values it returns belong to
// its context and can only be unified with values built from Context().
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SchemaEnvironment, "#EnvironmentConfig", builtinEnvironmentSchema); err != nil {
		panic(err)
	}
	return sr
}

// Context returns the CUE context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies data with the named schema and checks the result is
// concrete. The returned value has schema defaults filled in.
func (sr *SchemaRegistry) Apply(schemaName string, data cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes a Go value and validates it against a
// named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data any) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Apply(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns the registered schema names in order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinEnvironmentSchema = `
#Port: int & >=1 & <=65535

#LXDProvider: {
	kind:         "lxd"
	profile_name: string & !=""
	image?:       string
}

#HetznerProvider: {
	kind:        "hetzner"
	server_type: string & !=""
	location:    string & !=""
	image:       string | *"ubuntu-24.04"
	api_token?:  string
}

#EnvironmentConfig: {
	environment: {
		name:           string & =~"^[a-z][a-z0-9-]*$"
		instance_name?: string & =~"^[a-z0-9][a-z0-9-]*$"
	}

	ssh_credentials: {
		private_key_path: string & !=""
		public_key_path:  string & !=""
		username:         string | *"torrust"
		port:             #Port | *22
	}

	provider: #LXDProvider | #HetznerProvider

	tracker: {
		udp_ports:  [...#Port] | *[6969]
		http_ports: [...#Port] | *[7070]
		api_port:   #Port | *1212
		database:   *"sqlite" | "mysql"
	}

	prometheus?: {
		scrape_interval: int & >0 | *15
	}

	grafana?: {
		admin_user:     string | *"admin"
		admin_password: string & !=""
	}
}
`
