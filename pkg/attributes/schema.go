package attributes

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// attributesSchema describes the shape of the keys the renderer and the
// converge plan read. It only checks kinds; unknown keys are allowed
// everywhere so passthrough settings keep working.
const attributesSchema = `
#Handler: {
	class:      string & !=""
	arguments?: [...string]
	...
}

#Gem: {
	require_name?: string
	version?:      string
	...
}

#Attributes: {
	chef_client?: {
		config?: {
			chef_server_url?:        string
			validation_client_name?: string
			node_name?:              string
			log_level?:              string
			ssl_verify_mode?:        string
			http_proxy?:             string
			https_proxy?:            string
			no_proxy?:               string
			exception_handlers?:     [...#Handler]
			report_handlers?:        [...#Handler]
			start_handlers?:         [...#Handler]
			...
		}
		load_gems?: [string]: #Gem
		reload_config?:    bool
		config_d_enabled?: bool
		conf_dir?:         string
		run_path?:         string
		cache_path?:       string
		backup_path?:      string
		log_dir?:          string
		...
	}
	ohai?: {
		disabled_plugins?: [...string]
		...
	}
	...
}
`

// Schema validates exported trees against the attribute shape.
type Schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewSchema compiles the built-in attribute schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(attributesSchema, cue.Filename("attributes.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile attribute schema: %w", err)
	}
	return &Schema{
		ctx:    ctx,
		schema: val.LookupPath(cue.ParsePath("#Attributes")),
	}, nil
}

// Validate checks tree against the schema. The returned error lists every
// violation with its path.
func (s *Schema) Validate(tree *Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.Encode(tree.Export())
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	unified := s.schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("attribute schema validation failed: %w", convertCUEError(err))
	}
	return nil
}
