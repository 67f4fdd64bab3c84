package filestore

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MustSchema compiles the JSON Schema document src and returns a validator
// suitable for LoadOptions.Validate. It panics on a bad schema, so call it
// from package-level vars only.
func MustSchema(name, src string) func(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
	if err != nil {
		panic(fmt.Sprintf("filestore: parse schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("filestore: add schema %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("filestore: compile schema %s: %v", name, err))
	}
	return func(raw []byte) error {
		// jsonschema.UnmarshalJSON keeps numbers as json.Number.
		v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		return schema.Validate(v)
	}
}
