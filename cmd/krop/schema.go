package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"krop/internal/output"
)

// cmdSchema prints the JSON Schema of the gadget record emitted by
// find --json. Hidden from usage; meant for downstream consumers.
func cmdSchema(args []string) error {
	_ = args
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&output.Record{}), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	fmt.Println(string(bts))
	return nil
}
