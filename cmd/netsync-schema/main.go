package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"arena/netsync/internal/net/proto"
)

func main() {
	outPath := flag.String("out", "-", "schema destination; - prints to stdout")
	flag.Parse()

	schema := buildSchema()
	if *outPath == "-" {
		data, err := marshalSchema(schema)
		if err == nil {
			_, err = os.Stdout.Write(data)
		}
		if err != nil {
			log.Fatalf("netsync-schema: %v", err)
		}
		return
	}
	if err := writeSchema(*outPath, schema); err != nil {
		log.Fatalf("netsync-schema: %v", err)
	}
}

// buildSchema describes the data payload of every envelope type. Inbound and
// outbound variants of entityUpdate are listed separately.
func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	var variants []*jsonschema.Schema
	for _, entry := range proto.Catalog() {
		schema := reflector.Reflect(entry.Payload)
		schema.Version = ""
		schema.Title = entry.Type
		schema.Description = fmt.Sprintf("%s payload (%s)", entry.Type, entry.Direction)
		variants = append(variants, schema)
	}
	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Arena Netsync Wire Protocol",
		Description: fmt.Sprintf("Payloads carried in the data field of {ver, type, data} envelopes, protocol version %d.", proto.Version),
		OneOf:       variants,
	}
}

func marshalSchema(schema *jsonschema.Schema) ([]byte, error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

// writeSchema replaces outPath atomically so a concurrent reader never sees a
// partial document.
func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := marshalSchema(schema)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(outPath), err)
	}
	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, outPath)
}
