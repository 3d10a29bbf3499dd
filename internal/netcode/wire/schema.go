package wire

import "github.com/invopop/jsonschema"

// EnvelopeDocument documents the envelope for peers written against the JSON
// form of the wire tree. Integer map keys appear as decimal strings there.
type EnvelopeDocument struct {
	Kind    uint8          `json:"kind" jsonschema:"enum=1,enum=2,description=1 = state; 2 = resync_request"`
	Channel uint8          `json:"channel" jsonschema:"enum=0,enum=1,enum=2,enum=3,description=1 = initial; 2 = reliable; 3 = unreliable; 0 on control envelopes"`
	Seq     uint64         `json:"seq" jsonschema:"minimum=0,description=Sender sequence number the payload was captured at"`
	Payload map[string]any `json:"payload,omitempty" jsonschema:"description=Sparse tree keyed by decimal field keys; leaves are bool number or string; inner nodes are objects"`
}

// Schema reflects the JSON schema of EnvelopeDocument.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(new(EnvelopeDocument))
	schema.Title = "Replication Envelope"
	schema.Description = "Frame exchanged between replication peers"
	return schema
}
