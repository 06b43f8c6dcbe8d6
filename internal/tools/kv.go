package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/workmem/internal/store"
)

// SessionKVToolName is the name agents call the session store under.
const SessionKVToolName = "session_kv"

const kvSchema = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string", "enum": ["get", "set", "delete", "list"]},
		"key": {"type": "string"},
		"value": {"type": "string"}
	}
}`

type kvArgs struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// KVHandler serves the session-scoped key/value store.
type KVHandler struct {
	store  *store.Store
	schema *jsonschema.Schema
}

// NewKVHandler compiles the input schema and wraps the store.
func NewKVHandler(st *store.Store) (*KVHandler, error) {
	schema, err := compileSchema(SessionKVToolName, kvSchema)
	if err != nil {
		return nil, err
	}
	return &KVHandler{store: st, schema: schema}, nil
}

func (h *KVHandler) Name() string { return SessionKVToolName }

func (h *KVHandler) Description() string {
	return "Store small working values for the current session. Actions: get, set, delete, list. " +
		"Holds at most 20 keys with values up to 500 characters."
}

// Handle routes one key/value call.
func (h *KVHandler) Handle(ctx context.Context, sessionID string, input json.RawMessage) (string, error) {
	if err := validateInput(h.schema, input); err != nil {
		return "Error: invalid arguments: " + err.Error(), nil
	}
	var args kvArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "Error: invalid arguments: " + err.Error(), nil
	}

	switch args.Action {
	case "set":
		if err := h.store.KVSet(sessionID, args.Key, args.Value); err != nil {
			return storeResult(err)
		}
		return fmt.Sprintf("Stored %s", strings.TrimSpace(args.Key)), nil
	case "get":
		value, err := h.store.KVGet(sessionID, args.Key)
		if err != nil {
			return storeResult(err)
		}
		return fmt.Sprintf("%s = %s", strings.TrimSpace(args.Key), value), nil
	case "delete":
		if err := h.store.KVDelete(sessionID, args.Key); err != nil {
			return storeResult(err)
		}
		return fmt.Sprintf("Deleted %s", strings.TrimSpace(args.Key)), nil
	case "list":
		pairs, err := h.store.KVList(sessionID)
		if err != nil {
			return storeResult(err)
		}
		if len(pairs) == 0 {
			return "No session values stored.", nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Session values (%d):\n", len(pairs))
		for _, p := range pairs {
			fmt.Fprintf(&sb, "- %s = %s\n", p.Key, p.Value)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}
	return fmt.Sprintf("Error: unknown action %q", args.Action), nil
}
