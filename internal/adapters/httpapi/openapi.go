package httpapi

func openapiDocument() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "keyledger",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/keys": map[string]any{
				"get":  map[string]any{"summary": "List keys with their current holder"},
				"post": map[string]any{"summary": "Register a key"},
			},
			"/v1/keys/{code}": map[string]any{
				"get":    map[string]any{"summary": "Get a key"},
				"put":    map[string]any{"summary": "Rename a key"},
				"delete": map[string]any{"summary": "Remove an unheld key"},
			},
			"/v1/keys/{code}/give": map[string]any{
				"post": map[string]any{"summary": "Hand a key to a user"},
			},
			"/v1/keys/{code}/receive": map[string]any{
				"post": map[string]any{"summary": "Confirm receipt of a key"},
			},
			"/v1/keys/{code}/return": map[string]any{
				"post": map[string]any{"summary": "Return a key to the organization"},
			},
			"/v1/keys/{code}/history": map[string]any{
				"get": map[string]any{"summary": "Custody history of a key"},
			},
			"/v1/keys/{code}/holder": map[string]any{
				"get": map[string]any{"summary": "Current holder of a key"},
			},
			"/v1/key-cards": map[string]any{
				"get":  map[string]any{"summary": "Find key cards, or page through them with prefix, after and limit"},
				"post": map[string]any{"summary": "Register a key card"},
			},
			"/v1/key-cards/{code}": map[string]any{
				"put": map[string]any{"summary": "Rename a key card"},
			},
			"/v1/audit": map[string]any{
				"get": map[string]any{"summary": "Organization audit trail"},
			},
		},
	}
}
