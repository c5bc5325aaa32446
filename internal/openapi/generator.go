package openapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI 3.1 document describing the key management and
// metering API. The surface is fixed, so the document is deterministic.
func Generate() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keymeter API",
			Description: "API key issuance, authentication, and usage metering.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: "/"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = errorResponseSchema()
	doc.Components.Schemas["APIKey"] = apiKeySchema()
	doc.Components.Schemas["UsageSummary"] = usageSummarySchema()

	doc.Paths = openapi3.NewPaths()
	addSystemPaths(doc)
	addKeyPaths(doc)

	return doc
}

func addSystemPaths(doc *openapi3.T) {
	bearer := openapi3.SecurityRequirements{{"bearerAuth": {}}}

	doc.Paths.Set("/api/v1/system/admin/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Log in as an operator",
			OperationID: "login",
			RequestBody: jsonBody("Operator credentials", objectSchema(map[string]*openapi3.Schema{
				"email":    stringSchema(""),
				"password": stringSchema(""),
			})),
			Responses: newResponses("200", "Session token issued", objectSchema(map[string]*openapi3.Schema{
				"session_token": stringSchema(""),
				"token_type":    stringSchema(""),
				"expires_in":    intSchema(),
				"admin_id":      stringSchema(""),
				"email":         stringSchema(""),
				"name":          stringSchema(""),
			})),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Log out",
			OperationID: "logout",
			Responses: newResponses("200", "Session invalidated", objectSchema(map[string]*openapi3.Schema{
				"success": boolSchema(),
				"message": stringSchema(""),
			})),
		},
	})

	doc.Paths.Set("/api/v1/system/key", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Issue a new API key",
			Description: "Returns the plaintext secret exactly once; only its hash is stored.",
			OperationID: "issueKey",
			Security:    &bearer,
			RequestBody: jsonBody("Key attributes", objectSchema(map[string]*openapi3.Schema{
				"owner_id": stringSchema("Account the key belongs to"),
				"name":     stringSchema("Optional display name"),
				"plan":     stringSchema("free, pro, or enterprise; defaults to free"),
			})),
			Responses: newResponses("201", "Key issued", &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"key":    openapi3.NewSchemaRef("#/components/schemas/APIKey", nil),
						"secret": {Value: stringSchema("One-time plaintext secret")},
					},
				},
			}),
		},
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List API keys",
			OperationID: "listKeys",
			Security:    &bearer,
			Parameters: openapi3.Parameters{
				queryParam("owner_id", "Filter by owner", stringSchema("")),
			},
			Responses: newResponses("200", "Keys", listSchema("#/components/schemas/APIKey")),
		},
	})

	doc.Paths.Set("/api/v1/system/key/{keyID}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Get an API key",
			OperationID: "getKey",
			Security:    &bearer,
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			Responses:   newResponses("200", "Key", refSchemaValue("#/components/schemas/APIKey")),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Deactivate an API key",
			Description: "Idempotent: deactivating an inactive key succeeds.",
			OperationID: "deactivateKey",
			Security:    &bearer,
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			Responses: newResponses("200", "Key deactivated", objectSchema(map[string]*openapi3.Schema{
				"id":        stringSchema(""),
				"is_active": boolSchema(),
			})),
		},
	})

	doc.Paths.Set("/api/v1/system/key/{keyID}/reactivate", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Reactivate an API key",
			OperationID: "reactivateKey",
			Security:    &bearer,
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			Responses: newResponses("200", "Key reactivated", objectSchema(map[string]*openapi3.Schema{
				"id":        stringSchema(""),
				"is_active": boolSchema(),
			})),
		},
	})

	doc.Paths.Set("/api/v1/system/key/{keyID}/usage", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Usage stats for any key",
			OperationID: "keyUsage",
			Security:    &bearer,
			Parameters: openapi3.Parameters{
				pathParam("keyID"),
				queryParam("days", "Trailing window in days, default 30", intSchema()),
			},
			Responses: newResponses("200", "Usage summary", refSchemaValue("#/components/schemas/UsageSummary")),
		},
	})

	doc.Paths.Set("/api/v1/system/admin", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "List operator accounts",
			OperationID: "listAdmins",
			Security:    &bearer,
			Responses:   newResponses("200", "Admins", listSchema("")),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Create an operator account",
			OperationID: "createAdmin",
			Security:    &bearer,
			RequestBody: jsonBody("Account attributes", objectSchema(map[string]*openapi3.Schema{
				"email":    stringSchema(""),
				"password": stringSchema("Minimum 8 characters"),
				"name":     stringSchema(""),
			})),
			Responses: newResponses("201", "Admin created", objectSchema(nil)),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	apiKey := openapi3.SecurityRequirements{{"apiKey": {}}}

	doc.Paths.Set("/api/v1/key/validate", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"key"},
			Summary:     "Validate the calling key",
			Description: "Consumes one call of the key's daily quota, like every key-authenticated request.",
			OperationID: "validateKey",
			Security:    &apiKey,
			Responses: newResponses("200", "Key is valid", objectSchema(map[string]*openapi3.Schema{
				"valid":       boolSchema(),
				"key_id":      stringSchema(""),
				"owner_id":    stringSchema(""),
				"plan":        stringSchema(""),
				"daily_quota": intSchema(),
				"used_today":  intSchema(),
			})),
		},
	})

	doc.Paths.Set("/api/v1/key/usage", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"key"},
			Summary:     "Usage stats for the calling key",
			OperationID: "selfUsage",
			Security:    &apiKey,
			Parameters: openapi3.Parameters{
				queryParam("days", "Trailing window in days, default 30", intSchema()),
			},
			Responses: newResponses("200", "Usage summary", refSchemaValue("#/components/schemas/UsageSummary")),
		},
	})
}

// ─── Schema builders ────────────────────────────────────────────────────────

func apiKeySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":           {Value: stringSchema("")},
				"owner_id":     {Value: stringSchema("")},
				"key_prefix":   {Value: stringSchema("Display prefix of the secret")},
				"name":         {Value: stringSchema("")},
				"plan":         {Value: stringSchema("")},
				"daily_quota":  {Value: intSchema()},
				"is_active":    {Value: boolSchema()},
				"created_at":   {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
				"last_used_at": {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
			},
		},
	}
}

func usageSummarySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"key_id":         {Value: stringSchema("")},
				"window_days":    {Value: intSchema()},
				"total_calls":    {Value: intSchema()},
				"tokens_in":      {Value: intSchema()},
				"tokens_out":     {Value: intSchema()},
				"avg_latency_ms": {Value: &openapi3.Schema{Type: &openapi3.Types{"number"}}},
				"calls_today":    {Value: intSchema()},
				"by_endpoint":    {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
				"truncated":      {Value: boolSchema()},
			},
		},
	}
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func stringSchema(desc string) *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}
}

func intSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"integer"}}
}

func boolSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"boolean"}}
}

func objectSchema(props map[string]*openapi3.Schema) *openapi3.SchemaRef {
	schemas := openapi3.Schemas{}
	for name, s := range props {
		schemas[name] = &openapi3.SchemaRef{Value: s}
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: schemas,
		},
	}
}

func refSchemaValue(ref string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef(ref, nil)
}

func listSchema(itemRef string) *openapi3.SchemaRef {
	items := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	if itemRef != "" {
		items = openapi3.NewSchemaRef(itemRef, nil)
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: items,
					},
				},
				"meta": metaSchema(),
			},
		},
	}
}

func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}},
				},
			},
		},
	}
}

func queryParam(name, desc string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "query",
			Description: desc,
			Schema:      &openapi3.SchemaRef{Value: schema},
		},
	}
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   &openapi3.SchemaRef{Value: stringSchema("")},
		},
	}
}

func jsonBody(desc string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: desc,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"404": "Not found",
		"429": "Daily quota exceeded",
		"503": "Store unavailable",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// ─── HTTP handler ───────────────────────────────────────────────────────────

// Handler serves the generated document. Generation runs once, on first
// request.
type Handler struct {
	once sync.Once
	body []byte
	err  error
}

// NewHandler creates a Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// ServeSpec writes the OpenAPI document as JSON.
// GET /openapi.json
func (h *Handler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = json.Marshal(Generate())
	})
	if h.err != nil {
		http.Error(w, "failed to generate spec", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.body)
}
