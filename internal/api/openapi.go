package api

import (
	"github.com/JaimeStill/envoy/internal/config"
	"github.com/JaimeStill/envoy/pkg/openapi"
)

func buildSpec(cfg *config.Config) *openapi.Spec {
	spec := openapi.NewSpec(cfg.API.OpenAPI.Title, cfg.Version)
	spec.SetDescription(cfg.API.OpenAPI.Description)
	spec.AddServer(cfg.API.BasePath)

	spec.Components.AddSchemas(map[string]*openapi.Schema{
		"Profile": {
			Type:     "object",
			Required: []string{"user_id"},
			Properties: map[string]*openapi.Schema{
				"user_id":           {Type: "string"},
				"titles":            {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"keywords":          {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"excluded_keywords": {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"locations":         {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"min_salary":        {Type: "number"},
				"work_type":         {Type: "string", Enum: []any{"remote", "hybrid", "onsite", "any"}},
				"base_document":     {Type: "string", Format: "uuid", Description: "Defaults to the user's latest upload"},
				"contact":           {Type: "string"},
				"paused":            {Type: "boolean"},
			},
		},
		"RunSummary": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":              {Type: "string", Format: "uuid"},
				"status":          {Type: "string", Enum: []any{"running", "suspended", "terminal", "failed"}},
				"outcome":         {Type: "string"},
				"next_stage":      {Type: "string"},
				"discovered":      {Type: "integer"},
				"accepted":        {Type: "integer"},
				"submitted":       {Type: "integer"},
				"errors":          {Type: "integer"},
				"threshold":       {Type: "number"},
				"gate_token":      {Type: "string"},
				"gate_expires_at": {Type: "string", Format: "date-time"},
			},
		},
		"RunPage": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"data":        {Type: "array", Items: openapi.SchemaRef("RunSummary")},
				"total":       {Type: "integer"},
				"page":        {Type: "integer"},
				"page_size":   {Type: "integer"},
				"total_pages": {Type: "integer"},
			},
		},
		"GateDecision": {
			Type:     "object",
			Required: []string{"decision"},
			Properties: map[string]*openapi.Schema{
				"decision": {Type: "string", Enum: []any{"approve", "reject"}},
				"feedback": {Type: "string"},
			},
		},
		"ThresholdPolicy": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"threshold":  {Type: "number"},
				"floor":      {Type: "number"},
				"ceiling":    {Type: "number"},
				"rationale":  {Type: "string"},
				"updated_at": {Type: "string", Format: "date-time"},
			},
		},
		"StatusCommand": {
			Type:     "object",
			Required: []string{"status"},
			Properties: map[string]*openapi.Schema{
				"status": {Type: "string", Enum: []any{"submitted", "viewed", "interview", "offer", "rejected", "accepted", "declined", "withdrawn"}},
				"notes":  {Type: "string"},
			},
		},
	})

	spec.Components.AddResponses(map[string]*openapi.Response{
		"TooLarge": {
			Description: "Upload exceeds the configured size limit",
			Content: map[string]*openapi.MediaType{
				"application/json": {Schema: openapi.SchemaRef("Error")},
			},
		},
	})

	summary := openapi.ResponseJSON("Run summary", "RunSummary")
	token := &openapi.Parameter{
		Name:     "token",
		In:       "path",
		Required: true,
		Schema:   &openapi.Schema{Type: "string"},
	}

	spec.Paths["/runs"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List runs",
			Tags:    []string{"Runs"},
			Parameters: []*openapi.Parameter{
				openapi.QueryParam("status", "string", "Filter by status", false),
				openapi.QueryParam("user_id", "string", "Filter by user", false),
			},
			Responses: map[int]*openapi.Response{200: openapi.ResponseJSON("Paged run summaries", "RunPage")},
		},
		Post: &openapi.Operation{
			Summary:     "Start a run",
			Description: "Runs until the first approval gate or completion.",
			Tags:        []string{"Runs"},
			RequestBody: openapi.RequestBodyJSON("Profile", true),
			Responses: map[int]*openapi.Response{
				201: summary,
				400: openapi.ResponseRef("BadRequest"),
			},
		},
	}
	spec.Paths["/runs/{id}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "Full run state",
			Tags:       []string{"Runs"},
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Run ID")},
			Responses: map[int]*openapi.Response{
				200: {Description: "Run state snapshot"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}
	spec.Paths["/runs/{id}/resume"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Re-evaluate a suspended run",
			Tags:       []string{"Runs"},
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Run ID")},
			Responses: map[int]*openapi.Response{
				200: summary,
				404: openapi.ResponseRef("NotFound"),
				409: openapi.ResponseRef("Conflict"),
			},
		},
	}
	spec.Paths["/runs/{id}/cancel"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Cancel a run",
			Tags:       []string{"Runs"},
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Run ID")},
			Responses: map[int]*openapi.Response{
				204: {Description: "Cancelled"},
				409: openapi.ResponseRef("Conflict"),
			},
		},
	}
	spec.Paths["/runs/sweep"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:   "Expire overdue gates",
			Tags:      []string{"Runs"},
			Responses: map[int]*openapi.Response{200: {Description: "Number of expired gates"}},
		},
	}
	spec.Paths["/gates/{token}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "Resolve a gate by link",
			Tags:    []string{"Gates"},
			Parameters: []*openapi.Parameter{
				token,
				openapi.QueryParam("decision", "string", "approve or reject", true),
				openapi.QueryParam("feedback", "string", "Reviewer feedback", false),
			},
			Responses: map[int]*openapi.Response{
				200: summary,
				404: openapi.ResponseRef("NotFound"),
				410: openapi.ResponseRef("Gone"),
			},
		},
		Post: &openapi.Operation{
			Summary:     "Resolve a gate",
			Tags:        []string{"Gates"},
			Parameters:  []*openapi.Parameter{token},
			RequestBody: openapi.RequestBodyJSON("GateDecision", true),
			Responses: map[int]*openapi.Response{
				200: summary,
				400: openapi.ResponseRef("BadRequest"),
				404: openapi.ResponseRef("NotFound"),
				410: openapi.ResponseRef("Gone"),
			},
		},
	}
	spec.Paths["/policy"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:   "Current threshold policy",
			Tags:      []string{"Policy"},
			Responses: map[int]*openapi.Response{200: openapi.ResponseJSON("Threshold policy", "ThresholdPolicy")},
		},
	}
	spec.Paths["/documents"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary: "Upload a base resume",
			Tags:    []string{"Documents"},
			RequestBody: &openapi.RequestBody{
				Required: true,
				Content: map[string]*openapi.MediaType{
					"multipart/form-data": {Schema: &openapi.Schema{
						Type:     "object",
						Required: []string{"user_id", "file"},
						Properties: map[string]*openapi.Schema{
							"user_id": {Type: "string"},
							"name":    {Type: "string"},
							"file":    {Type: "string", Format: "binary", Description: "Text, markdown, HTML, JSON, or PDF"},
						},
					}},
				},
			},
			Responses: map[int]*openapi.Response{
				201: {Description: "Document registered"},
				400: openapi.ResponseRef("BadRequest"),
				413: openapi.ResponseRef("TooLarge"),
			},
		},
	}
	spec.Paths["/applications/{id}/status"] = &openapi.PathItem{
		Put: &openapi.Operation{
			Summary:     "Record an application response",
			Tags:        []string{"Applications"},
			Parameters:  []*openapi.Parameter{openapi.PathParam("id", "Application ID")},
			RequestBody: openapi.RequestBodyJSON("StatusCommand", true),
			Responses: map[int]*openapi.Response{
				200: {Description: "Updated application"},
				404: openapi.ResponseRef("NotFound"),
				409: openapi.ResponseRef("Conflict"),
			},
		},
	}
	spec.Paths["/prompts/stages/{stage}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "Effective prompt for a stage",
			Tags:    []string{"Prompts"},
			Parameters: []*openapi.Parameter{{
				Name:     "stage",
				In:       "path",
				Required: true,
				Schema:   &openapi.Schema{Type: "string", Enum: []any{"score", "tailor"}},
			}},
			Responses: map[int]*openapi.Response{
				200: {Description: "Instructions in force, output spec, and active override"},
				400: openapi.ResponseRef("BadRequest"),
			},
		},
	}

	return spec
}
