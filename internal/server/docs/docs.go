// Package docs holds the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Kansa Maintainers",
            "url": "https://github.com/raysh454/kansa"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/tenants": {
            "get": {
                "produces": ["application/json"],
                "tags": ["tenants"],
                "summary": "List tenants",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tenants"],
                "summary": "Register a tenant",
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/server.CreateTenantRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/tenants/{tenant}": {
            "get": {
                "tags": ["tenants"],
                "summary": "Get a tenant",
                "parameters": [{"type": "string", "name": "tenant", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["tenants"],
                "summary": "Delete a tenant and its runs",
                "parameters": [{"type": "string", "name": "tenant", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Runs in progress", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/tenants/{tenant}/assessments": {
            "post": {
                "consumes": ["application/json"],
                "tags": ["runs"],
                "summary": "Start an assessment run",
                "parameters": [
                    {"type": "string", "name": "tenant", "in": "path", "required": true},
                    {"in": "body", "name": "body", "schema": {"$ref": "#/definitions/server.StartRunRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "503": {"description": "Queue full", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/tenants/{tenant}/inventory": {
            "post": {
                "consumes": ["application/json"],
                "tags": ["runs"],
                "summary": "Start an inventory run",
                "parameters": [
                    {"type": "string", "name": "tenant", "in": "path", "required": true},
                    {"in": "body", "name": "body", "schema": {"$ref": "#/definitions/server.StartRunRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "503": {"description": "Queue full", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/tenants/{tenant}/runs": {
            "get": {
                "tags": ["runs"],
                "summary": "List a tenant's runs, newest first",
                "parameters": [
                    {"type": "string", "name": "tenant", "in": "path", "required": true},
                    {"type": "string", "name": "kind", "in": "query", "enum": ["assessment", "inventory"]},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/assessments/{id}": {
            "get": {
                "tags": ["runs"],
                "summary": "Get an assessment run with its domain units",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "tags": ["runs"],
                "summary": "Cancel an assessment run",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted"}}
            }
        },
        "/assessments/{id}/progress": {
            "get": {
                "tags": ["runs"],
                "summary": "Live progress of an assessment run",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/assessments/{id}/findings": {
            "get": {
                "tags": ["runs"],
                "summary": "Findings of an assessment run, most severe first",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "domain", "in": "query"},
                    {"type": "string", "name": "severity", "in": "query"},
                    {"type": "boolean", "name": "noncompliant", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/assessments/{id}/report": {
            "get": {
                "tags": ["runs"],
                "summary": "Finalized assessment report",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Run not finished"}}
            }
        },
        "/inventory/{id}": {
            "get": {
                "tags": ["runs"],
                "summary": "Get an inventory run with its domain snapshots",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "tags": ["runs"],
                "summary": "Cancel an inventory run",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted"}}
            }
        },
        "/inventory/{id}/drift": {
            "get": {
                "tags": ["runs"],
                "summary": "Drift against an earlier inventory run",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "base", "in": "query"},
                    {"type": "string", "name": "domain", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ws/runs/{id}": {
            "get": {
                "tags": ["runs"],
                "summary": "WebSocket stream of progress events",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "server.CreateTenantRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "Contoso"},
                "directory_id": {"type": "string"},
                "client_id": {"type": "string", "example": "demo-client"},
                "client_secret": {"type": "string", "example": "demo-secret"},
                "endpoint": {"type": "string"}
            }
        },
        "server.StartRunRequest": {
            "type": "object",
            "properties": {
                "domains": {"type": "array", "items": {"type": "string"}},
                "initiated_by": {"type": "string"}
            }
        },
        "server.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "run not found"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Kansa API",
	Description:      "Tenant security assessment and directory inventory runs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
