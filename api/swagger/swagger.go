package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA ADP Assistant API",
        "description": "Conversational assistant over the school records database",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Chat", "description": "Conversational turns and context stack"},
        {"name": "Certificates", "description": "Signed certificate downloads"},
        {"name": "Observability", "description": "Metrics snapshot"}
    ],
    "paths": {
        "/chat/sessions": {
            "post": {
                "tags": ["Chat"],
                "summary": "Open a conversation",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/chat/sessions/{id}": {
            "delete": {
                "tags": ["Chat"],
                "summary": "Clear the conversation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/chat/sessions/{id}/messages": {
            "post": {
                "tags": ["Chat"],
                "summary": "Send a message to the assistant",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SendMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/chat/sessions/{id}/context": {
            "get": {
                "tags": ["Chat"],
                "summary": "Inspect the conversation stack",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/chat/sessions/{id}/context/export": {
            "get": {
                "tags": ["Chat"],
                "summary": "Export a stack level as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "level", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "CSV file"}
                }
            }
        },
        "/certificates/{token}": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Download a certificate",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF file"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SendMessageRequest": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "attachment_path": {"type": "string"}
            },
            "required": ["message"]
        },
        "TurnResponse": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "reply": {"type": "string"},
                "status": {"type": "string", "enum": ["ok", "clarification", "no_results", "error", "transient_error", "rejected", "cancelled"]},
                "category": {"type": "string"},
                "action": {"type": "string"},
                "row_count": {"type": "integer"},
                "data": {"type": "array", "items": {"type": "object"}},
                "sql": {"type": "string"},
                "clarification_needed": {"type": "boolean"},
                "candidates": {"type": "array", "items": {"type": "object"}},
                "context_depth": {"type": "integer"},
                "certificate": {"type": "object"},
                "error_code": {"type": "string"},
                "latency_ms": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
