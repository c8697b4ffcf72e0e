// Package docs registers the hub's OpenAPI document with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/capture": {
            "post": {
                "produces": ["application/json"],
                "tags": ["capture"],
                "summary": "Request a capture",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.TriggerResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/capture/next": {
            "get": {
                "produces": ["application/json"],
                "tags": ["device"],
                "summary": "Poll for capture work",
                "parameters": [
                    {"type": "integer", "description": "Highest capture seq the device has handled", "name": "since", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.CaptureNextResponse"}}
                }
            }
        },
        "/capture/ack": {
            "post": {
                "produces": ["application/json"],
                "tags": ["device"],
                "summary": "Acknowledge a capture request",
                "parameters": [
                    {"type": "string", "description": "Capture token", "name": "token", "in": "query"},
                    {"type": "integer", "description": "Capture seq", "name": "seq", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AckResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.AckResponse"}}
                }
            }
        },
        "/capture/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["capture"],
                "summary": "Capture request state",
                "parameters": [
                    {"type": "string", "description": "Capture token", "name": "token", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.StateResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/upload": {
            "post": {
                "consumes": ["image/jpeg", "multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["device"],
                "summary": "Upload a meter image",
                "parameters": [
                    {"type": "string", "description": "Capture token", "name": "token", "in": "query"},
                    {"type": "integer", "description": "Capture time, unix milliseconds", "name": "ts", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.UploadResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/errors.APIError"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/latest": {
            "get": {
                "produces": ["application/json"],
                "tags": ["artifacts"],
                "summary": "Latest artifact",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.LatestResponse"}}
                }
            }
        },
        "/latest.jpg": {
            "get": {
                "produces": ["image/jpeg"],
                "tags": ["artifacts"],
                "summary": "Latest image bytes",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/artifacts/{ref}": {
            "get": {
                "produces": ["image/jpeg"],
                "tags": ["artifacts"],
                "summary": "Image of a specific artifact",
                "parameters": [
                    {"type": "string", "description": "Artifact ref", "name": "ref", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/analyze": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["artifacts"],
                "summary": "Read a meter image",
                "parameters": [
                    {"type": "file", "description": "Meter image", "name": "image", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AnalysisResult"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/relay/activate": {
            "post": {
                "produces": ["application/json"],
                "tags": ["relay"],
                "summary": "Activate the relay",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.TriggerResponse"}}
                }
            }
        },
        "/relay/next": {
            "get": {
                "produces": ["application/json"],
                "tags": ["device"],
                "summary": "Poll for relay work",
                "parameters": [
                    {"type": "integer", "description": "Highest relay seq the device has handled", "name": "since", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.RelayNextResponse"}}
                }
            }
        },
        "/relay/ack": {
            "post": {
                "produces": ["application/json"],
                "tags": ["device"],
                "summary": "Report a finished relay activation",
                "parameters": [
                    {"type": "integer", "description": "Relay seq", "name": "seq", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AckResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.AckResponse"}}
                }
            }
        },
        "/relay/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["relay"],
                "summary": "Relay request state",
                "parameters": [
                    {"type": "integer", "description": "Relay seq", "name": "seq", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.StateResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["history"],
                "summary": "List request history",
                "parameters": [
                    {"type": "string", "description": "capture (default) or relay", "name": "kind", "in": "query"},
                    {"type": "integer", "description": "Offset for pagination", "name": "offset", "in": "query"},
                    {"type": "integer", "description": "Limit for pagination (max 200)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/errors.APIError"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Protocol metrics",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "errors.APIError": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "message": {"type": "string"},
                "code": {"type": "integer"},
                "request_id": {"type": "string"},
                "details": {}
            }
        },
        "models.TriggerResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "token": {"type": "string"},
                "seq": {"type": "integer"},
                "duration_ms": {"type": "integer"}
            }
        },
        "models.CaptureNextResponse": {
            "type": "object",
            "properties": {
                "capture": {"type": "boolean"},
                "seq": {"type": "integer"},
                "token": {"type": "string"}
            }
        },
        "models.RelayNextResponse": {
            "type": "object",
            "properties": {
                "activate": {"type": "boolean"},
                "seq": {"type": "integer"},
                "duration_ms": {"type": "integer"}
            }
        },
        "models.AckResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        },
        "models.StateResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "token": {"type": "string"},
                "seq": {"type": "integer"},
                "state": {"type": "string", "enum": ["REQUESTED", "ACKED", "PUBLISHED", "DONE", "TIMED_OUT"]},
                "ts_requested": {"type": "integer"},
                "ts_acked": {"type": "integer"},
                "ts_published": {"type": "integer"},
                "ts_completed": {"type": "integer"},
                "image_ts": {"type": "integer"},
                "image_url": {"type": "string"},
                "duration_ms": {"type": "integer"},
                "latest_ts": {"type": "integer"},
                "reason": {"type": "string"}
            }
        },
        "models.UploadResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "accepted": {"type": "boolean"},
                "ts": {"type": "integer"},
                "image_url": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "models.LatestResponse": {
            "type": "object",
            "properties": {
                "hasImage": {"type": "boolean"},
                "imageUrl": {"type": "string"},
                "result": {
                    "type": "object",
                    "properties": {
                        "ts": {"type": "integer"},
                        "reading": {"type": "string"},
                        "confidence": {"type": "number"}
                    }
                }
            }
        },
        "models.AnalysisResult": {
            "type": "object",
            "properties": {
                "reading": {"type": "string"},
                "confidence": {"type": "number"},
                "notes": {"type": "string"},
                "raw": {"type": "string"},
                "warning": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "meterhub API",
	Description:      "Capture-request handshake between operators, the hub and a polling meter camera.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
