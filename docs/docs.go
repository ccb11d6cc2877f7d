// Package docs holds the Swagger description of the engine API.
// Regenerate with: swag init -g server/main.go
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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/trips": {
            "get": {"tags": ["trips"], "summary": "List trips", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["trips"], "summary": "Provision a trip", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "Already provisioned"}, "201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/trips/{tripId}": {
            "get": {"tags": ["trips"], "summary": "Get a trip", "parameters": [{"type": "string", "name": "tripId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/trips/{tripId}/seats": {
            "get": {"tags": ["seats"], "summary": "Seat map of a trip", "parameters": [{"type": "string", "name": "tripId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/trips/{tripId}/seats/{seatNumber}": {
            "get": {"tags": ["seats"], "summary": "One seat of a trip", "parameters": [{"type": "string", "name": "tripId", "in": "path", "required": true}, {"type": "integer", "name": "seatNumber", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/trips/{tripId}/stream": {
            "get": {"tags": ["realtime"], "summary": "Server-sent seat and booking deltas", "produces": ["text/event-stream"], "parameters": [{"type": "string", "name": "tripId", "in": "path", "required": true}], "responses": {"200": {"description": "Event stream"}}}
        },
        "/trips/{tripId}/manifest": {
            "get": {"tags": ["boarding"], "summary": "Bookings on a trip", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/bookings": {
            "post": {"tags": ["bookings"], "summary": "Claim seats for a booking", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "Idempotency-Key", "in": "header"}], "responses": {"200": {"description": "Duplicate request"}, "201": {"description": "Created"}, "409": {"description": "Seats unavailable"}}}
        },
        "/bookings/{id}": {
            "get": {"tags": ["bookings"], "summary": "Get a booking", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/bookings/{id}/confirm": {
            "post": {"tags": ["bookings"], "summary": "Confirm a held booking", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition or expired hold"}}}
        },
        "/bookings/{id}/cancel": {
            "post": {"tags": ["bookings"], "summary": "Cancel a booking and release its seats", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}
        },
        "/bookings/{id}/refund": {
            "post": {"tags": ["bookings"], "summary": "Refund a cancelled or no-show booking", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}
        },
        "/bookings/{id}/reschedule": {
            "post": {"tags": ["bookings"], "summary": "Move a confirmed booking to other seats", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Seats unavailable or concurrent modification"}}}
        },
        "/bookings/{id}/check-in": {
            "post": {"tags": ["boarding"], "summary": "Board a confirmed booking", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}
        },
        "/bookings/{id}/no-show": {
            "post": {"tags": ["boarding"], "summary": "Mark a confirmed booking as no-show", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/bookings/{id}/release-seats": {
            "post": {"tags": ["boarding"], "summary": "Free the seats of a no-show booking", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/check-in": {
            "post": {"tags": ["boarding"], "summary": "Board by ticket reference", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/admin/trips/{tripId}/status": {
            "post": {"tags": ["admin"], "summary": "Change a trip's status", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/admin/trips/{tripId}/seats/block": {
            "post": {"tags": ["admin"], "summary": "Take seats out of sale", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Seats unavailable"}}}
        },
        "/admin/trips/{tripId}/seats/unblock": {
            "post": {"tags": ["admin"], "summary": "Return blocked seats to sale", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Seats unavailable"}}}
        },
        "/admin/trips/{tripId}/reconcile": {
            "post": {"tags": ["admin"], "summary": "Repair booking and seat disagreement on a trip", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Tripseat Engine API",
	Description:      "Seat inventory and booking engine for scheduled trips.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
