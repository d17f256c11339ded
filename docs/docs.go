// Package docs registers the Read API's OpenAPI spec with swaggo/swag
// so gin-swagger can serve it. Normally generated by `swag init`; kept
// hand-authored here since the doc comments it reflects live in
// internal/api/router.go.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{.Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/orderbooks/{symbol}": {
            "get": {
                "summary": "Get a symbol's reconstructed order book",
                "parameters": [
                    {"type": "string", "name": "symbol", "in": "path", "required": true},
                    {"type": "integer", "name": "depth", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"},
                    "503": {"description": "Service Unavailable"}
                }
            }
        },
        "/symbols": {
            "get": {
                "summary": "List monitored symbols",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds the API metadata gin-swagger renders at /swagger/*any.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Depth Reconstructor Read API",
	Description:      "Local read-only API over reconstructed perpetual futures order books.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
