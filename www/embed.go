// Package www holds the pages and scripts served by the gateway.
//
// HTML files at the top level are templates: the gateway replaces
// {{NAME}} placeholders before sending them.
package www

import "embed"

// FS holds the page templates and the js, css and img trees.
//
//go:embed *.html js css img
var FS embed.FS
