// Package httpapi is the control plane's REST front-end (spec
// §4.10/§13): it translates external HTTP calls into Controller and
// IngestRequestManager operations, auths each route per its declared
// level, and renders every response as the shared
// {success, error, error_ext, warning, ...} envelope.
package httpapi
