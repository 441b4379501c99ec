// Package server hosts the Fiber HTTP service for the image provider: the
// request-id middleware, the /api/imageprovider endpoints that hand out random
// images and redirect links, and the JSON error envelope shared by them.
// Diagnostics endpoints live in the routes subpackage so main can decide
// whether to expose them. Keep exports narrow and accept explicit dependencies.
package server
