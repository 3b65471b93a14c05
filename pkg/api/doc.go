// Package api is the HTTP surface of the billing engine. Handlers stay
// thin: they validate input, call the domain services, and translate
// sentinel errors into status codes. One handler group per domain, each
// registering its own routes.
package api
