// Package observability builds the service's structured logger and tracer provider.
package observability
