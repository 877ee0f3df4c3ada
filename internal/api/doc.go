// Package api exposes the REST surface of the service: provider smoke
// tests, agent discovery, asynchronous task management, the synchronous
// workflow endpoint and token issuance.
package api
