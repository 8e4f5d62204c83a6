// Package api exposes the HTTP shell around the agent: the Twilio WhatsApp
// webhook, a JWT protected JSON API, health and metrics endpoints.
package api
