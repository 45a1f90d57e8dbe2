// Package sse implements the legacy HTTP+SSE MCP transport.
//
// A client opens GET /sse and receives an "endpoint" event naming the URL
// to POST its messages to (/message?sessionId=<id>). Every response the
// server produces for that session is written to the open stream as a
// "message" event. POSTs are acknowledged with 202 Accepted before the
// request is processed.
//
// Requests within one session are handled in arrival order. Shutdown ends
// every open stream with a "close" event once the request being handled,
// if any, has been answered.
package sse
