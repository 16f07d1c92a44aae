// Package batch runs a tool operation over several message ids and reports
// partial failures in one JSON document.
package batch
