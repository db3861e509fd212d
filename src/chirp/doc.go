// Package chirp wires the components of a node together: it loads the node
// directory, opens the event log and the state store, binds the TCP
// transport, builds the node and its shell, and optionally starts the HTTP
// inspection service.
package chirp
