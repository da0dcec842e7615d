// Package source defines the interface that marketplace item-lookup clients
// (eBay Browse, test stubs) implement, and a registry that maps the source
// name stored on a watch item to the client that refreshes it.
package source
