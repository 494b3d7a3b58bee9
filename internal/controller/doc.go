// Package controller keeps an editing surface synchronized with language
// servers.
//
// A Controller owns the surface's virtual document tree. Every document in
// the tree moves through four phases:
//
//	uninitialized -> connecting -> connected -> disposed
//
// A document is connected once the connection manager handed it a ready
// connection, its full text was sent as didOpen and its feature bundle was
// built. Later changes are sent as full-text didChange notifications from
// the updating goroutine, and the bundle's AfterChange hooks run once the
// update has finished.
//
// Changing the surface path or language, or reloading it, discards the
// tree and every connection and starts over. Disposing the surface disposes
// the controller.
package controller
