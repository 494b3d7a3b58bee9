// Package virtualdoc decomposes a multi-buffer editing surface into
// single-language virtual documents.
//
// A Tree holds one host document built from the surface buffers of the host
// language, joined with blank lines. Extractor rules find code of other
// languages inside a document (a %%R cell magic in Python, a <script> block
// in HTML) and move it into foreign child documents, recursively. Extracted
// regions are blanked in their host so line and column numbers in the host
// match the buffers.
//
// # Identity
//
// Documents are identified by an ID path that is unique within a tree:
//
//	nb#py         host document of surface "nb"
//	nb#py.r       all R code found in the host
//	nb#py.sql-2   second standalone SQL block
//
// Structural events (rename, language change, reload) are handled by
// disposing the tree and building a new one; IDs are never rewritten.
//
// # Signals
//
// Each Document exposes Changed, ForeignOpened and ForeignClosed. During one
// recomputation of a document the order is:
//
//  1. ForeignClosed for every child that disappeared (the child is disposed first)
//  2. recomputation of surviving children, with their own signals
//  3. ForeignOpened for every new child, once its value is available
//  4. Changed for the document itself, if its value changed
//
// New children are built silently; a subscriber reacting to ForeignOpened
// should also visit the new child's own children.
//
// # Positions
//
// Mapper converts between buffer positions (editor.Position), positions in
// a virtual document (Position) and window coordinates. Columns are UTF-16
// code units throughout.
package virtualdoc
