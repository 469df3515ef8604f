// Package staging maps asset names to local archives and extraction
// directories under the downloads root.
//
// Extraction happens at most once per directory: a present directory is
// treated as complete because archives are unpacked into a temporary sibling
// and renamed into place. Stage never downloads; Fetch is the explicit
// download step.
package staging
