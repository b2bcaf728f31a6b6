// Package site resolves the origin and base path of the published site from
// an environment snapshot. Builds running under continuous integration are
// served from the repository sub-path on GitHub Pages; every other build is
// served from the root.
package site
