// Package core provides the domain models and collaborator interfaces for
// the harvest pipeline.
package core
