// Package storage re-exports the storage boundaries for the adapters under it.
package storage

import (
	"github.com/tjfontaine/gamestats/internal/core/domain"
	corestorage "github.com/tjfontaine/gamestats/internal/core/ports"
)

type (
	DocumentStore    = corestorage.DocumentStore
	AuditStore       = corestorage.AuditStore
	AuditListOptions = corestorage.AuditListOptions
	QueryAudit       = domain.QueryAudit
)

// DefaultListLimit applies when a list call does not set a limit.
const DefaultListLimit = 100
