// Package translate implements the LocaleTranslator contract the Build
// Scheduler and Lifecycle Coordinator use for the user-facing status
// messages they attach to Status Controller updates (rank broadcasts,
// build-failure reasons). Message catalogs are built with
// golang.org/x/text/message/catalog so translations can be added per
// locale without touching call sites.
package translate

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key names the canonical translation keys this core ever formats. Callers
// pass one of these, never a raw string. Nothing checks that a Key has a
// catalog entry: an unregistered key renders as the key name itself (see
// GetTranslation).
type Key string

const (
	KeyBuildRank             Key = "projectStatusController.buildRank"
	KeyBuildStarted          Key = "projectStatusController.buildStarted"
	KeyBuildFailMissingFile  Key = "buildscripts.buildFailMissingFile"
	KeyProjectDeletionFailed Key = "projectDeletion.failed"
)

// LocaleTranslator resolves a translation key plus positional parameters to
// a localized, formatted message.
type LocaleTranslator interface {
	GetTranslation(key Key, params ...any) string
}

// Catalog is the default LocaleTranslator, backed by an x/text message
// catalog with a fixed locale (no per-request locale negotiation: this
// core has no end-user-facing UI of its own, only status strings
// surfaced through handlers to tooling that is itself localized).
type Catalog struct {
	printer *message.Printer
}

// NewCatalog builds the default English catalog used for the known keys.
func NewCatalog() *Catalog {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))

	must(builder.SetString(language.English, string(KeyBuildRank), "Queued, rank %[1]v"))
	must(builder.SetString(language.English, string(KeyBuildStarted), "Build started"))
	must(builder.SetString(language.English, string(KeyBuildFailMissingFile), "Build failed: required file missing"))
	must(builder.SetString(language.English, string(KeyProjectDeletionFailed), "Deletion failed: %[1]v"))

	return &Catalog{printer: message.NewPrinter(language.English, message.Catalog(builder))}
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("translate: invalid catalog entry: %v", err))
	}
}

// GetTranslation formats key with params using the registered catalog
// entry. An unregistered key falls back to rendering the key name itself,
// so a caller never sees an empty status message.
func (c *Catalog) GetTranslation(key Key, params ...any) string {
	return c.printer.Sprintf(string(key), params...)
}

var _ LocaleTranslator = (*Catalog)(nil)
