// Package settings holds the hub's runtime-editable settings.
//
// Each collaborator registers a module of typed fields at startup:
//
//	store.RegisterModule(ctx, "wifi",
//	    settings.TupleList("to_track", []string{"name", "mac"}, nil),
//	)
//
// Values survive restarts through a Repository (SQLite in production) and
// can be changed from the HTTP API. Every accepted change is published on the
// bus as config.changed carrying an events.ConfigChangedEvent, so modules
// react without polling.
//
// Stored values whose type no longer matches the declaration (after a field
// changed kind, say) are ignored and the default is used.
package settings
