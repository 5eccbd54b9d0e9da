// Package thing is the host-side model of tfbridge.
//
// A Thing is a configured device instance (a Tinkerforge bricklet, a brickd
// bridge, a TP-Link switch) addressed by its ID. Each thing exposes named
// channels. Handlers in the bridge packages drive a thing and report
// through a Callback:
//
//   - status updates (StatusInfo: ONLINE, OFFLINE with a detail, ...)
//   - typed channel states (QuantityType, DecimalType, OpenClosedType, ...)
//   - trigger events on trigger channels (PRESSED, RELEASED)
//
// Commands flow the other way as typed Command values (OnOffType,
// DecimalType, REFRESH, ...).
//
// # Persistence
//
// Things, their channel links, last status and last channel states are
// stored in SQLite by SQLiteRepository and cached by Registry. Every
// published state is also appended to the state_history table.
//
//	repo := thing.NewSQLiteRepository(db.DB)
//	registry := thing.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// Registry is safe for concurrent use. State and Command values are
// immutable.
package thing
