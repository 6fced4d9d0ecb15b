// Package entity turns PLC variables into typed sensor and binary-sensor
// entities.
//
// Three concerns live here:
//
//   - Classification: Classify scans the known variable names of one PLC and
//     applies naming-convention rules (system diagnostics, temperatures,
//     weather station, power meter, configured extras) to decide which
//     variables become entities and with which unit, scaling factor, device
//     class and device group.
//
//   - Read path: Sensor and BinarySensor look their variable up in the
//     latest snapshot of a DataSource on every read. A variable that is
//     absent, or a poll that failed, makes the entity unavailable; it is
//     never an error.
//
//   - Registry: Registry persists one record per entity in SQLite together
//     with a bounded state-change history.
//
// Example:
//
//	descs := entity.Classify(entity.ClassifierOptions{NAD: 1000}, dev.KnownVarNames())
//	entities := entity.NewEntities(descs, coord, client)
//	for _, e := range entities {
//	    fmt.Println(e.UniqueID(), e.State().Value)
//	}
package entity
