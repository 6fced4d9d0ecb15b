// Package scgi is a client for the Cybro SCGI server, the HTTP gateway that
// fronts CyBro PLCs on a local network.
//
// The server answers GET requests whose query string is a list of fully
// qualified variable names:
//
//	GET /?c1000.scan_time&c1000.th00_temperature
//
//	<data>
//	  <var><name>c1000.scan_time</name><value>12</value><description>Last scan time [ms]</description></var>
//	  <var><name>c1000.th00_temperature</name><value>215</value><description>Room</description></var>
//	</data>
//
// A value of "?" means the server does not know the variable.
//
// The client exposes two operations:
//
//   - Update fetches a Device snapshot, either in full (server info, PLC
//     info, allocation file and every tracked variable) or incrementally
//     (tracked variables only).
//   - AddVar registers a variable so that future updates fetch it.
//
// Snapshots are immutable once returned; each Update builds a new Device.
//
// Thread Safety: Client methods are safe for concurrent use.
package scgi
