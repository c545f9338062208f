/*
Package hub routes telemetry_update, alert, and battery_status_update events
to live subscriber sessions. Subscribers join battery:{id} and site:{id}
rooms; a site room is an implicit fan-out over every battery the site owns.
Delivery is best-effort per subscriber (bounded queue, drop-oldest) but
globally ordered per battery, since a single dispatch loop serializes
publishes.
*/
package hub
