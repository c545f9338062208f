/*
Package types defines the domain model shared across the telemetry service:
sites, systems, strings, and batteries that make up the physical hierarchy;
the immutable telemetry sample; users and their roles; alerts and their
lifecycle; and the session/token bookkeeping types. Every other package
builds on these types rather than defining its own.
*/
package types
