// Package template expands environment references in DTC attribute values.
//
// Store specs usually carry connection settings that should not be
// committed alongside the transform definition:
//
//	Stores:
//	  - Type: Store:Postgres
//	    Name: blocks
//	    DSN: ${FEATUREFLOW_PG_DSN}
//
// The schema loader runs an Expander over the connection attributes of
// every store spec before the backend is opened.
package template
