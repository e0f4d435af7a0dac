// Moderation component holding the per-chat configuration and live counters (warn counts, flood windows), plus the seen-user and seen-group sets used for stats.
//
// The in-process Store is the single writer of truth. Durability is delegated to a Backend: a JSON document on local disk, redis, or a SQL database (sqlite or postgres).
//
// Storage failures never block moderation: a missing or corrupt document loads as an empty store, and failed writes are logged and counted rather than returned.
package chatstore
