// Package reconcile implements the EventReconciler component.
//
// Inbound events are dispatched by type to a reconciliation function and
// merged into canonical state under per-entity rules:
//   - location_update: last-write-wins by event timestamp per order
//   - order_status_change: append-only log, never deduplicated
//   - message_received / system_alert / courier_assignment / eta_update /
//     notification_push: deduplicated by id against backend re-delivery
//
// Malformed events are dropped, counted, and reported to the health tracker;
// they never corrupt the entity log they target.
package reconcile
