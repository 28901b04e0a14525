// Package dedupe remembers recently delivered webhook events so that a
// redelivery of the same (app, shop, event id) is acknowledged without being
// dispatched to the app again.
package dedupe
