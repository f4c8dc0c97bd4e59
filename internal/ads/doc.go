// Package ads holds the core of the bot: the per-admin ad configuration
// store and the broadcast task manager that runs one cancellable repeating
// send loop per authenticated admin.
package ads
